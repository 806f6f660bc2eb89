// Package numfmt is the number-separator policy used to parse numeric text
// from sources and to format preview values.
//
// A Policy is a plain value injected where it is needed; there is no
// process-wide locale state.
package numfmt

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Policy controls numeric parsing and formatting.
type Policy struct {
	// Locale selects localized output for FormatInt/FormatReal. language.Und
	// (the zero value) keeps plain "%d"/"%f" output.
	Locale language.Tag
	// Decimal is the decimal separator expected in source text. Zero means '.'.
	Decimal rune
	// Thousands is the grouping separator stripped from source text. Zero
	// means no grouping is expected.
	Thousands rune
}

// Default is '.' decimals, no grouping and unlocalized output.
func Default() Policy {
	return Policy{Locale: language.Und, Decimal: '.'}
}

// New builds a Policy from configuration strings. Empty strings keep the
// defaults.
func New(locale, decimal, thousands string) (Policy, error) {
	p := Default()
	if strings.TrimSpace(locale) != "" {
		tag, err := language.Parse(locale)
		if err != nil {
			return p, fmt.Errorf("numfmt: locale %q: %w", locale, err)
		}
		p.Locale = tag
	}
	if decimal != "" {
		r, err := singleRune(decimal)
		if err != nil {
			return p, fmt.Errorf("numfmt: decimal separator: %w", err)
		}
		p.Decimal = r
	}
	if thousands != "" {
		r, err := singleRune(thousands)
		if err != nil {
			return p, fmt.Errorf("numfmt: thousands separator: %w", err)
		}
		p.Thousands = r
	}
	if p.Thousands != 0 && p.Thousands == p.decimal() {
		return p, fmt.Errorf("numfmt: decimal and thousands separators are both %q", p.Thousands)
	}
	return p, nil
}

func singleRune(s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("want exactly one character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

func (p Policy) decimal() rune {
	if p.Decimal == 0 {
		return '.'
	}
	return p.Decimal
}

func (p Policy) normalize(s string) string {
	s = strings.TrimSpace(s)
	if p.Thousands != 0 {
		s = strings.ReplaceAll(s, string(p.Thousands), "")
	}
	if d := p.decimal(); d != '.' {
		s = strings.ReplaceAll(s, string(d), ".")
	}
	return s
}

// ParseInt parses s as a base-10 64-bit integer after stripping grouping.
func (p Policy) ParseInt(s string) (int64, bool) {
	n := p.normalize(s)
	if n == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(n, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseFloat parses s honouring the configured separators.
func (p Policy) ParseFloat(s string) (float64, bool) {
	n := p.normalize(s)
	if n == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(n, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (p Policy) localized() bool {
	return p.Locale != language.Und
}

// FormatInt renders v as an integer.
func (p Policy) FormatInt(v int64) string {
	if p.localized() {
		return message.NewPrinter(p.Locale).Sprintf("%d", v)
	}
	return strconv.FormatInt(v, 10)
}

// FormatReal renders v with six fractional digits.
func (p Policy) FormatReal(v float64) string {
	if p.localized() {
		return message.NewPrinter(p.Locale).Sprintf("%f", v)
	}
	return fmt.Sprintf("%f", v)
}
