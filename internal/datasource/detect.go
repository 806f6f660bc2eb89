package datasource

import (
	"math"
	"strings"
	"time"

	"csvconf/internal/numfmt"
)

var (
	dateLayouts     = []string{"2006-01-02", "2006/01/02"}
	timeLayouts     = []string{"15:04:05", "15:04"}
	dateTimeLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006/01/02 15:04:05",
		"2006-01-02 15:04",
	}
)

func matchesLayout(v string, layouts []string) bool {
	for _, l := range layouts {
		if _, err := time.Parse(l, v); err == nil {
			return true
		}
	}
	return false
}

// DetectTypes autodetects a native type per column from text rows.
//
// Empty values are ignored. A column with no non-empty values is String.
// Preference order: Integer (fits int32), Integer64, Real, Date, Time,
// DateTime, String. Rows shorter than the column count simply contribute
// nothing for the missing columns.
func DetectTypes(ncols int, rows [][]string, p numfmt.Policy) []NativeType {
	out := make([]NativeType, ncols)

	for col := 0; col < ncols; col++ {
		var seen bool
		allInt := true
		fits32 := true
		allReal := true
		allDate := true
		allTime := true
		allDT := true

		for _, r := range rows {
			if col >= len(r) {
				continue
			}
			v := strings.TrimSpace(r[col])
			if v == "" {
				continue
			}
			seen = true

			if allInt {
				if n, ok := p.ParseInt(v); !ok {
					allInt = false
				} else if n < math.MinInt32 || n > math.MaxInt32 {
					fits32 = false
				}
			}
			if allReal {
				if _, ok := p.ParseFloat(v); !ok {
					allReal = false
				}
			}
			if allDate && !matchesLayout(v, dateLayouts) {
				allDate = false
			}
			if allTime && !matchesLayout(v, timeLayouts) {
				allTime = false
			}
			if allDT && !matchesLayout(v, dateTimeLayouts) {
				allDT = false
			}
			if !allInt && !allReal && !allDate && !allTime && !allDT {
				break
			}
		}

		switch {
		case !seen:
			out[col] = NativeString
		case allInt && fits32:
			out[col] = NativeInteger
		case allInt:
			out[col] = NativeInteger64
		case allReal:
			out[col] = NativeReal
		case allDate:
			out[col] = NativeDate
		case allTime:
			out[col] = NativeTime
		case allDT:
			out[col] = NativeDateTime
		default:
			out[col] = NativeString
		}
	}
	return out
}

// Convert turns raw text into a row value for a field of the given native
// type. Empty text is unset for every non-string type and the empty string
// for strings. Numbers that fail to parse are kept as text.
func Convert(native NativeType, raw string, p numfmt.Policy) any {
	v := strings.TrimSpace(raw)
	switch native {
	case NativeString:
		return raw
	case NativeInteger, NativeInteger64:
		if v == "" {
			return nil
		}
		if n, ok := p.ParseInt(v); ok {
			return n
		}
		return raw
	case NativeReal:
		if v == "" {
			return nil
		}
		if f, ok := p.ParseFloat(v); ok {
			return f
		}
		return raw
	default:
		if v == "" {
			return nil
		}
		return v
	}
}

// ConvertRecord converts one text record into a Row aligned with fields.
// Missing trailing values are unset.
func ConvertRecord(fields []Field, rec []string, p numfmt.Policy) Row {
	row := make(Row, len(fields))
	for i, f := range fields {
		if i >= len(rec) {
			row[i] = nil
			continue
		}
		row[i] = Convert(f.Native, rec[i], p)
	}
	return row
}
