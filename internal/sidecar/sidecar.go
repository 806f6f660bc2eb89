// Package sidecar reads and writes the .csvt type sidecar.
//
// Format: a single text line of comma-separated tokens, one per column, no
// trailing comma. Tokens are matched case-insensitively by substring, so
// GDAL-style variants such as `"Integer(10)"` or `Real(12.4)` are accepted.
// The file lives next to the data file at the data path plus a literal "t".
//
// The sidecar is always rewritten in full; there are no partial updates.
package sidecar

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"csvconf/internal/schema"
)

// Token is one positional sidecar entry.
type Token int

const (
	// None means the position carried no recognized token; the inferred
	// type stands.
	None Token = iota
	Integer
	Real
	String
	CoordX
	CoordY
)

func (t Token) String() string {
	switch t {
	case Integer:
		return "Integer"
	case Real:
		return "Real"
	case String:
		return "String"
	case CoordX:
		return "CoordX"
	case CoordY:
		return "CoordY"
	default:
		return ""
	}
}

// Type returns the scalar type carried by t. Coordinate tokens carry Real.
func (t Token) Type() (schema.Type, bool) {
	switch t {
	case Integer:
		return schema.Integer, true
	case Real, CoordX, CoordY:
		return schema.Real, true
	case String:
		return schema.String, true
	default:
		return schema.String, false
	}
}

// Role returns the coordinate role carried by t.
func (t Token) Role() schema.Role {
	switch t {
	case CoordX:
		return schema.CoordX
	case CoordY:
		return schema.CoordY
	default:
		return schema.None
	}
}

// matchOrder is the substring test order; the first hit wins.
var matchOrder = []struct {
	sub string
	tok Token
}{
	{"INTEGER", Integer},
	{"REAL", Real},
	{"STRING", String},
	{"COORDX", CoordX},
	{"COORDY", CoordY},
}

func matchToken(raw string) Token {
	up := strings.ToUpper(raw)
	for _, m := range matchOrder {
		if strings.Contains(up, m.sub) {
			return m.tok
		}
	}
	return None
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSuffix(text, "\r")
}

// Parse decodes the first line of text into exactly n tokens. Extra tokens
// are ignored; missing or unrecognized positions yield None.
func Parse(text string, n int) []Token {
	if n <= 0 {
		return nil
	}
	out := make([]Token, n)
	line := firstLine(text)
	if strings.TrimSpace(line) == "" {
		return out
	}
	for i, raw := range strings.Split(line, ",") {
		if i >= n {
			break
		}
		out[i] = matchToken(raw)
	}
	return out
}

// Skipped returns the positions in [0,n) that Parse maps to None.
func Skipped(text string, n int) []int {
	var out []int
	for i, tok := range Parse(text, n) {
		if tok == None {
			out = append(out, i)
		}
	}
	return out
}

// Serialize encodes s as a single comma-joined line (no terminator). A
// coordinate role takes precedence over the column's scalar type.
func Serialize(s schema.Schema) string {
	parts := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		switch c.Role {
		case schema.CoordX:
			parts[i] = CoordX.String()
		case schema.CoordY:
			parts[i] = CoordY.String()
		default:
			parts[i] = c.Effective().String()
		}
	}
	return strings.Join(parts, ",")
}

// Path returns the conventional sidecar path for a data file.
func Path(source string) string {
	return source + "t"
}

// ErrWrite marks sidecar write failures.
var ErrWrite = errors.New("sidecar: write failed")

// WriteError reports a failed sidecar write.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("sidecar: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrWrite) match any *WriteError.
func (e *WriteError) Is(target error) bool { return target == ErrWrite }

// Read returns the sidecar text. A missing file is not an error: found is
// false and text is empty.
func Read(path string) (text string, found bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("sidecar: read %s: %w", path, err)
	}
	return string(b), true, nil
}

// Write replaces the sidecar at path with line plus a line terminator.
func Write(path, line string) error {
	if err := os.WriteFile(path, []byte(line+"\n"), 0o644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}
