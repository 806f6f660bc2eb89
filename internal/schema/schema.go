// Package schema holds the in-memory column model of a configuration session.
//
// A Schema is an ordered list of columns aligned with the tabular source's
// field order at the time of the last preread. Each column carries the type
// inferred from the source, an optional user override and a coordinate role.
//
// Invariants:
//   - Column order and count match the source; duplicate names are kept
//     positionally and never merged.
//   - At most one column holds CoordX and at most one holds CoordY.
//
// A Schema is not safe for concurrent mutation; a session owns it exclusively.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIndexOutOfRange is returned when an operation names a column index
// outside [0, Len()).
var ErrIndexOutOfRange = errors.New("schema: column index out of range")

// Type is the scalar type of a column.
type Type int

const (
	Integer Type = iota
	Real
	String
)

// String returns the sidecar/display name of the type.
func (t Type) String() string {
	switch t {
	case Integer:
		return "Integer"
	case Real:
		return "Real"
	case String:
		return "String"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType parses a type name case-insensitively.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "integer", "int":
		return Integer, nil
	case "real", "float", "double":
		return Real, nil
	case "string", "text":
		return String, nil
	default:
		return String, fmt.Errorf("schema: unknown type %q", s)
	}
}

// Role designates a column as a geographic coordinate.
type Role int

const (
	None Role = iota
	CoordX
	CoordY
)

func (r Role) String() string {
	switch r {
	case None:
		return ""
	case CoordX:
		return "CoordX"
	case CoordY:
		return "CoordY"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole accepts "x"/"coordx", "y"/"coordy" and "none"/"" in any case.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "x", "coordx":
		return CoordX, nil
	case "y", "coordy":
		return CoordY, nil
	default:
		return None, fmt.Errorf("schema: unknown role %q", s)
	}
}

// Column is one source field.
type Column struct {
	Name     string
	Inferred Type
	// User is the override chosen by the user or loaded from a sidecar.
	// nil means the inferred type stands.
	User *Type
	Role Role
}

// Effective returns the user override if present, else the inferred type.
func (c Column) Effective() Type {
	if c.User != nil {
		return *c.User
	}
	return c.Inferred
}

// Schema is the ordered column list.
type Schema struct {
	Columns []Column
}

// New builds a schema from names and inferred types. names and types must
// have the same length.
func New(names []string, types []Type) Schema {
	cols := make([]Column, len(names))
	for i := range names {
		cols[i] = Column{Name: names[i], Inferred: types[i]}
	}
	return Schema{Columns: cols}
}

func (s *Schema) Len() int { return len(s.Columns) }

func (s *Schema) check(i int) error {
	if i < 0 || i >= len(s.Columns) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(s.Columns))
	}
	return nil
}

// SetType sets the user type of column i.
func (s *Schema) SetType(i int, t Type) error {
	if err := s.check(i); err != nil {
		return err
	}
	tt := t
	s.Columns[i].User = &tt
	return nil
}

// ClearType drops the user override of column i.
func (s *Schema) ClearType(i int) error {
	if err := s.check(i); err != nil {
		return err
	}
	s.Columns[i].User = nil
	return nil
}

// SetRole assigns role r to column i. A coordinate role is first cleared
// from whichever other column holds it; None simply clears column i.
func (s *Schema) SetRole(i int, r Role) error {
	if err := s.check(i); err != nil {
		return err
	}
	if r != None {
		for j := range s.Columns {
			if j != i && s.Columns[j].Role == r {
				s.Columns[j].Role = None
			}
		}
	}
	s.Columns[i].Role = r
	return nil
}

// EffectiveType returns the effective type of column i.
func (s *Schema) EffectiveType(i int) (Type, error) {
	if err := s.check(i); err != nil {
		return String, err
	}
	return s.Columns[i].Effective(), nil
}

// NumericColumns returns the indices whose effective type is Real. These are
// the coordinate candidates; Integer columns are deliberately excluded.
func (s *Schema) NumericColumns() []int {
	out := make([]int, 0, len(s.Columns))
	for i, c := range s.Columns {
		if c.Effective() == Real {
			out = append(out, i)
		}
	}
	return out
}

// RoleHolder returns the index of the column holding r, or -1.
func (s *Schema) RoleHolder(r Role) int {
	if r == None {
		return -1
	}
	for i, c := range s.Columns {
		if c.Role == r {
			return i
		}
	}
	return -1
}

// IndexOf returns the first column named name, or -1.
func (s *Schema) IndexOf(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (s *Schema) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// EffectiveTypes returns the effective type of every column in order.
func (s *Schema) EffectiveTypes() []Type {
	out := make([]Type, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Effective()
	}
	return out
}

// Clone returns a deep copy.
func (s *Schema) Clone() Schema {
	cols := make([]Column, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = c
		if c.User != nil {
			u := *c.User
			cols[i].User = &u
		}
	}
	return Schema{Columns: cols}
}
