package storage

import (
	"fmt"
	"strings"
	"unicode"

	"csvconf/internal/schema"
)

// TableSpec describes a target table derived from a configured schema.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
}

// ColumnSpec is one target column. Source is the schema column index it is
// loaded from.
type ColumnSpec struct {
	Name   string
	Type   schema.Type
	Source int
}

// ColumnNames returns the target column names in order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// TableSpecFor maps every schema column to a target column of its effective
// type. Names are normalized with NormalizeIdent; collisions (including
// duplicate source names) get a numeric suffix in column order.
func TableSpecFor(table string, s schema.Schema) (TableSpec, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return TableSpec{}, fmt.Errorf("storage: table name is empty")
	}
	if len(s.Columns) == 0 {
		return TableSpec{}, fmt.Errorf("storage: table %s: no columns", table)
	}

	used := make(map[string]bool, len(s.Columns))
	cols := make([]ColumnSpec, len(s.Columns))
	for i, c := range s.Columns {
		base := NormalizeIdent(c.Name)
		name := base
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[name] = true
		cols[i] = ColumnSpec{Name: name, Type: c.Effective(), Source: i}
	}
	return TableSpec{Name: table, Columns: cols}, nil
}

// NormalizeIdent turns a header into a portable lower-case identifier:
// letters, digits and underscores only, not starting with a digit.
//
//	"Lat (deg)" -> "lat_deg"
//	"2019"      -> "c_2019"
//	""          -> "column"
func NormalizeIdent(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return "column"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "c_" + out
	}
	return out
}
