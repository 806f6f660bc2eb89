// Package preview renders preview rows as display text according to the
// effective column types.
package preview

import (
	"fmt"
	"math"
	"strconv"

	"csvconf/internal/datasource"
	"csvconf/internal/numfmt"
	"csvconf/internal/schema"
)

// Grid is a rendered preview: one header cell per column and one text row
// per preview row.
type Grid struct {
	Header []string
	Types  []schema.Type
	Cells  [][]string
}

// Format renders rows under s. Unset values render as "". Integer columns
// show the value as a 64-bit integer, Real columns use six fractional digits
// and String columns show the raw text.
func Format(s schema.Schema, rows []datasource.Row, p numfmt.Policy) Grid {
	g := Grid{
		Header: s.Names(),
		Types:  s.EffectiveTypes(),
		Cells:  make([][]string, len(rows)),
	}
	for r, row := range rows {
		line := make([]string, len(g.Types))
		for c, t := range g.Types {
			if c < len(row) {
				line[c] = Cell(t, row[c], p)
			}
		}
		g.Cells[r] = line
	}
	return g
}

// Cell renders one value as type t.
func Cell(t schema.Type, v any, p numfmt.Policy) string {
	if v == nil {
		return ""
	}
	switch t {
	case schema.Integer:
		return p.FormatInt(AsInt64(v, p))
	case schema.Real:
		return p.FormatReal(AsFloat64(v, p))
	default:
		return AsText(v)
	}
}

// AsInt64 coerces v to an integer. Floats truncate toward zero; text that
// does not parse is 0.
func AsInt64(v any, p numfmt.Policy) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		return int64(x)
	case string:
		if n, ok := p.ParseInt(x); ok {
			return n
		}
		if f, ok := p.ParseFloat(x); ok {
			return AsInt64(f, p)
		}
	}
	return 0
}

// AsFloat64 coerces v to a float. Text that does not parse is 0.
func AsFloat64(v any, p numfmt.Policy) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	case string:
		if f, ok := p.ParseFloat(x); ok {
			return f
		}
	}
	return 0
}

// AsText renders v without type conversion.
func AsText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
