// Package infer derives a schema and a bounded row preview from a tabular
// source.
package infer

import (
	"fmt"

	"csvconf/internal/datasource"
	"csvconf/internal/schema"
)

// PreviewCap is the default number of preview rows. It is eleven: the
// preview loop stops once the count exceeds ten.
const PreviewCap = 11

// Inferer reads field definitions and preview rows from a source.
type Inferer struct {
	// MaxRows caps the preview. Zero means PreviewCap; negative reads all rows.
	MaxRows int
}

// Result is an inferred schema plus the preview rows, in source order.
type Result struct {
	Schema schema.Schema
	Rows   []datasource.Row
}

// MapNative maps a source field tag to a column type. Integer64 narrows to
// Integer; dates, times, binary and anything unrecognized become String.
func MapNative(n datasource.NativeType) schema.Type {
	switch n {
	case datasource.NativeInteger, datasource.NativeInteger64:
		return schema.Integer
	case datasource.NativeReal:
		return schema.Real
	default:
		return schema.String
	}
}

func (in Inferer) limit() int {
	switch {
	case in.MaxRows == 0:
		return PreviewCap
	case in.MaxRows < 0:
		return 0
	default:
		return in.MaxRows
	}
}

// Infer builds the schema from src's fields and reads up to the preview cap
// of rows. src is read but never closed or otherwise changed. On failure the
// result is empty and the error matches datasource.ErrSourceOpen.
func (in Inferer) Infer(src datasource.Source) (Result, error) {
	fields, err := src.Fields()
	if err != nil {
		return Result{}, fmt.Errorf("%w: fields: %v", datasource.ErrSourceOpen, err)
	}

	names := make([]string, len(fields))
	types := make([]schema.Type, len(fields))
	for i, f := range fields {
		names[i] = f.Name
		types[i] = MapNative(f.Native)
	}

	rows, err := in.Rows(src, len(fields))
	if err != nil {
		return Result{}, err
	}
	return Result{Schema: schema.New(names, types), Rows: rows}, nil
}

// Rows reads up to the preview cap of rows from src, padding or truncating
// each to width fields.
func (in Inferer) Rows(src datasource.Source, width int) ([]datasource.Row, error) {
	rows, err := src.ReadRows(in.limit())
	if err != nil {
		return nil, fmt.Errorf("%w: rows: %v", datasource.ErrSourceOpen, err)
	}
	out := make([]datasource.Row, len(rows))
	for i, r := range rows {
		if len(r) == width {
			out[i] = r
			continue
		}
		fixed := make(datasource.Row, width)
		copy(fixed, r)
		out[i] = fixed
	}
	return out, nil
}
