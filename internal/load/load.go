// Package load streams every row of a source into a database table using the
// effective column types of a configured schema.
package load

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"csvconf/internal/datasource"
	"csvconf/internal/metrics"
	"csvconf/internal/numfmt"
	"csvconf/internal/preview"
	"csvconf/internal/schema"
	"csvconf/internal/storage"
)

// DefaultBatchSize is the number of rows read and inserted per batch.
const DefaultBatchSize = 500

// Loader copies sources into a Repository.
type Loader struct {
	Repo      storage.Repository
	BatchSize int
	Numbers   numfmt.Policy
	Logger    *slog.Logger
	Metrics   metrics.Backend
}

// Result summarizes a load.
type Result struct {
	Table   string
	Rows    int64
	Batches int
	// Nulls counts values loaded as NULL, including numbers that did not parse.
	Nulls int64
}

// Load creates table from s (if missing) and inserts every remaining row of
// src. Rows are read in batches so memory stays bounded; src is not closed.
//
// Rows must align with s: a short row loads trailing columns as NULL.
func (l *Loader) Load(ctx context.Context, src datasource.Source, s schema.Schema, table string) (res Result, err error) {
	m := metrics.OrNop(l.Metrics)
	log := l.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With("component", "load", "table", table)

	start := time.Now()
	defer func() {
		metrics.ObserveOp(m, "load", metrics.Status(err), time.Since(start))
	}()

	spec, err := storage.TableSpecFor(table, s)
	if err != nil {
		return Result{}, err
	}
	if err := l.Repo.EnsureTable(ctx, spec); err != nil {
		return Result{}, err
	}

	batch := l.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	columns := spec.ColumnNames()
	res.Table = spec.Name

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rows, err := src.ReadRows(batch)
		if err != nil {
			return res, fmt.Errorf("%w: read rows: %v", datasource.ErrSourceOpen, err)
		}
		if len(rows) == 0 {
			break
		}

		out := make([][]any, len(rows))
		var nulls int64
		for i, r := range rows {
			vals := make([]any, len(spec.Columns))
			for j, c := range spec.Columns {
				var raw any
				if c.Source < len(r) {
					raw = r[c.Source]
				}
				v, ok := Coerce(c.Type, raw, l.Numbers)
				if !ok {
					nulls++
				}
				vals[j] = v
			}
			out[i] = vals
		}

		n, err := l.Repo.InsertRows(ctx, spec.Name, columns, out)
		if err != nil {
			return res, err
		}
		res.Rows += n
		res.Batches++
		res.Nulls += nulls
		metrics.AddRows(m, "loaded", int(n))
		metrics.AddRows(m, "null", int(nulls))
		log.Debug("batch loaded", "batch", res.Batches, "rows", n)
	}

	log.Info("load complete", "rows", res.Rows, "batches", res.Batches, "nulls", res.Nulls)
	return res, nil
}

// Coerce converts a source value to the Go value stored for type t. It
// reports false when the result is NULL: unset input, or a number that does
// not parse. Integer conversions truncate floats toward zero.
func Coerce(t schema.Type, v any, p numfmt.Policy) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch t {
	case schema.Integer:
		switch x := v.(type) {
		case int64:
			return x, true
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, false
			}
			return int64(x), true
		case string:
			if n, ok := p.ParseInt(x); ok {
				return n, true
			}
			if f, ok := p.ParseFloat(x); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
				return int64(f), true
			}
		}
		return nil, false
	case schema.Real:
		switch x := v.(type) {
		case int64:
			return float64(x), true
		case float64:
			return x, true
		case string:
			if f, ok := p.ParseFloat(x); ok {
				return f, true
			}
		}
		return nil, false
	default:
		return preview.AsText(v), true
	}
}
