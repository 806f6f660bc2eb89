// Package parquetfile is the Parquet adapter for datasource, built on the
// Arrow record reader so previews only decode the batches they need.
package parquetfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"csvconf/internal/datasource"
)

func init() {
	datasource.Register(".parquet", Open)
}

const batchSize = 1024

// Source reads a Parquet file one record batch at a time.
type Source struct {
	f      *os.File
	pf     *file.Reader
	rr     pqarrow.RecordReader
	fields []datasource.Field
	cur    arrow.Record
	off    int64
}

// Open opens path and maps its Arrow schema to field definitions.
func Open(ctx context.Context, path string, _ datasource.Options) (datasource.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	pf, err := file.NewParquetReader(f, file.WithReadProps(&parquet.ReaderProperties{}))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("parquetfile: create parquet reader: %w", err)
	}

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: batchSize}, memory.NewGoAllocator())
	if err != nil {
		_ = pf.Close()
		_ = f.Close()
		return nil, fmt.Errorf("parquetfile: create arrow reader: %w", err)
	}
	sc, err := fr.Schema()
	if err != nil {
		_ = pf.Close()
		_ = f.Close()
		return nil, fmt.Errorf("parquetfile: schema: %w", err)
	}
	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		_ = pf.Close()
		_ = f.Close()
		return nil, fmt.Errorf("parquetfile: record reader: %w", err)
	}

	fields := make([]datasource.Field, sc.NumFields())
	for i, fd := range sc.Fields() {
		fields[i] = datasource.Field{Name: fd.Name, Native: NativeFor(fd.Type)}
	}
	return &Source{f: f, pf: pf, rr: rr, fields: fields}, nil
}

// NativeFor maps an Arrow data type to a native field tag.
func NativeFor(dt arrow.DataType) datasource.NativeType {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.UINT8, arrow.UINT16:
		return datasource.NativeInteger
	case arrow.INT64, arrow.UINT32, arrow.UINT64:
		return datasource.NativeInteger64
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64, arrow.DECIMAL128, arrow.DECIMAL256:
		return datasource.NativeReal
	case arrow.STRING, arrow.LARGE_STRING:
		return datasource.NativeString
	case arrow.DATE32, arrow.DATE64:
		return datasource.NativeDate
	case arrow.TIME32, arrow.TIME64:
		return datasource.NativeTime
	case arrow.TIMESTAMP:
		return datasource.NativeDateTime
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY:
		return datasource.NativeBinary
	default:
		return datasource.NativeOther
	}
}

func (s *Source) Fields() ([]datasource.Field, error) {
	out := make([]datasource.Field, len(s.fields))
	copy(out, s.fields)
	return out, nil
}

// advance moves to the next non-empty batch. It reports false at end of data.
func (s *Source) advance() (bool, error) {
	for s.cur == nil || s.off >= s.cur.NumRows() {
		if s.cur != nil {
			s.cur.Release()
			s.cur = nil
		}
		if !s.rr.Next() {
			if err := s.rr.Err(); err != nil && !errors.Is(err, io.EOF) {
				return false, fmt.Errorf("parquetfile: read batch: %w", err)
			}
			return false, nil
		}
		s.cur = s.rr.Record()
		s.cur.Retain()
		s.off = 0
	}
	return true, nil
}

func (s *Source) ReadRows(max int) ([]datasource.Row, error) {
	var out []datasource.Row
	for max <= 0 || len(out) < max {
		ok, err := s.advance()
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		row := make(datasource.Row, len(s.fields))
		for c := range row {
			row[c] = value(s.cur.Column(c), int(s.off))
		}
		out = append(out, row)
		s.off++
	}
	return out, nil
}

// value extracts row i of arr. Nulls are unset; integers are int64, floats
// float64, everything else its Arrow text rendering.
func value(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int64:
		return a.Value(i)
	case *array.Uint8:
		return int64(a.Value(i))
	case *array.Uint16:
		return int64(a.Value(i))
	case *array.Uint32:
		return int64(a.Value(i))
	case *array.Uint64:
		return int64(a.Value(i))
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Date32:
		return a.Value(i).ToTime().Format("2006-01-02")
	case *array.Date64:
		return a.Value(i).ToTime().Format("2006-01-02")
	case *array.Decimal128, *array.Decimal256:
		if f, err := strconv.ParseFloat(arr.ValueStr(i), 64); err == nil {
			return f
		}
	}
	return arr.ValueStr(i)
}

func (s *Source) Close() error {
	if s.cur != nil {
		s.cur.Release()
		s.cur = nil
	}
	s.rr.Release()
	err := s.pf.Close()
	if cerr := s.f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}
