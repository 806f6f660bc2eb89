// Package csvfile is the delimited-text adapter for datasource.
//
// Opening a file reads the header and a bounded sample of records to
// autodetect a native type per column (Integer, Integer64, Real, Date, Time,
// DateTime or String). The sampled records are buffered and replayed by
// ReadRows, so every row is returned exactly once and in file order.
//
// Reading is best-effort: malformed records are skipped rather than failing
// the whole read.
package csvfile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"csvconf/internal/datasource"
	"csvconf/internal/numfmt"
)

func init() {
	datasource.Register(".csv", Open)
	datasource.Register(".tsv", Open)
	datasource.Register(".txt", Open)
}

// Source reads a delimited text file.
type Source struct {
	f       *os.File
	r       *csv.Reader
	fields  []datasource.Field
	pending [][]string
	numbers numfmt.Policy
	eof     bool
}

const sniffBytes = 64 * 1024

// Open opens path, reads its header and autodetects column types.
func Open(ctx context.Context, path string, opts datasource.Options) (datasource.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var in io.Reader = f
	if label := strings.TrimSpace(opts.Encoding); label != "" {
		enc, err := htmlindex.Get(label)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csvfile: encoding %q: %w", label, err)
		}
		in = transform.NewReader(f, enc.NewDecoder())
	}
	br := bufio.NewReaderSize(in, sniffBytes)

	delim := opts.Delimiter
	if delim == 0 {
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			delim = '\t'
		} else {
			head, _ := br.Peek(sniffBytes)
			delim = SniffDelimiter(head)
		}
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1 // records are aligned manually
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		_ = f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csvfile: %s has no header row", path)
		}
		return nil, fmt.Errorf("csvfile: read header: %w", err)
	}
	names := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if h == "" {
			h = fmt.Sprintf("field_%d", i+1)
		}
		names[i] = h
	}

	s := &Source{f: f, r: cr, numbers: opts.Numbers}

	limit := opts.DetectLimit()
	sample := make([][]string, 0, min(limit, 1024))
	for len(sample) < limit {
		if err := ctx.Err(); err != nil {
			_ = f.Close()
			return nil, err
		}
		rec, err := s.next()
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if rec == nil {
			break
		}
		sample = append(sample, rec)
	}
	s.pending = sample

	types := datasource.DetectTypes(len(names), sample, opts.Numbers)
	s.fields = make([]datasource.Field, len(names))
	for i := range names {
		s.fields[i] = datasource.Field{Name: names[i], Native: types[i]}
	}
	return s, nil
}

// next returns the next well-formed record, or nil at end of file.
func (s *Source) next() ([]string, error) {
	if s.eof {
		return nil, nil
	}
	for {
		rec, err := s.r.Read()
		if err == io.EOF {
			s.eof = true
			return nil, nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				continue
			}
			return nil, err
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		return rec, nil
	}
}

func (s *Source) Fields() ([]datasource.Field, error) {
	out := make([]datasource.Field, len(s.fields))
	copy(out, s.fields)
	return out, nil
}

func (s *Source) ReadRows(max int) ([]datasource.Row, error) {
	var out []datasource.Row
	for max <= 0 || len(out) < max {
		var rec []string
		if len(s.pending) > 0 {
			rec = s.pending[0]
			s.pending = s.pending[1:]
		} else {
			var err error
			rec, err = s.next()
			if err != nil {
				return out, err
			}
			if rec == nil {
				break
			}
		}
		out = append(out, datasource.ConvertRecord(s.fields, rec, s.numbers))
	}
	return out, nil
}

func (s *Source) Close() error {
	return s.f.Close()
}

// SniffDelimiter picks the most frequent of , ; TAB | on the first line.
// Ties resolve in that order; no candidate means ','.
func SniffDelimiter(head []byte) rune {
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	best, bestN := ',', 0
	for _, c := range []rune{',', ';', '\t', '|'} {
		if n := bytes.Count(head, []byte(string(c))); n > bestN {
			best, bestN = c, n
		}
	}
	return best
}
