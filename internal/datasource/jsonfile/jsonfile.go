// Package jsonfile is the JSON adapter for datasource.
//
// Records are JSON objects, found in one of these layouts:
//   - a root array of objects: [{...}, {...}]
//   - an envelope object whose first array-of-objects field holds the
//     records: {"meta": {...}, "rows": [{...}, ...]}
//   - a single root object
//
// Any layout may be followed by more top-level objects (JSON lines).
// Records are decoded one at a time; non-object array elements are skipped.
//
// Columns are the object keys in order of first appearance within the
// autodetection window. Keys first seen after the window are ignored and a
// missing key is an unset field. Scalar arrays are flattened into text
// joined by ArrayJoin; nested objects are kept as JSON text.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"csvconf/internal/datasource"
	"csvconf/internal/numfmt"
)

func init() {
	datasource.Register(".json", Open)
	datasource.Register(".jsonl", Open)
	datasource.Register(".ndjson", Open)
}

// ArrayJoin separates flattened array elements.
const ArrayJoin = ","

type readState int

const (
	inArray    readState = iota // inside the records array
	inEnvelope                  // records array closed, rest of the root object pending
	trailing                    // top level, more objects may follow
	done
)

// record is one decoded object with its key order.
type record struct {
	keys []string
	vals map[string]any
}

// Source reads records from a JSON file.
type Source struct {
	f        *os.File
	dec      *json.Decoder
	state    readState
	envelope bool
	fields   []datasource.Field
	index    map[string]int
	pending  []record
	numbers  numfmt.Policy
}

// Open positions the decoder at the first record and autodetects column
// types from the first DetectLimit records, which are replayed by ReadRows.
func Open(ctx context.Context, path string, opts datasource.Options) (datasource.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(f)
	dec.UseNumber()

	s := &Source{f: f, dec: dec, numbers: opts.Numbers}
	if err := s.start(); err != nil {
		_ = f.Close()
		return nil, err
	}

	limit := opts.DetectLimit()
	for len(s.pending) < limit {
		if err := ctx.Err(); err != nil {
			_ = f.Close()
			return nil, err
		}
		rec, ok, err := s.next()
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if !ok {
			break
		}
		s.pending = append(s.pending, rec)
	}

	s.fields, s.index = detectFields(s.pending, opts.Numbers)
	if len(s.fields) == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("jsonfile: %s has no fields", path)
	}
	return s, nil
}

// start reads the root token. For a root object it either finds the
// envelope array and stages its first record, or reads the whole object as
// a single record.
func (s *Source) start() error {
	tok, err := s.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("jsonfile: empty input")
		}
		return fmt.Errorf("jsonfile: read first token: %w", err)
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("jsonfile: unsupported root value %v (want object or array)", tok)
	}
	switch d {
	case '[':
		s.state = inArray
		return nil
	case '{':
	default:
		return fmt.Errorf("jsonfile: unsupported root delimiter %q", d)
	}

	single := record{vals: map[string]any{}}
	for s.dec.More() {
		key, err := readKey(s.dec)
		if err != nil {
			return err
		}
		vt, err := s.dec.Token()
		if err != nil {
			return fmt.Errorf("jsonfile: read %q: %w", key, err)
		}
		var v any
		switch vt {
		case json.Delim('['):
			first, elems, err := readArrayHead(s.dec)
			if err != nil {
				return fmt.Errorf("jsonfile: read %q: %w", key, err)
			}
			if first != nil {
				s.pending = append(s.pending, *first)
				s.state = inArray
				s.envelope = true
				return nil
			}
			v = elems
		case json.Delim('{'):
			nested, err := readObjectBody(s.dec)
			if err != nil {
				return fmt.Errorf("jsonfile: read %q: %w", key, err)
			}
			v = nested.vals
		default:
			v = vt
		}
		single.set(key, v)
	}
	if _, err := s.dec.Token(); err != nil {
		return fmt.Errorf("jsonfile: read object end: %w", err)
	}
	s.pending = append(s.pending, single)
	s.state = trailing
	return nil
}

// next returns the next record; ok is false once the input is exhausted.
func (s *Source) next() (rec record, ok bool, err error) {
	for {
		switch s.state {
		case inArray:
			if !s.dec.More() {
				if _, err := s.dec.Token(); err != nil {
					return record{}, false, fmt.Errorf("jsonfile: read array end: %w", err)
				}
				if s.envelope {
					s.state = inEnvelope
				} else {
					s.state = trailing
				}
				continue
			}
			rec, isObj, err := decodeRecord(s.dec)
			if err != nil {
				return record{}, false, err
			}
			if isObj {
				return rec, true, nil
			}
		case inEnvelope:
			for s.dec.More() {
				if _, err := readKey(s.dec); err != nil {
					return record{}, false, err
				}
				var skip json.RawMessage
				if err := s.dec.Decode(&skip); err != nil {
					return record{}, false, fmt.Errorf("jsonfile: skip envelope field: %w", err)
				}
			}
			if _, err := s.dec.Token(); err != nil {
				return record{}, false, fmt.Errorf("jsonfile: read object end: %w", err)
			}
			s.state = trailing
		case trailing:
			if !s.dec.More() {
				s.state = done
				continue
			}
			rec, isObj, err := decodeRecord(s.dec)
			if errors.Is(err, io.EOF) {
				s.state = done
				continue
			}
			if err != nil {
				return record{}, false, err
			}
			if isObj {
				return rec, true, nil
			}
		default:
			return record{}, false, nil
		}
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
		var rec record
		if len(s.pending) > 0 {
			rec = s.pending[0]
			s.pending = s.pending[1:]
		} else {
			var ok bool
			var err error
			rec, ok, err = s.next()
			if err != nil {
				return out, err
			}
			if !ok {
				break
			}
		}
		out = append(out, s.convert(rec))
	}
	return out, nil
}

func (s *Source) Close() error {
	return s.f.Close()
}

func (s *Source) convert(rec record) datasource.Row {
	row := make(datasource.Row, len(s.fields))
	for key, v := range rec.vals {
		i, ok := s.index[key]
		if !ok {
			continue
		}
		row[i] = convertValue(s.fields[i].Native, v, s.numbers)
	}
	return row
}

func (r *record) set(key string, v any) {
	if _, dup := r.vals[key]; !dup {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = v
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("jsonfile: read key: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("jsonfile: expected object key, got %v", tok)
	}
	return key, nil
}

// readObjectBody reads the members of an object whose '{' was consumed.
func readObjectBody(dec *json.Decoder) (record, error) {
	rec := record{vals: map[string]any{}}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return record{}, err
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return record{}, fmt.Errorf("jsonfile: read %q: %w", key, err)
		}
		rec.set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return record{}, fmt.Errorf("jsonfile: read object end: %w", err)
	}
	return rec, nil
}

// decodeRecord decodes the next value. isObj is false for non-object
// values, which callers skip.
func decodeRecord(dec *json.Decoder) (rec record, isObj bool, err error) {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return record{}, false, err
		}
		return record{}, false, fmt.Errorf("jsonfile: decode record: %w", err)
	}
	rec, isObj, err = parseRecord(raw)
	return rec, isObj, err
}

func parseRecord(raw json.RawMessage) (record, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return record{}, false, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return record{}, false, fmt.Errorf("jsonfile: decode record: %w", err)
	}
	rec, err := readObjectBody(dec)
	if err != nil {
		return record{}, false, err
	}
	return rec, true, nil
}

// readArrayHead reads from just after '['. If the first element is an
// object the array holds records: that record is returned and the decoder
// stays inside the array. Otherwise the whole array is read and returned
// as elems.
func readArrayHead(dec *json.Decoder) (first *record, elems []any, err error) {
	if !dec.More() {
		_, err := dec.Token()
		return nil, []any{}, err
	}
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, err
	}
	rec, isObj, err := parseRecord(raw)
	if err != nil {
		return nil, nil, err
	}
	if isObj {
		return &rec, nil, nil
	}

	var head any
	hd := json.NewDecoder(bytes.NewReader(raw))
	hd.UseNumber()
	if err := hd.Decode(&head); err != nil {
		return nil, nil, err
	}
	elems = append(elems, head)
	for dec.More() {
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		elems = append(elems, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return nil, elems, nil
}

// detectFields collects keys in first-appearance order and picks a native
// type per key. Columns of JSON numbers are Integer, Integer64 or Real;
// columns of strings are detected like delimited text; anything else or a
// mix is String.
func detectFields(sample []record, p numfmt.Policy) ([]datasource.Field, map[string]int) {
	index := map[string]int{}
	var names []string
	for _, rec := range sample {
		for _, k := range rec.keys {
			if _, ok := index[k]; !ok {
				index[k] = len(names)
				names = append(names, k)
			}
		}
	}

	fields := make([]datasource.Field, len(names))
	for i, name := range names {
		fields[i] = datasource.Field{Name: name, Native: detectColumn(sample, name, p)}
	}
	return fields, index
}

func detectColumn(sample []record, key string, p numfmt.Policy) datasource.NativeType {
	var nums, strs, other int
	allInt, fits32 := true, true
	var texts [][]string
	for _, rec := range sample {
		switch v := rec.vals[key].(type) {
		case nil:
		case json.Number:
			nums++
			if n, err := v.Int64(); err != nil {
				allInt = false
			} else if n < math.MinInt32 || n > math.MaxInt32 {
				fits32 = false
			}
		case string:
			strs++
			texts = append(texts, []string{v})
		default:
			other++
		}
	}
	switch {
	case other > 0 || (nums > 0 && strs > 0):
		return datasource.NativeString
	case nums > 0 && allInt && fits32:
		return datasource.NativeInteger
	case nums > 0 && allInt:
		return datasource.NativeInteger64
	case nums > 0:
		return datasource.NativeReal
	case strs > 0:
		return datasource.DetectTypes(1, texts, p)[0]
	default:
		return datasource.NativeString
	}
}

func convertValue(native datasource.NativeType, v any, p numfmt.Policy) any {
	switch v := v.(type) {
	case nil:
		return nil
	case json.Number:
		switch native {
		case datasource.NativeInteger, datasource.NativeInteger64:
			if n, err := v.Int64(); err == nil {
				return n
			}
		case datasource.NativeReal:
			if f, err := v.Float64(); err == nil {
				return f
			}
		}
		return v.String()
	case string:
		return datasource.Convert(native, v, p)
	default:
		return datasource.Convert(native, text(v), p)
	}
}

// text renders a non-string JSON value as field text.
func text(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = text(e)
		}
		return strings.Join(parts, ArrayJoin)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
