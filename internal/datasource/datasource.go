// Package datasource defines the tabular source capability consumed by the
// inference core, plus a registry of per-format adapters.
//
// The core never branches on file format: it asks Open for a Source and reads
// field definitions and rows through the interface. Adapters live in
// sub-packages and register themselves by file extension from init(), the
// same way storage backends register by kind.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"csvconf/internal/numfmt"
)

// NativeType is the type tag a source reports for a field.
type NativeType int

const (
	NativeString NativeType = iota
	NativeInteger
	NativeInteger64
	NativeReal
	NativeDate
	NativeTime
	NativeDateTime
	NativeBinary
	NativeOther
)

func (n NativeType) String() string {
	switch n {
	case NativeString:
		return "String"
	case NativeInteger:
		return "Integer"
	case NativeInteger64:
		return "Integer64"
	case NativeReal:
		return "Real"
	case NativeDate:
		return "Date"
	case NativeTime:
		return "Time"
	case NativeDateTime:
		return "DateTime"
	case NativeBinary:
		return "Binary"
	default:
		return "Other"
	}
}

// Field is a source column definition.
type Field struct {
	Name   string
	Native NativeType
}

// Row holds one value per field. A nil slot is unset, which is distinct from
// the empty string.
type Row []any

// Source is a tabular data source opened for reading.
type Source interface {
	// Fields returns the field definitions in source order.
	Fields() ([]Field, error)
	// ReadRows returns up to max further rows in source order, fewer when the
	// source is exhausted. max <= 0 reads everything that remains.
	ReadRows(max int) ([]Row, error)
	Close() error
}

// Options are adapter settings. Adapters ignore what does not apply to them.
type Options struct {
	// Delimiter for delimited text. Zero means sniff from the header line.
	Delimiter rune
	// Encoding is a WHATWG encoding label (e.g. "windows-1252"). Empty means UTF-8.
	Encoding string
	// Numbers parses numeric text.
	Numbers numfmt.Policy
	// DetectRows bounds how many rows type autodetection scans. Zero means
	// DefaultDetectRows.
	DetectRows int
	// Selector picks the table element for HTML sources. Empty means "table".
	Selector string
}

// DefaultDetectRows bounds type autodetection.
const DefaultDetectRows = 1000

// DetectLimit returns the effective autodetection bound.
func (o Options) DetectLimit() int {
	if o.DetectRows <= 0 {
		return DefaultDetectRows
	}
	return o.DetectRows
}

// Factory opens a Source for path.
type Factory func(ctx context.Context, path string, opts Options) (Source, error)

// OpenFunc opens a Source with options already bound.
type OpenFunc func(ctx context.Context, path string) (Source, error)

var (
	// ErrSourceOpen marks failures to open or read a source.
	ErrSourceOpen = errors.New("datasource: source open failure")
	// ErrUnsupportedFormat is returned for extensions with no adapter.
	ErrUnsupportedFormat = errors.New("datasource: unsupported format")
)

// OpenError reports a source that could not be opened or read.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("datasource: open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSourceOpen) match any *OpenError.
func (e *OpenError) Is(target error) bool { return target == ErrSourceOpen }

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs f for a file extension such as ".csv".
//
// Panics:
//   - If ext is empty or f is nil.
//   - If ext is already registered.
func Register(ext string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	ext = strings.ToLower(ext)
	if ext == "" {
		panic("datasource: Register called with empty extension")
	}
	if f == nil {
		panic("datasource: Register called with nil factory")
	}
	if _, exists := factories[ext]; exists {
		panic(fmt.Sprintf("datasource: factory already registered for %q", ext))
	}
	factories[ext] = f
}

// Extensions lists registered extensions (unordered).
func Extensions() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for ext := range factories {
		out = append(out, ext)
	}
	return out
}

// Open dispatches on the file extension of path. Every failure is returned as
// an *OpenError.
func Open(ctx context.Context, path string, opts Options) (Source, error) {
	ext := strings.ToLower(filepath.Ext(path))

	mu.RLock()
	f := factories[ext]
	mu.RUnlock()

	if f == nil {
		return nil, &OpenError{Path: path, Err: fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)}
	}
	src, err := f(ctx, path, opts)
	if err != nil {
		var oe *OpenError
		if errors.As(err, &oe) {
			return nil, err
		}
		return nil, &OpenError{Path: path, Err: err}
	}
	return src, nil
}

// Opener binds opts to Open.
func Opener(opts Options) OpenFunc {
	return func(ctx context.Context, path string) (Source, error) {
		return Open(ctx, path, opts)
	}
}
