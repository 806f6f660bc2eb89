// Package storage loads configured tables into a relational database.
//
// Backends (postgres, mssql, sqlite) live in sub-packages and register
// themselves by kind from init(). Callers depend only on Repository.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config selects and configures a backend.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the minimal surface the loader needs. Each backend implements
// these semantics in its own dialect.
type Repository interface {
	// Close releases backend resources. Treat it as "call once".
	Close()

	// EnsureTable creates the table if it does not exist. It never alters an
	// existing table.
	EnsureTable(ctx context.Context, t TableSpec) error

	// InsertRows inserts rows aligned with columns and returns the number of
	// rows written. Backends split large inputs into statements that respect
	// their parameter limits.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// Factory constructs a Repository for a Config.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Chunk splits n rows of width cols into [start,end) ranges so that no range
// exceeds maxParams bound parameters or maxRows rows. maxRows <= 0 means no
// row limit. Every range holds at least one row.
func Chunk(n, cols, maxParams, maxRows int) [][2]int {
	if n <= 0 {
		return nil
	}
	per := n
	if cols > 0 && maxParams > 0 {
		per = maxParams / cols
	}
	if maxRows > 0 && per > maxRows {
		per = maxRows
	}
	if per < 1 {
		per = 1
	}
	out := make([][2]int, 0, (n+per-1)/per)
	for start := 0; start < n; start += per {
		end := start + per
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
