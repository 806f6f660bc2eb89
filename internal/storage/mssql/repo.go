package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"csvconf/internal/schema"
	"csvconf/internal/storage"
)

// Repo implements storage.Repository for SQL Server.
//
// This package does NOT blank-import a SQL Server driver. The application
// must register the "sqlserver" driver with database/sql before calling New.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

const (
	// SQL Server allows 2100 parameters per request; stay below it.
	maxParams = 2000
	// A table value constructor accepts at most 1000 rows.
	maxRows = 1000
)

// New constructs a Repo using database/sql and the "sqlserver" driver, and
// validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: raw}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTable creates the table unless it already exists.
func (r *Repo) EnsureTable(ctx context.Context, t storage.TableSpec) error {
	q, err := buildCreateSQL(t)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
	}
	return nil
}

// InsertRows inserts rows in chunks that respect the parameter and row
// limits of a single INSERT ... VALUES statement.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	var total int64
	for _, c := range storage.Chunk(len(rows), len(columns), maxParams, maxRows) {
		q, args := buildBulkInsertSQL(table, columns, rows[c[0]:c[1]])
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert into %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = int64(c[1] - c[0])
		}
		total += n
	}
	return total, nil
}

func sqlType(t schema.Type) string {
	switch t {
	case schema.Integer:
		return "BIGINT"
	case schema.Real:
		return "FLOAT"
	default:
		return "NVARCHAR(MAX)"
	}
}

// buildCreateSQL builds a guarded CREATE TABLE. SQL Server has no
// CREATE TABLE IF NOT EXISTS, so the statement checks OBJECT_ID first.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: table %s: no columns", t.Name)
	}
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = mssqlIdent(c.Name) + " " + sqlType(c.Type) + " NULL"
	}
	return wrapCreateIfMissing(t.Name, strings.Join(defs, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows
// with @pN placeholders.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.points" -> [dbo].[points]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// dbConn is the subset of *sql.DB this package uses.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}
