package mssql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"csvconf/internal/schema"
	"csvconf/internal/storage"
)

type execCall struct {
	query string
	args  []any
}

type fakeDB struct {
	calls  []execCall
	failAt int // 1-based call index that fails; 0 never fails
	closed bool
}

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	if f.failAt == len(f.calls) {
		return nil, errors.New("boom")
	}
	return driverResult(len(args)), nil
}

func (f *fakeDB) Close() error {
	f.closed = true
	return nil
}

// driverResult reports one affected row per bound parameter.
type driverResult int64

func (r driverResult) LastInsertId() (int64, error) { return 0, nil }
func (r driverResult) RowsAffected() (int64, error) { return int64(r), nil }

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	q, err := buildCreateSQL(storage.TableSpec{
		Name: "dbo.points",
		Columns: []storage.ColumnSpec{
			{Name: "id", Type: schema.Integer},
			{Name: "lat", Type: schema.Real},
			{Name: "odd]name", Type: schema.String},
		},
	})
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	want := "IF OBJECT_ID(N'dbo.points', N'U') IS NULL BEGIN CREATE TABLE [dbo].[points] " +
		"([id] BIGINT NULL, [lat] FLOAT NULL, [odd]]name] NVARCHAR(MAX) NULL); END;"
	if q != want {
		t.Fatalf("sql =\n%s\nwant\n%s", q, want)
	}

	if _, err := buildCreateSQL(storage.TableSpec{Name: "t"}); err == nil {
		t.Fatalf("expected error for no columns")
	}
}

func TestBuildBulkInsertSQL(t *testing.T) {
	t.Parallel()

	q, args := buildBulkInsertSQL("points", []string{"a", "b"}, [][]any{{1, "x"}, {2, nil}})
	if q != "INSERT INTO [points] ([a], [b]) VALUES (@p1, @p2), (@p3, @p4)" {
		t.Fatalf("sql = %s", q)
	}
	if len(args) != 4 || args[3] != nil {
		t.Fatalf("args = %#v", args)
	}
}

func TestInsertRows_ChunksUnderLimits(t *testing.T) {
	t.Parallel()

	rows := make([][]any, 2500)
	for i := range rows {
		rows[i] = []any{int64(i)}
	}
	db := &fakeDB{}
	r := &Repo{db: db}

	n, err := r.InsertRows(context.Background(), "t", []string{"v"}, rows)
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if n != 2500 {
		t.Fatalf("n = %d, want 2500", n)
	}
	// One column: the 1000-row limit binds before the parameter limit.
	if len(db.calls) != 3 {
		t.Fatalf("statements = %d, want 3", len(db.calls))
	}
	for _, c := range db.calls {
		if len(c.args) > maxParams || strings.Count(c.query, "(@p") > maxRows {
			t.Fatalf("statement over limits: %d args", len(c.args))
		}
	}
	if db.calls[2].args[0] != int64(2000) {
		t.Fatalf("last chunk starts at %v", db.calls[2].args[0])
	}

	r.Close()
	if !db.closed {
		t.Fatalf("Close did not close the db")
	}
}

func TestInsertRows_WideRowsRespectParams(t *testing.T) {
	t.Parallel()

	cols := make([]string, 30)
	row := make([]any, 30)
	for i := range cols {
		cols[i] = "c"
	}
	rows := make([][]any, 100)
	for i := range rows {
		rows[i] = row
	}
	db := &fakeDB{failAt: 2}
	r := &Repo{db: db}

	n, err := r.InsertRows(context.Background(), "t", cols, rows)
	if err == nil {
		t.Fatalf("expected error from second statement")
	}
	// 2000/30 = 66 rows per statement; the first one succeeded.
	if n != 66*30 {
		t.Fatalf("n = %d, want %d", n, 66*30)
	}
	if len(db.calls[0].args) != 66*30 {
		t.Fatalf("first statement has %d args", len(db.calls[0].args))
	}
}
