package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeConn records statements and serves canned results
type fakeConn struct {
	sqls    []string
	execErr error
	rows    pgx.Rows
}

func (f *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.sqls = append(f.sqls, sql)
	return pgconn.NewCommandTag("UPDATE 2"), f.execErr
}

func (f *fakeConn) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.sqls = append(f.sqls, sql)
	if f.rows == nil {
		return nil, errors.New("no rows configured")
	}
	return f.rows, nil
}

func (f *fakeConn) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.sqls = append(f.sqls, sql)
	return fakeRow{}
}

type fakeRow struct{}

func (fakeRow) Scan(dest ...any) error {
	*(dest[0].(*int)) = 1
	return nil
}

// fakeRows embeds pgx.Rows for the methods the adapter never calls
type fakeRows struct {
	pgx.Rows
	cols []string
}

func (f fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(f.cols))
	for i, c := range f.cols {
		out[i] = pgconn.FieldDescription{Name: c}
	}
	return out
}

func TestQuerierExec(t *testing.T) {
	c := &fakeConn{}
	q := querier{c}

	tag, err := q.Exec(context.Background(), "UPDATE x SET y = 1")
	if err != nil || tag.RowsAffected() != 2 || tag.String() != "UPDATE 2" {
		t.Fatalf("Exec = %v, %v", tag, err)
	}

	c.execErr = errors.New("boom")
	if _, err := q.Exec(context.Background(), "UPDATE x"); err == nil {
		t.Fatalf("Exec should surface the error")
	}
}

func TestQuerierQueryAndRow(t *testing.T) {
	c := &fakeConn{}
	q := querier{c}

	if _, err := q.Query(context.Background(), "SELECT 1"); err == nil {
		t.Fatalf("Query error should surface")
	}

	c.rows = fakeRows{cols: []string{"id", "doc"}}
	rs, err := q.Query(context.Background(), "SELECT id, doc FROM idx_x")
	if err != nil {
		t.Fatalf("Query err = %v", err)
	}
	if cols := rs.Columns(); len(cols) != 2 || cols[0] != "id" || cols[1] != "doc" {
		t.Fatalf("Columns = %v", cols)
	}

	var one int
	if err := q.QueryRow(context.Background(), "SELECT 1").Scan(&one); err != nil || one != 1 {
		t.Fatalf("QueryRow = %d, %v", one, err)
	}
	if len(c.sqls) != 3 {
		t.Fatalf("statements = %v", c.sqls)
	}
}

func TestPGAdapterNilPing(t *testing.T) {
	var a *pgAdapter
	if err := a.Ping(context.Background()); err == nil {
		t.Fatalf("nil adapter should not ping")
	}
}
