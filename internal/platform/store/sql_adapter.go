package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxConn is what both the pool and a transaction offer
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier adapts a pgxConn to RowQuerier
type querier struct{ c pgxConn }

func (q querier) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	ct, err := q.c.Exec(ctx, sql, args...)
	return ct, err
}

func (q querier) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rs, err := q.c.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows{rs}, nil
}

func (q querier) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return q.c.QueryRow(ctx, sql, args...)
}

// pgAdapter is the TxRunner over a pgx pool
type pgAdapter struct {
	querier
	pool *pgxpool.Pool
}

func newPGAdapter(p *pgxpool.Pool) *pgAdapter {
	return &pgAdapter{querier: querier{p}, pool: p}
}

func (a *pgAdapter) Ping(ctx context.Context) error {
	if a == nil || a.pool == nil {
		return errors.New("pg: nil pool")
	}
	return a.pool.Ping(ctx)
}

func (a *pgAdapter) Close() error {
	a.pool.Close()
	return nil
}

// Tx commits when fn returns nil and rolls back otherwise
func (a *pgAdapter) Tx(ctx context.Context, fn func(q RowQuerier) error) error {
	return pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		return fn(querier{tx})
	})
}

// rows adds Columns to pgx.Rows
type rows struct{ pgx.Rows }

func (r rows) Columns() []string {
	fds := r.FieldDescriptions()
	out := make([]string, len(fds))
	for i, f := range fds {
		out[i] = f.Name
	}
	return out
}
