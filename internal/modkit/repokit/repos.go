// Package repokit holds the seams SQL repositories are written against
package repokit

import (
	"context"
	"fmt"
	"time"

	"enrichd/internal/platform/store"
)

type (
	// Queryer is the read and write surface a repo binds to
	Queryer = store.RowQuerier
	// TxRunner runs a function inside a transaction
	TxRunner = store.TxRunner
	// Rows is a query result set
	Rows = store.Rows
	// Row is a single row result
	Row = store.Row
	// CommandTag reports what a statement changed
	CommandTag = store.CommandTag
)

// Binder binds a domain repo to a Queryer, usually the one of a running tx
type Binder[T any] interface {
	Bind(Queryer) T
}

// BindFunc adapts a function to Binder
type BindFunc[T any] func(Queryer) T

// Bind calls f
func (f BindFunc[T]) Bind(q Queryer) T { return f(q) }

// MustBind binds q, panicking on a nil Queryer
func MustBind[T any](b Binder[T], q Queryer) T {
	if q == nil {
		panic("repokit: nil Queryer")
	}
	return b.Bind(q)
}

// BeginHook runs first inside every transaction of a hooked TxRunner
type BeginHook func(ctx context.Context, q Queryer) error

// StatementTimeout bounds every statement of the transaction to d
func StatementTimeout(d time.Duration) BeginHook {
	return func(ctx context.Context, q Queryer) error {
		_, err := q.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", d.Milliseconds()))
		return err
	}
}

// WithBeginHooks wraps inner so hooks run at the start of each Tx. Statements
// issued outside Tx go straight to inner
func WithBeginHooks(inner TxRunner, hooks ...BeginHook) TxRunner {
	if len(hooks) == 0 {
		return inner
	}
	return hookedTx{inner: inner, hooks: hooks}
}

type hookedTx struct {
	inner TxRunner
	hooks []BeginHook
}

func (h hookedTx) Tx(ctx context.Context, fn func(q Queryer) error) error {
	return h.inner.Tx(ctx, func(q Queryer) error {
		for _, hk := range h.hooks {
			if err := hk(ctx, q); err != nil {
				return err
			}
		}
		return fn(q)
	})
}

func (h hookedTx) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	return h.inner.Exec(ctx, sql, args...)
}

func (h hookedTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return h.inner.Query(ctx, sql, args...)
}

func (h hookedTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return h.inner.QueryRow(ctx, sql, args...)
}
