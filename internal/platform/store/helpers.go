package store

import (
	"context"

	perr "enrichd/internal/platform/errors"
)

// Exec runs a write and reports the rows it touched
func Exec(ctx context.Context, q RowQuerier, sql string, args ...any) (int64, error) {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Scalar scans a single-column single-row result into T
func Scalar[T any](ctx context.Context, q RowQuerier, sql string, args ...any) (v T, err error) {
	err = q.QueryRow(ctx, sql, args...).Scan(&v)
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// One maps the first row of the result; an empty result is perr.ErrNotFound
func One[T any](ctx context.Context, q RowQuerier, scan func(Row) (T, error), sql string, args ...any) (T, error) {
	var (
		out   T
		found bool
	)
	err := each(ctx, q, sql, args, func(r Row) (bool, error) {
		v, err := scan(r)
		if err != nil {
			return false, err
		}
		out, found = v, true
		return false, nil
	})
	switch {
	case err != nil:
		var zero T
		return zero, err
	case !found:
		return out, perr.ErrNotFound
	}
	return out, nil
}

// Many maps every row of the result
func Many[T any](ctx context.Context, q RowQuerier, scan func(Row) (T, error), sql string, args ...any) ([]T, error) {
	var out []T
	err := each(ctx, q, sql, args, func(r Row) (bool, error) {
		v, err := scan(r)
		if err != nil {
			return false, err
		}
		out = append(out, v)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// each feeds rows to fn until it returns false or an error
func each(ctx context.Context, q RowQuerier, sql string, args []any, fn func(Row) (bool, error)) error {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		more, err := fn(rows)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return rows.Err()
}
