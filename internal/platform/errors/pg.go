package errors

import (
	"context"
	stderrs "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE classes and codes the index and directory adapters react to
var pgCodes = map[string]ErrorCode{
	"23505": ErrorCodeDuplicateKey,    // unique_violation
	"23503": ErrorCodeInvalidArgument, // foreign_key_violation
	"23502": ErrorCodeValidation,      // not_null_violation
	"23514": ErrorCodeValidation,      // check_violation
	"22001": ErrorCodeInvalidArgument, // string_data_right_truncation
	"22P02": ErrorCodeInvalidArgument, // invalid_text_representation
	"25006": ErrorCodeUnavailable,     // read_only_sql_transaction
	"57P03": ErrorCodeUnavailable,     // cannot_connect_now
	"42P01": ErrorCodeNotFound,        // undefined_table
}

// contention codes: serialization_failure, deadlock_detected, lock_not_available
var pgRetryable = []string{"40001", "40P01", "55P03"}

// driver text seen when the SQLSTATE is lost, e.g. on commit
var pgRetryableText = []string{
	"commit unexpectedly resulted in rollback",
	"deadlock detected",
	"could not serialize access",
	"canceling statement due to statement timeout",
	"canceling statement due to lock timeout",
	"terminating connection due to administrator command",
}

func pgError(err error) (*pgconn.PgError, bool) {
	var pe *pgconn.PgError
	ok := stderrs.As(err, &pe)
	return pe, ok
}

// IsSQLState reports whether err is a postgres error with SQLSTATE code
func IsSQLState(err error, code string) bool {
	pe, ok := pgError(err)
	return ok && pe.Code == code
}

// IsUndefinedTable reports a missing relation, as when an index was never created
func IsUndefinedTable(err error) bool { return IsSQLState(err, "42P01") }

// FromPostgres classifies a pgx error by SQLSTATE; nil stays nil
func FromPostgres(err error, msg string) error {
	if err == nil {
		return nil
	}
	code := ErrorCodeDB
	if pe, ok := pgError(err); ok {
		if c, known := pgCodes[pe.Code]; known {
			code = c
		}
	}
	return Wrap(err, code, msg)
}

// FromPostgresf is FromPostgres with a format
func FromPostgresf(err error, format string, a ...any) error {
	return FromPostgres(err, fmt.Sprintf(format, a...))
}

// IsRetryable reports postgres contention worth another attempt. Local
// cancellations are never retryable
func IsRetryable(err error) bool {
	if err == nil || stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
		return false
	}
	if pe, ok := pgError(err); ok {
		for _, c := range pgRetryable {
			if pe.Code == c {
				return true
			}
		}
		return false
	}
	s := strings.ToLower(err.Error())
	for _, t := range pgRetryableText {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
