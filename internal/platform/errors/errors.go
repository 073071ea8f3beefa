// Package errors provides the coded error type shared by enrichd packages.
// Import it as perr
package errors

import (
	stderrs "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies an error for skip counting, retries and ops responses
type ErrorCode uint16

const (
	ErrorCodeUnknown ErrorCode = iota
	// ErrorCodePanic is a panic recovered by middleware
	ErrorCodePanic
	// ErrorCodeUnavailable is transient and worth a retry
	ErrorCodeUnavailable
	ErrorCodeTooManyRequests
	// ErrorCodeInvalidArgument is bad caller input or configuration
	ErrorCodeInvalidArgument
	ErrorCodeValidation
	ErrorCodeJSON
	ErrorCodeNotFound
	ErrorCodeDuplicateKey
	ErrorCodeDB
	// ErrorCodeStructural marks a raw record lacking a required field; only that record is skipped
	ErrorCodeStructural
	// ErrorCodePartialUpload marks a flush that stored fewer documents than it sent
	ErrorCodePartialUpload
	// ErrorCodeJoinMiss marks an activity username absent from the activity table
	ErrorCodeJoinMiss
)

var codeInfo = map[ErrorCode]struct {
	name   string
	status int
}{
	ErrorCodeUnknown:         {"unknown", http.StatusInternalServerError},
	ErrorCodePanic:           {"panic", http.StatusInternalServerError},
	ErrorCodeUnavailable:     {"unavailable", http.StatusServiceUnavailable},
	ErrorCodeTooManyRequests: {"too_many_requests", http.StatusTooManyRequests},
	ErrorCodeInvalidArgument: {"invalid_argument", http.StatusUnprocessableEntity},
	ErrorCodeValidation:      {"validation", http.StatusBadRequest},
	ErrorCodeJSON:            {"json", http.StatusBadRequest},
	ErrorCodeNotFound:        {"not_found", http.StatusNotFound},
	ErrorCodeDuplicateKey:    {"duplicate_key", http.StatusConflict},
	ErrorCodeDB:              {"db", http.StatusInternalServerError},
	ErrorCodeStructural:      {"structural", http.StatusBadRequest},
	ErrorCodePartialUpload:   {"partial_upload", http.StatusBadGateway},
	ErrorCodeJoinMiss:        {"join_miss", http.StatusNotFound},
}

// String is the lower-case name used in logs and run reports
func (c ErrorCode) String() string {
	if i, ok := codeInfo[c]; ok {
		return i.name
	}
	return "unknown"
}

// HTTPStatus maps any error to a status code through its ErrorCode
func HTTPStatus(err error) int {
	if i, ok := codeInfo[CodeOf(err)]; ok {
		return i.status
	}
	return http.StatusInternalServerError
}

// ErrNotFound is the sentinel for single-row lookups that matched nothing
var ErrNotFound = New(ErrorCodeNotFound, "not found")

// Error carries a code, a message, an optional field and op label, and a cause
type Error struct {
	code  ErrorCode
	msg   string
	field string
	op    string
	orig  error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.orig != nil:
		return e.msg + ": " + e.orig.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.orig }

// Code returns the classification
func (e *Error) Code() ErrorCode { return e.code }

// Field names the offending input, e.g. a raw file line
func (e *Error) Field() string { return e.field }

// Op names the operation that failed
func (e *Error) Op() string { return e.op }

// Wire is the JSON error body served by the ops endpoints
type Wire struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

// WireFrom renders err for a response body; foreign errors become unknown
func WireFrom(err error) Wire {
	if err == nil {
		return Wire{}
	}
	if e, ok := As(err); ok {
		return Wire{Code: e.code, Message: e.msg, Field: e.field}
	}
	return Wire{Code: ErrorCodeUnknown, Message: err.Error()}
}

// As finds the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	ok := stderrs.As(err, &e)
	return e, ok
}

// CodeOf returns err's code, ErrorCodeUnknown for foreign errors
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ErrorCodeUnknown
}

// IsCode reports whether err carries code
func IsCode(err error, code ErrorCode) bool { return CodeOf(err) == code }

// WithField returns a copy of err with field set; foreign errors pass through
func WithField(err error, field string) error {
	return modify(err, func(e *Error) { e.field = field })
}

// WithOp returns a copy of err with op set; foreign errors pass through
func WithOp(err error, op string) error {
	return modify(err, func(e *Error) { e.op = op })
}

func modify(err error, fn func(*Error)) error {
	e, ok := As(err)
	if !ok {
		return err
	}
	c := *e
	fn(&c)
	return &c
}

// New returns an *Error with code and msg
func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

// Newf is New with a format
func Newf(code ErrorCode, format string, a ...any) error {
	return New(code, fmt.Sprintf(format, a...))
}

// Wrap classifies orig under code
func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

// Wrapf is Wrap with a format
func Wrapf(orig error, code ErrorCode, format string, a ...any) error {
	return Wrap(orig, code, fmt.Sprintf(format, a...))
}

// NotFoundf, InvalidArgf and the rest below are Newf with the code fixed

func NotFoundf(format string, a ...any) error { return Newf(ErrorCodeNotFound, format, a...) }

func InvalidArgf(format string, a ...any) error { return Newf(ErrorCodeInvalidArgument, format, a...) }

func JSONErrf(format string, a ...any) error { return Newf(ErrorCodeJSON, format, a...) }

func PanicErrf(format string, a ...any) error { return Newf(ErrorCodePanic, format, a...) }

func Unavailablef(format string, a ...any) error { return Newf(ErrorCodeUnavailable, format, a...) }

func Structuralf(format string, a ...any) error { return Newf(ErrorCodeStructural, format, a...) }

func PartialUploadf(format string, a ...any) error { return Newf(ErrorCodePartialUpload, format, a...) }

func JoinMissf(format string, a ...any) error { return Newf(ErrorCodeJoinMiss, format, a...) }

// Retryable reports whether another attempt may succeed: transient codes and
// the postgres conditions IsRetryable recognises
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ErrorCodeUnavailable, ErrorCodeTooManyRequests:
		return true
	}
	return IsRetryable(err)
}
