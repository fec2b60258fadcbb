// Package apperror defines the error kinds surfaced by the reconciliation core.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindAuthorization Kind = "authorization"
)

// Error is a recoverable, typed failure with a human-readable detail.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Detail
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) *Error {
	return newf(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return newf(KindNotFound, op, format, args...)
}

func Authorization(op, format string, args ...any) *Error {
	return newf(KindAuthorization, op, format, args...)
}

// Conflict wraps the cause of an aborted operation the caller may retry.
func Conflict(op string, cause error, format string, args ...any) *Error {
	e := newf(KindConflict, op, format, args...)
	e.Err = cause
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
