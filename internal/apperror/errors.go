package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-checkable error category.
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindValidation      Kind = "VALIDATION"
	KindConflict        Kind = "CONFLICT"
	KindNotContestable  Kind = "NOT_CONTESTABLE"
	KindAlreadyResolved Kind = "ALREADY_RESOLVED"
	KindInvalidSchedule Kind = "INVALID_SCHEDULE"
	KindForbidden       Kind = "FORBIDDEN"
	KindRetryable       Kind = "RETRYABLE"
	KindInternal        Kind = "INTERNAL"
)

// HTTPStatus maps the kind onto a response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict, KindAlreadyResolved, KindRetryable:
		return http.StatusConflict
	case KindNotContestable, KindInvalidSchedule:
		return http.StatusUnprocessableEntity
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type carried across service boundaries.
type Error struct {
	Kind    Kind              // Machine-readable category
	Message string            // Human-readable message
	Fields  map[string]string // Per-field messages for validation failures
	Cause   error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a domain error with a kind and message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Sentinels usable as errors.Is targets.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrNotContestable  = &Error{Kind: KindNotContestable}
	ErrAlreadyResolved = &Error{Kind: KindAlreadyResolved}
	ErrInvalidSchedule = &Error{Kind: KindInvalidSchedule}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrRetryable       = &Error{Kind: KindRetryable}
)

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, format, args...)
}

func NotContestable(format string, args ...interface{}) *Error {
	return New(KindNotContestable, format, args...)
}

func AlreadyResolved(format string, args ...interface{}) *Error {
	return New(KindAlreadyResolved, format, args...)
}

func InvalidSchedule(format string, args ...interface{}) *Error {
	return New(KindInvalidSchedule, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return New(KindForbidden, format, args...)
}

func Retryable(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindRetryable, cause, format, args...)
}

// Validation creates a validation error with per-field messages.
func Validation(message string, fields map[string]string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: message,
		Fields:  fields,
	}
}

// Field creates a validation error for a single field.
func Field(field, message string) *Error {
	return Validation(field+": "+message, map[string]string{field: message})
}

// KindOf returns the kind of the first domain error in the chain, or
// KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries a domain error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
