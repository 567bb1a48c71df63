// Package errors provides coded application errors that map onto HTTP
// status codes at the boundary. Wrapped errors stay visible to the standard
// library's errors.Is/As through Unwrap.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an application error.
type Code string

const (
	ErrCodeValidation       Code = "VALIDATION"
	ErrCodeNotFound         Code = "NOT_FOUND"
	ErrCodeConflict         Code = "CONFLICT"
	ErrCodeIdempotencyReuse Code = "IDEMPOTENCY_REUSE"
	ErrCodeUnauthorized     Code = "UNAUTHORIZED"
	ErrCodeInternal         Code = "INTERNAL"
)

// Error is a coded application error.
type Error struct {
	ErrCode Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrCode, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with a message.
func New(code Code, message string) *Error {
	return &Error{ErrCode: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{ErrCode: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{ErrCode: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InvalidInput reports a client-fixable input problem on a named field.
func InvalidInput(field, message string) *Error {
	return &Error{ErrCode: ErrCodeValidation, Message: fmt.Sprintf("%s: %s", field, message)}
}

// Conflict reports a guard violation, version mismatch or disallowed transition.
func Conflict(message string) *Error {
	return &Error{ErrCode: ErrCodeConflict, Message: message}
}

// CodeOf extracts the code from err, or ErrCodeInternal for unclassified errors.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.ErrCode
	}
	return ErrCodeInternal
}

// MessageOf returns the user-facing message for err. Unclassified errors get a
// generic message so internals are not leaked to clients.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeIdempotencyReuse:
		return http.StatusConflict
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Is re-exports the standard library helper so callers importing this package
// do not need a second errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As re-exports the standard library helper.
func As(err error, target any) bool { return errors.As(err, target) }
