// Package errors provides coded application errors shared by all layers.
// The code determines both the HTTP status a handler responds with and how
// a caller should react (fix input, re-read state, give up).
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an application error.
type Code string

const (
	// ErrCodeValidation marks caller errors rejected before any mutation.
	ErrCodeValidation Code = "VALIDATION"
	// ErrCodeUnauthorized marks missing capability or invalid transitions.
	ErrCodeUnauthorized Code = "UNAUTHORIZED"
	// ErrCodeConflict marks expected-status preconditions lost to a
	// concurrent writer; the caller should re-read and may retry.
	ErrCodeConflict Code = "CONFLICT"
	// ErrCodeNotFound marks a missing resource.
	ErrCodeNotFound Code = "NOT_FOUND"
	// ErrCodeUnavailable marks an unreachable external dependency.
	ErrCodeUnavailable Code = "UNAVAILABLE"
	// ErrCodeInternal marks unexpected failures (database, marshalling).
	ErrCodeInternal Code = "INTERNAL"
)

// Error is a coded application error. Field is set for validation errors so
// a UI can point at the offending input.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving it as the cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// InvalidInput creates a validation error tied to a specific field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeValidation, Message: message, Field: field}
}

// NotFound creates a not-found error for a resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// Unauthorized creates an authorization error.
func Unauthorized(message string) *Error {
	return &Error{Code: ErrCodeUnauthorized, Message: message}
}

// CodeOf returns the code of err, walking the unwrap chain. Errors without a
// code are reported as internal.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error code to the HTTP status a handler should return.
func HTTPStatus(code Code) int {
	switch code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
