package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Status     int      `json:"status"`
	Details    []string `json:"details,omitempty"`
	Resource   string   `json:"resource,omitempty"`
	ResourceID string   `json:"resource_id,omitempty"`
	Err        error    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same error code, so that
// errors.Is(err, ErrNotFound) matches clones of the predefined errors.
func (e *Error) Is(target error) bool {
	var t *Error
	if e == nil || !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrUnavailable  = New("SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, "service unavailable")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	if err.Details != nil {
		clone.Details = append([]string(nil), err.Details...)
	}
	return &clone
}

// Validation builds a validation failure carrying every rule violation.
func Validation(message string, details []string) *Error {
	e := Clone(ErrValidation, message)
	e.Details = append([]string(nil), details...)
	return e
}

// NotFound builds a not-found error naming the missing entity and its id.
func NotFound(resource string, id int64) *Error {
	e := Clone(ErrNotFound, fmt.Sprintf("%s %d not found", resource, id))
	e.Resource = resource
	e.ResourceID = strconv.FormatInt(id, 10)
	return e
}

// Internal wraps an unexpected failure.
func Internal(err error, message string) *Error {
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, message)
}
