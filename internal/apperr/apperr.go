// Package apperr defines the typed errors handlers translate into HTTP
// responses.
package apperr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeRateLimited  = "RATE_LIMITED"
	CodeUpstream     = "UPSTREAM_ERROR"
	CodeTimeout      = "TIMEOUT"
	CodeInternal     = "INTERNAL_ERROR"
)

// Error is an application error with a code and an HTTP status.
type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the status implied by code.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message, Status: statusFor(code)}
}

// Wrap attaches code and message to err.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, Status: statusFor(code), Err: err}
}

func Invalid(format string, args ...any) *Error {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

func BadRequest(message string) *Error {
	return New(CodeBadRequest, message)
}

func NotFound(resource string) *Error {
	return New(CodeNotFound, resource+" not found")
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = "authentication required"
	}
	return New(CodeUnauthorized, message)
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

func Upstream(err error, message string) *Error {
	return Wrap(err, CodeUpstream, message)
}

func Internal(err error) *Error {
	return Wrap(err, CodeInternal, "internal error")
}

// From converts any error into an *Error. sql.ErrNoRows becomes NOT_FOUND
// and context deadlines become TIMEOUT; anything unknown is INTERNAL_ERROR.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Wrap(err, CodeNotFound, "not found")
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, CodeTimeout, "request timed out")
	}
	return Internal(err)
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}

func statusFor(code string) int {
	switch code {
	case CodeBadRequest, CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstream:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
