// Package apierr provides the structured error kinds used across Triggr's
// gateway, document store, and trigger router (spec.md §7).
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies one of the error kinds spec.md §7 maps to an HTTP status.
type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeStorage      Code = "STORAGE_ERROR"
	CodeChain        Code = "CHAIN_ERROR"
	CodeInternal     Code = "INTERNAL_ERROR"
)

var statusByCode = map[Code]int{
	CodeValidation:   http.StatusBadRequest,
	CodeUnauthorized: http.StatusUnauthorized,
	CodeForbidden:    http.StatusForbidden,
	CodeNotFound:     http.StatusNotFound,
	CodeConflict:     http.StatusConflict,
	CodeRateLimited:  http.StatusTooManyRequests,
	CodeStorage:      http.StatusInternalServerError,
	CodeChain:        http.StatusBadGateway,
	CodeInternal:     http.StatusInternalServerError,
}

// Error is a structured, HTTP-status-bearing error returned by public
// operations across C1-C9. Some operations (e.g. in the DSL evaluator and
// the chain decoder) return plain errors instead; the gateway maps any
// error that is not an *Error to CodeInternal.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus reports the status code this error should surface as.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithDetail attaches a diagnostic key/value pair, e.g. which validation
// check failed, and returns the same error for chaining.
func (e *Error) WithDetail(key string, val interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = val
	return e
}

// New constructs an Error of the given kind.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches an underlying cause to a new Error of the given kind.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

func Validation(format string, args ...interface{}) *Error { return Newf(CodeValidation, format, args...) }
func NotFound(format string, args ...interface{}) *Error   { return Newf(CodeNotFound, format, args...) }
func Conflict(format string, args ...interface{}) *Error   { return Newf(CodeConflict, format, args...) }
func Unauthorized(format string, args ...interface{}) *Error {
	return Newf(CodeUnauthorized, format, args...)
}
func Forbidden(format string, args ...interface{}) *Error { return Newf(CodeForbidden, format, args...) }
func Storage(cause error) *Error                          { return Wrap(CodeStorage, "storage failure", cause) }
func Chain(format string, args ...interface{}) *Error     { return Newf(CodeChain, format, args...) }

// As extracts an *Error from err, if present, following the standard
// errors.As unwrap chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
