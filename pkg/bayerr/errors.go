package bayerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a public, stable error code exposed on the API surface.
type Code string

const (
	CodeNotFound               Code = "not_found"
	CodeUnauthorized           Code = "unauthorized"
	CodeForbidden              Code = "forbidden"
	CodeValidation             Code = "validation_error"
	CodeInvalidPath            Code = "invalid_path"
	CodeCapabilityNotSupported Code = "capability_not_supported"
	CodeConflict               Code = "conflict"
	CodeSandboxExpired         Code = "sandbox_expired"
	CodeSandboxTTLInfinite     Code = "sandbox_ttl_infinite"
	CodeFileNotFound           Code = "file_not_found"
	CodeQuotaExceeded          Code = "quota_exceeded"
	CodeSessionNotReady        Code = "session_not_ready"
	CodeShipError              Code = "ship_error"
	CodeRuntimeError           Code = "runtime_error"
	CodeTimeout                Code = "timeout"
	CodeInternal               Code = "internal_error"
)

// Error is the typed error returned by every fallible Bay operation.
// Storage and driver failures are wrapped here before crossing a package
// boundary; the raw cause never reaches the API surface.
type Error struct {
	Code         Code
	Message      string
	Details      map[string]any
	RetryAfterMS int // >0 on retryable errors (session_not_ready)
	cause        error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on code so callers can compare against sentinel constructors.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus maps the public taxonomy onto HTTP status codes.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeNotFound, CodeFileNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeValidation, CodeInvalidPath, CodeCapabilityNotSupported:
		return http.StatusBadRequest
	case CodeConflict, CodeSandboxExpired, CodeSandboxTTLInfinite:
		return http.StatusConflict
	case CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeSessionNotReady:
		return http.StatusServiceUnavailable
	case CodeShipError, CodeRuntimeError:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates an Error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause. The cause is logged, never serialized.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails attaches structured details to the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithRetryAfter sets the retry hint in milliseconds.
func (e *Error) WithRetryAfter(ms int) *Error {
	e.RetryAfterMS = ms
	return e
}

// NotFound is a convenience constructor for missing resources.
func NotFound(resource, id string) *Error {
	return Newf(CodeNotFound, "%s not found: %s", resource, id)
}

// SessionNotReady builds the transient startup error with a retry hint.
func SessionNotReady(sandboxID string, retryAfterMS int) *Error {
	return Newf(CodeSessionNotReady, "session is starting for sandbox %s", sandboxID).
		WithRetryAfter(retryAfterMS)
}

// Internal wraps an unexpected failure, hiding the cause from callers.
func Internal(cause error) *Error {
	return Wrap(CodeInternal, "internal error", cause)
}

// CodeOf extracts the public code from any error; unknown errors map to
// internal_error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// AsError normalizes any error into *Error, wrapping unknown ones as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
