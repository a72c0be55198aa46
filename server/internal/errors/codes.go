package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies failures of asset and search operations.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the asset does not exist or belongs to another tenant.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInvalidArgument indicates malformed input.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeTransient indicates a dependency timed out or was unavailable.
	ErrCodeTransient ErrorCode = "TRANSIENT_DEPENDENCY_FAILURE"
	// ErrCodePermanent indicates a failure that retrying cannot fix.
	ErrCodePermanent ErrorCode = "PERMANENT_FAILURE"
	// ErrCodeUnauthorized indicates authentication failure.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeServiceUnavailable indicates a feature is not configured.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeInternal is used for unclassified errors.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error is a classified error.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NotFound creates a not found error.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps a dependency failure that may succeed on retry.
func Transient(cause error, msg string) *Error {
	return &Error{Code: ErrCodeTransient, Message: msg, Cause: cause}
}

// Permanent wraps a failure that should not be retried.
func Permanent(cause error, msg string) *Error {
	return &Error{Code: ErrCodePermanent, Message: msg, Cause: cause}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *Error {
	return &Error{Code: ErrCodeUnauthorized, Message: msg}
}

// RateLimitExceeded creates a rate limit exceeded error.
func RateLimitExceeded(msg string) *Error {
	return &Error{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// ServiceUnavailable creates a service unavailable error.
func ServiceUnavailable(msg string) *Error {
	return &Error{Code: ErrCodeServiceUnavailable, Message: msg}
}

// CodeOf returns the code of the outermost classified error in err's chain.
// Context cancellation and deadlines count as transient.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.Code
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return ErrCodeTransient
	}
	return ErrCodeInternal
}

// PublicMessage returns the message of the outermost classified error in err's
// chain without its cause. Unclassified errors yield a generic message.
func PublicMessage(err error) string {
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.Message
	}
	return "internal error"
}

// HTTPStatus maps an error code to an HTTP status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeTransient, ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
