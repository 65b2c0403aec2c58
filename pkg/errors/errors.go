// Package errors is the gateway's error taxonomy. Handlers attach an *AppError
// to the gin context and the error middleware renders it.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type ErrorCode string

const (
	ErrCodeInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden           ErrorCode = "FORBIDDEN"
	ErrCodeAuthDenied          ErrorCode = "AUTH_DENIED"
	ErrCodeConflict            ErrorCode = "CONFLICT"
	ErrCodeRateLimit           ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeBlocked             ErrorCode = "BLOCKED"
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeTransientDelivery   ErrorCode = "TRANSIENT_DELIVERY_FAILURE"
	ErrCodePermanentDelivery   ErrorCode = "PERMANENT_DELIVERY_FAILURE"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
)

var statusByCode = map[ErrorCode]int{
	ErrCodeInvalidInput:        http.StatusBadRequest,
	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeUnauthorized:        http.StatusUnauthorized,
	ErrCodeForbidden:           http.StatusForbidden,
	ErrCodeAuthDenied:          http.StatusForbidden,
	ErrCodeConflict:            http.StatusConflict,
	ErrCodeRateLimit:           http.StatusTooManyRequests,
	ErrCodeBlocked:             http.StatusTooManyRequests,
	ErrCodeUpstreamUnavailable: http.StatusServiceUnavailable,
	ErrCodeTransientDelivery:   http.StatusBadGateway,
	ErrCodePermanentDelivery:   http.StatusBadGateway,
	ErrCodeInternal:            http.StatusInternalServerError,
	ErrCodeServiceUnavailable:  http.StatusServiceUnavailable,
}

// Status is the HTTP status a code renders as; unknown codes map to 500.
func (c ErrorCode) Status() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
	// RetryAfter is set on rate-limit and block rejections.
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return string(e.Code) + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithContext attaches a detail rendered under "context" in the response body.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New builds an error whose status follows from code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: code.Status()}
}

// Wrap is New with a cause.
func Wrap(cause error, code ErrorCode, message string) *AppError {
	e := New(code, message)
	e.Cause = cause
	return e
}

func NewInvalidInputError(message string) *AppError { return New(ErrCodeInvalidInput, message) }

func NewNotFoundError(resource string) *AppError {
	return New(ErrCodeNotFound, resource+" not found")
}

func NewUnauthorizedError(message string) *AppError { return New(ErrCodeUnauthorized, message) }

func NewForbiddenError(message string) *AppError { return New(ErrCodeForbidden, message) }

func NewAuthDeniedError(message string) *AppError { return New(ErrCodeAuthDenied, message) }

func NewConflictError(message string) *AppError { return New(ErrCodeConflict, message) }

func NewRateLimitError(retryAfter time.Duration) *AppError {
	e := New(ErrCodeRateLimit, "rate limit exceeded")
	e.RetryAfter = retryAfter
	return e
}

func NewBlockedError(retryAfter time.Duration) *AppError {
	e := New(ErrCodeBlocked, "client temporarily blocked")
	e.RetryAfter = retryAfter
	return e
}

func NewUpstreamUnavailableError(cause error) *AppError {
	return Wrap(cause, ErrCodeUpstreamUnavailable, "stream validation unavailable")
}

// NewStoreUnavailableError reports that a backing store (sessions, stats,
// rate counters, attempt log) could not be reached.
func NewStoreUnavailableError(cause error, store string) *AppError {
	return Wrap(cause, ErrCodeServiceUnavailable, store+" unavailable")
}

// NewDeliveryError classifies a webhook delivery failure.
func NewDeliveryError(permanent bool, message string) *AppError {
	if permanent {
		return New(ErrCodePermanentDelivery, message)
	}
	return New(ErrCodeTransientDelivery, message)
}

func NewInternalError(message string) *AppError { return New(ErrCodeInternal, message) }

func NewServiceUnavailableError(message string) *AppError {
	return New(ErrCodeServiceUnavailable, message)
}

// GetAppError returns the first *AppError in err's chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
