package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeIllegalState       ErrorCode = "ILLEGAL_STATE"
	ErrCodeLimitExceeded      ErrorCode = "LIMIT_EXCEEDED"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError is an error that carries an HTTP status and a stable code for
// API responses. Status is the numeric session status code when the error
// originated in the session layer, or zero.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Status     int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithStatus records the originating session status code.
func (e *AppError) WithStatus(status int) *AppError {
	e.Status = status
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewIllegalStateError(message string) *AppError {
	return NewAppError(ErrCodeIllegalState, message, http.StatusConflict)
}

func NewLimitExceededError(message string) *AppError {
	return NewAppError(ErrCodeLimitExceeded, message, http.StatusForbidden)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// IsAppError reports whether err or anything it wraps is an AppError.
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// FromStatus maps a numeric session status code onto an API error. Codes
// outside the known set become internal errors.
func FromStatus(status int, message string, cause error) *AppError {
	var e *AppError
	switch status {
	case 1, 1005, 1011, 1413, 1414, 1461:
		e = NewInvalidInputError(message)
	case 6, 7, 103, 104, 1112, 1113, 3604:
		e = NewNotFoundError(message)
		e.Message = message
	case 1004:
		e = NewUnauthorizedError(message)
	case 1026, 1910:
		e = NewForbiddenError(message)
	case 3, 1010, 1015, 1020:
		e = NewIllegalStateError(message)
	case 1027, 2605, 3605:
		e = NewLimitExceededError(message)
	case 1021, 1022, 1023, 1503, 2541, 3542:
		e = NewServiceUnavailableError(message)
	default:
		e = NewInternalError(message)
	}
	e.Cause = cause
	return e.WithStatus(status)
}
