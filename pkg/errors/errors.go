package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidCommand     ErrorCode = "INVALID_COMMAND"
	ErrCodeCallNotFound       ErrorCode = "CALL_NOT_FOUND"
	ErrCodeAlreadyInCall      ErrorCode = "ALREADY_IN_CALL"
	ErrCodeNotInCall          ErrorCode = "NOT_IN_CALL"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeMediaDegraded      ErrorCode = "MEDIA_DEGRADED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
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

// Common error constructors

func NewInvalidCommandError(message string) *AppError {
	return NewAppError(ErrCodeInvalidCommand, message, http.StatusBadRequest)
}

func NewCallNotFoundError(callID string) *AppError {
	return NewAppError(ErrCodeCallNotFound, fmt.Sprintf("call %s not found", callID), http.StatusNotFound)
}

func NewAlreadyInCallError() *AppError {
	return NewAppError(ErrCodeAlreadyInCall, "a call is already active", http.StatusConflict)
}

func NewNotInCallError() *AppError {
	return NewAppError(ErrCodeNotInCall, "no call is active", http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "too many call attempts", http.StatusTooManyRequests)
}

func NewBackendUnavailableError(err error) *AppError {
	return WrapError(err, ErrCodeBackendUnavailable, "signaling store unavailable", http.StatusServiceUnavailable)
}

// GetAppError extracts an *AppError from err's chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsCode reports whether err carries an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
