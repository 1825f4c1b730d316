package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeTransport     ErrorType = "transport"
	ErrorTypeNotConfigured ErrorType = "not_configured"
	ErrorTypeUnavailable   ErrorType = "unavailable"
	ErrorTypeTimeout       ErrorType = "timeout"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

// NewTransportError signals that a channel or provider call failed and is
// worth retrying.
func NewTransportError(target, message string) *AppError {
	return NewAppError(ErrorTypeTransport, "TRANSPORT_ERROR", message).
		WithDetail("target", target)
}

// NewNotConfiguredError signals that a channel or provider has no
// configuration. Callers must treat it as a skip, never as a failure.
func NewNotConfiguredError(target string) *AppError {
	return NewAppError(ErrorTypeNotConfigured, "NOT_CONFIGURED",
		fmt.Sprintf("%s is not configured", target)).
		WithDetail("target", target)
}

// NewStoreUnavailableError signals that the persistent backing store is
// unreachable and the caller is operating in a degraded, best-effort mode.
func NewStoreUnavailableError(store string) *AppError {
	return NewAppError(ErrorTypeUnavailable, "STORE_UNAVAILABLE",
		fmt.Sprintf("%s store is unavailable", store)).
		WithDetail("store", store)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == errorType
	}
	return false
}

// IsNotConfigured reports whether the error marks an absent configuration.
func IsNotConfigured(err error) bool {
	return IsType(err, ErrorTypeNotConfigured)
}

// IsStoreUnavailable reports whether the error marks an unreachable store.
func IsStoreUnavailable(err error) bool {
	return IsType(err, ErrorTypeUnavailable)
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}
