package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a validation error
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeConflict indicates an invalid state transition or duplicate data
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from external service
	ErrorTypeExternal ErrorType = "EXTERNAL"

	// ErrorTypeDecode indicates the source media could not be decoded
	ErrorTypeDecode ErrorType = "DECODE"

	// ErrorTypeTransientBackend is a retryable analysis backend failure
	ErrorTypeTransientBackend ErrorType = "TRANSIENT_BACKEND"

	// ErrorTypePermanentBackend is an analysis backend failure that must not be retried
	ErrorTypePermanentBackend ErrorType = "PERMANENT_BACKEND"

	// ErrorTypeChannel indicates a realtime channel signaling failure
	ErrorTypeChannel ErrorType = "CHANNEL"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Message: message,
		Err:     err,
	}
}

// NewDecodeError creates an error for undecodable source media
func NewDecodeError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeDecode,
		Message: message,
		Err:     err,
	}
}

// NewTransientBackendError creates a retryable backend error
func NewTransientBackendError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeTransientBackend,
		Message: message,
		Err:     err,
	}
}

// NewPermanentBackendError creates a non-retryable backend error
func NewPermanentBackendError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypePermanentBackend,
		Message: message,
		Err:     err,
	}
}

// NewChannelError creates a realtime channel error
func NewChannelError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeChannel,
		Message: message,
		Err:     err,
	}
}

// IsType reports whether any error in err's chain is an AppError of type t.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// IsNotFound reports whether err is a NOT_FOUND AppError.
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsTransient reports whether err is worth retrying. Only transient backend
// errors and plain (untyped) errors such as network failures are retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	switch appErr.Type {
	case ErrorTypeTransientBackend, ErrorTypeExternal, ErrorTypeInternal:
		return true
	}
	return false
}
