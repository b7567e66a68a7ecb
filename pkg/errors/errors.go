package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Call lifecycle errors
	ErrCodeCallInProgress       ErrorCode = "CALL_IN_PROGRESS"
	ErrCodeCallNotFound         ErrorCode = "CALL_NOT_FOUND"
	ErrCodeNotGroupCall         ErrorCode = "NOT_GROUP_CALL"
	ErrCodeRecordingUnavailable ErrorCode = "RECORDING_UNAVAILABLE"
	ErrCodePermissionDenied     ErrorCode = "PERMISSION_DENIED"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeStorage  ErrorCode = "STORAGE_ERROR"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
// The status code defaults to 500 Internal Server Error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// WrapWithStatus wraps an existing error with an AppError and specific status code
func WrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Validation errors
func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidInputError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

// Authentication errors
func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidTokenError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidToken, message, http.StatusUnauthorized)
}

// Call lifecycle errors

// CallInProgressError signals an attempt to start a call while one is active
func CallInProgressError() *AppError {
	return NewWithStatus(ErrCodeCallInProgress, "A call is already in progress", http.StatusConflict)
}

// CallNotFoundError signals an operation against a call id that is not the current session
func CallNotFoundError() *AppError {
	return NewWithStatus(ErrCodeCallNotFound, "Call not found", http.StatusNotFound)
}

// NotGroupCallError signals a participant add on a call not modeled as a group call
func NotGroupCallError() *AppError {
	return NewWithStatus(ErrCodeNotGroupCall, "Participants can only be added to group calls", http.StatusConflict)
}

// RecordingUnavailableError signals recording requested while disabled, already
// active, or with no active call
func RecordingUnavailableError(message string) *AppError {
	return NewWithStatus(ErrCodeRecordingUnavailable, message, http.StatusConflict)
}

// PermissionDeniedError is surfaced from the media/recording collaborator and
// propagated unchanged
func PermissionDeniedError(err error) *AppError {
	return WrapWithStatus(ErrCodePermissionDenied, "Media permission denied", http.StatusForbidden, err)
}

// Internal errors
func InternalError(message string, err error) *AppError {
	return Wrap(ErrCodeInternal, message, err)
}

func DatabaseError(message string, err error) *AppError {
	return Wrap(ErrCodeDatabase, message, err)
}

func StorageError(message string, err error) *AppError {
	return Wrap(ErrCodeStorage, message, err)
}

// Is checks whether err carries the given application error code
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// FromError extracts an AppError, wrapping unknown errors as internal
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(ErrCodeInternal, "An unexpected error occurred", err)
}
