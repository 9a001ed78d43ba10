// Package errors provides error codes and classification for the sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Sync taxonomy. Network failures are transient and leave queued
	// operations in place; server failures are operation-specific;
	// storage failures mean queued mutations may be at risk of loss.
	ErrNetwork ErrorCode = "NETWORK_ERROR"
	ErrServer  ErrorCode = "SERVER_ERROR"
	ErrStorage ErrorCode = "STORAGE_ERROR"

	ErrSyncFailed ErrorCode = "SYNC_FAILED"
)

// AppError is an application error with a code, an optional HTTP status
// (server errors only) and an optional wrapped cause.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewNetwork creates a transient network error.
func NewNetwork(message string, err error) *AppError {
	return &AppError{Code: ErrNetwork, Message: message, Err: err}
}

// NewServer creates a server error carrying the remote HTTP status.
func NewServer(status int, message string) *AppError {
	return &AppError{Code: ErrServer, Message: message, StatusCode: status}
}

// NewValidation creates a validation error. Validation errors are
// rejected synchronously and never enqueued.
func NewValidation(message string) *AppError {
	return &AppError{Code: ErrValidation, Message: message}
}

// NewStorage creates a local storage error.
func NewStorage(message string, err error) *AppError {
	return &AppError{Code: ErrStorage, Message: message, Err: err}
}

// CodeOf returns the error code of err, or ErrInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNetwork reports whether err is a transient network error.
func IsNetwork(err error) bool {
	return Is(err, ErrNetwork)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return Is(err, ErrValidation)
}

// IsStorage reports whether err is a local storage error.
func IsStorage(err error) bool {
	return Is(err, ErrStorage)
}

// IsRetryableServer reports whether err is a 5xx server error, which is
// retried a bounded number of times before being surfaced as permanent.
// 4xx responses are permanent and never retried.
func IsRetryableServer(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == ErrServer && appErr.StatusCode >= 500
	}
	return false
}

// StatusOf returns the HTTP status carried by a server error, or zero.
func StatusOf(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}
