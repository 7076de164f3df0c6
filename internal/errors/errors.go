// Package errors provides error code definitions shared across the sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies a failure for retry and reporting decisions.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrPermission ErrorCode = "PERMISSION_DENIED"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Backend errors
	ErrNetwork        ErrorCode = "NETWORK_UNAVAILABLE"
	ErrBackend        ErrorCode = "BACKEND_ERROR"
	ErrBackendTimeout ErrorCode = "BACKEND_TIMEOUT"

	// Sync errors
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrSyncConflict   ErrorCode = "SYNC_CONFLICT"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrPolicyDenied   ErrorCode = "POLICY_DENIED"

	// Storage errors
	ErrStorageBucket ErrorCode = "STORAGE_BUCKET_UNRESOLVED"
	ErrMediaCache    ErrorCode = "MEDIA_CACHE_FAILED"
)

// AppError carries an error code alongside a human-readable message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
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
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code. The check follows wrapped
// error chains, so a code survives fmt.Errorf("%w") wrapping.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the error code of err, or ErrInternal when err carries none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsConflict reports whether err indicates a version conflict. Conflict
// failures are terminal: the drain path must not retry them.
func IsConflict(err error) bool {
	return Is(err, ErrSyncConflict)
}

// IsRetryable reports whether a failed operation should stay eligible for a
// future drain attempt. Conflicts and permission denials are terminal;
// everything else is assumed transient.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrSyncConflict, ErrPermission, ErrInvalid:
		return false
	}
	return true
}
