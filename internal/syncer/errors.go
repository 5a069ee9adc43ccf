package syncer

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	// ErrCodeInvalidConfiguration indicates a controller could not be built,
	// e.g. a missing node. Returned synchronously; nothing is created.
	ErrCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"

	// ErrCodeInvalidIdentity indicates a remote value is a primitive where
	// a record object was expected.
	ErrCodeInvalidIdentity ErrorCode = "INVALID_IDENTITY"

	// ErrCodeRemoteOperation indicates the store rejected a read or write.
	ErrCodeRemoteOperation ErrorCode = "REMOTE_OPERATION"

	// ErrCodeReconciliationAmbiguity marks a change event for an unknown
	// member, recovered by treating it as an add. Logged, never delivered
	// as a failure.
	ErrCodeReconciliationAmbiguity ErrorCode = "RECONCILIATION_AMBIGUITY"
)

// SyncError is the error type delivered to error handlers and observers.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Path is the remote path involved, "" for the root.
	Path string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsInvalidConfiguration returns true if err is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsInvalidConfiguration(err error) bool {
	return hasCode(err, ErrCodeInvalidConfiguration)
}

// IsInvalidIdentity returns true if err reports a primitive remote value
// where a record was expected.
func IsInvalidIdentity(err error) bool {
	return hasCode(err, ErrCodeInvalidIdentity)
}

// IsRemoteOperation returns true if err reports a failed remote read or
// write.
func IsRemoteOperation(err error) bool {
	return hasCode(err, ErrCodeRemoteOperation)
}

// NewConfigError creates a SyncError for invalid construction arguments.
func NewConfigError(message string) *SyncError {
	return &SyncError{Code: ErrCodeInvalidConfiguration, Message: message}
}

// NewIdentityError creates a SyncError for a snapshot that cannot hold a
// record.
func NewIdentityError(path string, cause error) *SyncError {
	return &SyncError{
		Code:    ErrCodeInvalidIdentity,
		Message: "remote value cannot be synced as a record",
		Path:    path,
		Err:     cause,
	}
}

// NewRemoteError creates a SyncError for a failed store operation.
func NewRemoteError(op, path string, cause error) *SyncError {
	return &SyncError{
		Code:    ErrCodeRemoteOperation,
		Message: op + " failed",
		Path:    path,
		Err:     cause,
	}
}
