package engine

import (
	"errors"
	"fmt"
)

// ErrSyncUnavailable is matched by every error caused by the remote being
// unreachable or failing. The run had no effect beyond what it reports.
var ErrSyncUnavailable = errors.New("sync unavailable")

// ErrorCode categorizes sync failures.
type ErrorCode string

const (
	// CodeUnavailable means the remote could not be reached or failed.
	CodeUnavailable ErrorCode = "UNAVAILABLE"

	// CodeRejected means the remote refused the request as malformed.
	CodeRejected ErrorCode = "REJECTED"

	// CodeStorage means the local store failed.
	CodeStorage ErrorCode = "STORAGE"

	// CodeCancelled means the context was cancelled between phases.
	CodeCancelled ErrorCode = "CANCELLED"

	// CodeMerge means two envelopes could not be merged.
	CodeMerge ErrorCode = "MERGE"
)

// SyncError describes a failed sync run.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Phase is the state the run was in when it failed.
	Phase State

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	return fmt.Sprintf("%s during %s: %v", e.Code, e.Phase, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error { return e.Err }

// IsUnavailable returns true if err is an unavailable-remote failure.
// Uses errors.As to handle wrapped errors.
func IsUnavailable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == CodeUnavailable
	}
	return false
}

// IsStorageError returns true if the local store failed.
func IsStorageError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == CodeStorage
	}
	return false
}

// IsCancelled returns true if the run stopped because its context ended.
func IsCancelled(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == CodeCancelled
	}
	return false
}

func newSyncError(code ErrorCode, phase State, err error) *SyncError {
	return &SyncError{Code: code, Phase: phase, Err: err}
}
