package store

import (
	"errors"
	"strings"
)

// Failure kinds the write layer surfaces. Transient-busy never appears here:
// the driver's busy_timeout absorbs it below this layer.
var (
	// ErrLockUnavailable means the database write lock was not acquired
	// within the configured timeout. Retryable by the caller.
	ErrLockUnavailable = errors.New("database write lock unavailable")

	// ErrPreconditionMissed means an optimistic guard matched zero rows.
	// Callers usually see this as a no-op outcome, not a failure.
	ErrPreconditionMissed = errors.New("precondition missed")

	// ErrIntegrityViolation means a storage invariant was broken and the
	// enclosing transaction was rolled back.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrSingletonConflict means another server already holds the singleton
	// lock on this database.
	ErrSingletonConflict = errors.New("server already running")

	// ErrStorageUnavailable means the database file could not be opened.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound means the requested entity does not exist.
	ErrNotFound = errors.New("not found")
)

// IsRetryable reports whether err is worth re-submitting: a lock timeout or
// a busy/locked condition that escaped the driver's retry budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrLockUnavailable) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database is busy")
}
