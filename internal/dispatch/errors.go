package dispatch

import (
	"errors"

	"github.com/hoardlabs/hoard/internal/store"
)

// ErrorCode buckets an operation error for transport surfaces. Callers of
// write tools key retry decisions off these strings, so the mapping stays
// stable even when the underlying messages change.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, store.ErrLockUnavailable):
		return "lock_unavailable"
	case errors.Is(err, store.ErrPreconditionMissed):
		return "precondition_missed"
	case errors.Is(err, store.ErrIntegrityViolation):
		return "integrity_violation"
	case errors.Is(err, store.ErrSingletonConflict):
		return "singleton_conflict"
	case errors.Is(err, store.ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case store.IsRetryable(err):
		return "transient_busy"
	default:
		return "internal"
	}
}
