// Package lock provides the cross-process advisory locks that coordinate
// writers on a hoard database: the transaction-scoped write lock, the
// server singleton lock, and the sync pipeline lock. All three are flock
// based and live in sibling files next to the database.
package lock

import (
	"fmt"
	"time"

	"github.com/hoardlabs/hoard/internal/store"
)

// ServerConflictMessage is printed verbatim when a second server starts on
// a database that already has a primary.
const ServerConflictMessage = "Another hoard server is already running on this database.\n" +
	"Only one server may write to a database at a time.\n" +
	"Stop the other process first, or use a different storage.db_path."

// WriteLockPath returns the write lock file for a database path.
func WriteLockPath(dbPath string) string { return dbPath + ".lock" }

// ServerLockPath returns the server singleton lock file for a database path.
func ServerLockPath(dbPath string) string { return dbPath + ".server" }

// SyncLockPath returns the sync pipeline lock file for a database path.
func SyncLockPath(dbPath string) string { return dbPath + ".sync" }

// WriteLock guards write transactions across processes. It is acquired
// immediately before a write transaction begins and released right after
// commit or rollback. Not safe for concurrent use by multiple goroutines;
// each acquirer makes its own WriteLock.
type WriteLock struct {
	fl      *fileLock
	timeout time.Duration
}

// NewWriteLock builds a write lock for the database at dbPath with the
// given acquisition timeout.
func NewWriteLock(dbPath string, timeout time.Duration) *WriteLock {
	return &WriteLock{fl: newFileLock(WriteLockPath(dbPath)), timeout: timeout}
}

// Acquire blocks up to the configured timeout. A false return means the
// lock stayed contended for the whole window; the caller maps that to its
// lock-unavailable failure.
func (w *WriteLock) Acquire() (bool, error) {
	return w.fl.acquire(w.timeout)
}

// Release drops the lock. Safe to call when not held.
func (w *WriteLock) Release() error { return w.fl.release() }

// Held reports whether this handle currently holds the lock.
func (w *WriteLock) Held() bool { return w.fl.held() }

// ServerLock enforces the single-primary rule. Held for the lifetime of a
// running server process.
type ServerLock struct {
	fl *fileLock
}

func NewServerLock(dbPath string) *ServerLock {
	return &ServerLock{fl: newFileLock(ServerLockPath(dbPath))}
}

// AcquireOrFail takes the singleton lock without blocking. When another
// server holds it the returned error carries ServerConflictMessage and
// unwraps to store.ErrSingletonConflict.
func (s *ServerLock) AcquireOrFail() error {
	ok, err := s.fl.tryAcquire()
	if err != nil {
		return fmt.Errorf("acquire server lock: %w", err)
	}
	if !ok {
		return &ConflictError{}
	}
	return nil
}

// ConflictError is returned when a second server starts on a held database.
type ConflictError struct{}

func (e *ConflictError) Error() string { return ServerConflictMessage }

func (e *ConflictError) Unwrap() error { return store.ErrSingletonConflict }

// Release drops the singleton lock at process shutdown.
func (s *ServerLock) Release() error { return s.fl.release() }

func (s *ServerLock) Held() bool { return s.fl.held() }

// SyncLock guards the external-connector sync pipeline. Non-blocking: an
// already-running sync means this run is skipped, not queued.
type SyncLock struct {
	fl *fileLock
}

func NewSyncLock(dbPath string) *SyncLock {
	return &SyncLock{fl: newFileLock(SyncLockPath(dbPath))}
}

// TryAcquire returns false when a sync is already in flight.
func (s *SyncLock) TryAcquire() (bool, error) { return s.fl.tryAcquire() }

func (s *SyncLock) Release() error { return s.fl.release() }

func (s *SyncLock) Held() bool { return s.fl.held() }
