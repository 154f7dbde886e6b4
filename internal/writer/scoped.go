package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/hoardlabs/hoard/internal/lock"
	"github.com/hoardlabs/hoard/internal/store"
)

// Submitter is the write capability handed to services. The server side
// passes the Coordinator; CLI commands pass a Scoped submitter that takes
// the cross-process lock per call instead.
type Submitter interface {
	Submit(ctx context.Context, fn TaskFunc) (any, error)
	SubmitRetry(ctx context.Context, budget, backoff time.Duration, fn TaskFunc) (any, error)
}

// Scoped runs each submitted task through WithWriteLock. Every call opens
// its own writer connection, so it suits one-shot commands, not servers.
type Scoped struct {
	DBPath      string
	BusyTimeout time.Duration
	LockTimeout time.Duration
}

func (s *Scoped) Submit(ctx context.Context, fn TaskFunc) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return WithWriteLock(s.DBPath, s.BusyTimeout, s.LockTimeout, fn)
}

// SubmitRetry retries transient failures with doubling backoff until the
// budget runs out, mirroring Coordinator.SubmitRetry.
func (s *Scoped) SubmitRetry(ctx context.Context, budget, backoff time.Duration, fn TaskFunc) (any, error) {
	deadline := time.Now().Add(budget)
	for {
		result, err := s.Submit(ctx, fn)
		if err == nil || !store.IsRetryable(err) {
			return result, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, err
		}
		if backoff > remaining {
			backoff = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// WithWriteLock is the administrative write path for processes that do not
// run a coordinator: acquire the cross-process write lock, open a dedicated
// writer connection, run fn in one transaction, commit or roll back, close,
// release. CLI commands (memory put, prune, migrate) all come through here
// and therefore serialize against a running server via the same lock file.
func WithWriteLock(dbPath string, busyTimeout, lockTimeout time.Duration, fn TaskFunc) (any, error) {
	wl := lock.NewWriteLock(dbPath, lockTimeout)
	ok, err := wl.Acquire()
	if err != nil {
		return nil, fmt.Errorf("acquire write lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: timed out after %s", store.ErrLockUnavailable, lockTimeout)
	}
	defer wl.Release()

	db, err := store.Open(dbPath, busyTimeout)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin write transaction: %w", err)
	}

	result, err := fn(&WriteCtx{Tx: tx})
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit write transaction: %w", err)
	}
	return result, nil
}
