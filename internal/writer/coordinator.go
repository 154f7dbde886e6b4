// Package writer serializes all mutations of a hoard database. Every write
// in a server process funnels through one Coordinator goroutine that owns
// the sole writable connection; CLI processes use the scoped helper in
// scoped.go. Both paths take the same cross-process write lock, so server
// and CLI writes interleave cleanly.
package writer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hoardlabs/hoard/internal/lock"
	"github.com/hoardlabs/hoard/internal/store"
)

// ErrClosed is returned by Submit after Close has drained the queue.
var ErrClosed = errors.New("write coordinator closed")

// maxBackoff caps the per-attempt sleep in SubmitRetry.
const maxBackoff = 500 * time.Millisecond

// TaskFunc is a unit of write work. It runs on the coordinator goroutine
// inside an open transaction and must not retain wc beyond its return.
type TaskFunc func(wc *WriteCtx) (any, error)

// WriteCtx is the capability handed to a running write task: the open
// transaction plus an inline re-submission path. Helpers that would submit
// a write from inside a write call wc.Submit instead of going back through
// the coordinator; the nested function joins the current transaction, so a
// task can never deadlock against itself and its helpers stay atomic with it.
type WriteCtx struct {
	Tx *sql.Tx
}

// Submit runs fn inline on the current transaction.
func (wc *WriteCtx) Submit(fn TaskFunc) (any, error) {
	return fn(wc)
}

type task struct {
	fn     TaskFunc
	done   chan struct{}
	result any
	err    error
}

// Coordinator owns the writable connection and the single worker goroutine
// that drains the FIFO submission queue.
type Coordinator struct {
	db          *store.DB
	lockTimeout time.Duration
	logger      *slog.Logger

	queue    chan *task
	stopped  chan struct{}
	finished chan struct{}
	closeMu  sync.Mutex
	closed   bool
}

// New starts a coordinator over the given writer handle. lockTimeout bounds
// each write-lock acquisition.
func New(db *store.DB, lockTimeout time.Duration, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		db:          db,
		lockTimeout: lockTimeout,
		logger:      logger.With("component", "writer"),
		queue:       make(chan *task, 64),
		stopped:     make(chan struct{}),
		finished:    make(chan struct{}),
	}
	go c.run()
	return c
}

// Submit enqueues fn and blocks until it completes or ctx is done. Once
// enqueued a task always runs; a departed submitter just never sees the
// result. Tasks from concurrent submitters execute in enqueue order.
func (c *Coordinator) Submit(ctx context.Context, fn TaskFunc) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-c.stopped:
		return nil, ErrClosed
	default:
	}
	t := &task{fn: fn, done: make(chan struct{})}
	select {
	case c.queue <- t:
	case <-c.stopped:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitRetry wraps Submit with the upper-layer retry policy: retryable
// failures (lock timeout, residual busy) are re-submitted with doubling
// backoff until the budget runs out.
func (c *Coordinator) SubmitRetry(ctx context.Context, budget, backoff time.Duration, fn TaskFunc) (any, error) {
	deadline := time.Now().Add(budget)
	wait := backoff
	for {
		result, err := c.Submit(ctx, fn)
		if err == nil || !store.IsRetryable(err) {
			return result, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, err
		}
		if wait > maxBackoff {
			wait = maxBackoff
		}
		if wait > remaining {
			wait = remaining
		}
		c.logger.Warn("write contended, retrying", "backoff", wait.String(), "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		wait *= 2
	}
}

// Close stops accepting submissions, lets queued tasks finish, and waits
// for the worker goroutine to exit.
func (c *Coordinator) Close() {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		<-c.finished
		return
	}
	c.closed = true
	close(c.stopped)
	c.closeMu.Unlock()

	// Poison pill: a nil task tells the worker to stop after the queue
	// ahead of it has drained.
	c.queue <- nil
	<-c.finished
}

func (c *Coordinator) run() {
	defer close(c.finished)
	for t := range c.queue {
		if t == nil {
			return
		}
		c.runTask(t)
	}
}

// runTask executes one submission: take the cross-process write lock, open
// a transaction, run the task, commit or roll back, release, signal. A
// failed task never takes the worker down.
func (c *Coordinator) runTask(t *task) {
	defer close(t.done)

	wl := lock.NewWriteLock(c.db.Path(), c.lockTimeout)
	ok, err := wl.Acquire()
	if err != nil {
		t.err = fmt.Errorf("acquire write lock: %w", err)
		return
	}
	if !ok {
		t.err = fmt.Errorf("%w: timed out after %s", store.ErrLockUnavailable, c.lockTimeout)
		c.logger.Warn("write lock timeout", "timeout", c.lockTimeout.String())
		return
	}
	defer func() {
		if err := wl.Release(); err != nil {
			c.logger.Error("release write lock", "error", err)
		}
	}()

	tx, err := c.db.Begin()
	if err != nil {
		t.err = fmt.Errorf("begin write transaction: %w", err)
		return
	}

	result, err := t.fn(&WriteCtx{Tx: tx})
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			c.logger.Error("rollback failed", "error", rbErr)
		}
		t.err = err
		return
	}
	if err := tx.Commit(); err != nil {
		t.err = fmt.Errorf("commit write transaction: %w", err)
		return
	}
	t.result = result
}
