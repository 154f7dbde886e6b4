package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hoardlabs/hoard/internal/lock"
	"github.com/hoardlabs/hoard/internal/models"
	"github.com/hoardlabs/hoard/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupCoordinator(t *testing.T) (*store.DB, *Coordinator) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c := New(db, 2*time.Second, testLogger())
	t.Cleanup(func() {
		c.Close()
		db.Close()
	})
	return db, c
}

func TestSubmitCommitsOnSuccess(t *testing.T) {
	db, c := setupCoordinator(t)

	result, err := c.Submit(context.Background(), func(wc *WriteCtx) (any, error) {
		if err := store.EnqueueJob(wc.Tx, models.JobEmbedMemory, "mem-1", 5); err != nil {
			return nil, err
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result != "done" {
		t.Errorf("result = %v", result)
	}

	n, err := store.PendingJobCount(db)
	if err != nil || n != 1 {
		t.Fatalf("pending = %d, %v, want 1", n, err)
	}
}

func TestSubmitRollsBackOnError(t *testing.T) {
	db, c := setupCoordinator(t)
	boom := errors.New("task failed")

	_, err := c.Submit(context.Background(), func(wc *WriteCtx) (any, error) {
		if err := store.EnqueueJob(wc.Tx, models.JobEmbedMemory, "mem-1", 5); err != nil {
			return nil, err
		}
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("submit error = %v, want task error", err)
	}

	// The failed task left no trace.
	n, err := store.PendingJobCount(db)
	if err != nil || n != 0 {
		t.Fatalf("pending = %d, %v, want 0 after rollback", n, err)
	}

	// And the worker survives to run the next task.
	if _, err := c.Submit(context.Background(), func(wc *WriteCtx) (any, error) {
		return nil, store.EnqueueJob(wc.Tx, models.JobEmbedMemory, "mem-2", 5)
	}); err != nil {
		t.Fatalf("submit after failure: %v", err)
	}
}

func TestSubmitFIFOOrder(t *testing.T) {
	db, c := setupCoordinator(t)

	// Park the queue behind an externally held write lock so submissions
	// stack up in enqueue order before any of them runs.
	blocker := lock.NewWriteLock(db.Path(), time.Second)
	if ok, err := blocker.Acquire(); err != nil || !ok {
		t.Fatalf("blocker acquire = %v, %v", ok, err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Submit(context.Background(), func(wc *WriteCtx) (any, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}()
		// Space the submissions so enqueue order is deterministic.
		time.Sleep(50 * time.Millisecond)
	}

	if err := blocker.Release(); err != nil {
		t.Fatalf("release blocker: %v", err)
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("execution order = %v, want submission order", order)
		}
	}
}

func TestWriteCtxSubmitJoinsTransaction(t *testing.T) {
	db, c := setupCoordinator(t)
	boom := errors.New("outer failed")

	// A nested submit runs inline: no deadlock, and its writes share the
	// outer transaction's fate.
	_, err := c.Submit(context.Background(), func(wc *WriteCtx) (any, error) {
		if _, err := wc.Submit(func(inner *WriteCtx) (any, error) {
			return nil, store.EnqueueJob(inner.Tx, models.JobEmbedMemory, "mem-nested", 5)
		}); err != nil {
			return nil, err
		}
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("submit error = %v", err)
	}

	n, err := store.PendingJobCount(db)
	if err != nil || n != 0 {
		t.Fatalf("pending = %d, %v, want nested write rolled back with outer", n, err)
	}
}

func TestSubmitRetryStopsOnPermanentError(t *testing.T) {
	_, c := setupCoordinator(t)
	attempts := 0
	boom := errors.New("permanent")

	_, err := c.SubmitRetry(context.Background(), time.Second, 10*time.Millisecond, func(wc *WriteCtx) (any, error) {
		attempts++
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want no retry of a permanent error", attempts)
	}
}

func TestSubmitRetryRecoversFromContention(t *testing.T) {
	_, c := setupCoordinator(t)
	attempts := 0

	result, err := c.SubmitRetry(context.Background(), 2*time.Second, 10*time.Millisecond, func(wc *WriteCtx) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, fmt.Errorf("%w: simulated contention", store.ErrLockUnavailable)
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result != "recovered" || attempts != 3 {
		t.Errorf("result = %v after %d attempts", result, attempts)
	}
}

func TestSubmitRetryBudgetExhausted(t *testing.T) {
	_, c := setupCoordinator(t)

	_, err := c.SubmitRetry(context.Background(), 50*time.Millisecond, 20*time.Millisecond, func(wc *WriteCtx) (any, error) {
		return nil, fmt.Errorf("%w: always busy", store.ErrLockUnavailable)
	})
	if !errors.Is(err, store.ErrLockUnavailable) {
		t.Fatalf("err after budget = %v, want the last contention error", err)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	c := New(db, time.Second, testLogger())
	c.Close()
	// Close is idempotent.
	c.Close()

	if _, err := c.Submit(context.Background(), func(wc *WriteCtx) (any, error) {
		return nil, nil
	}); !errors.Is(err, ErrClosed) {
		t.Fatalf("submit after close = %v, want ErrClosed", err)
	}
}

func TestSubmitHonorsContext(t *testing.T) {
	_, c := setupCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Submit(ctx, func(wc *WriteCtx) (any, error) {
		return nil, nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("submit with cancelled ctx = %v", err)
	}
}

func TestScopedSubmit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s := &Scoped{DBPath: dbPath, BusyTimeout: time.Second, LockTimeout: time.Second}

	if _, err := s.Submit(context.Background(), func(wc *WriteCtx) (any, error) {
		return nil, store.EnqueueJob(wc.Tx, models.JobEmbedMemory, "mem-cli", 5)
	}); err != nil {
		t.Fatalf("scoped submit: %v", err)
	}

	db, err := store.Open(dbPath, time.Second)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	n, err := store.PendingJobCount(db)
	if err != nil || n != 1 {
		t.Fatalf("pending = %d, %v, want 1", n, err)
	}
}

func TestScopedLockTimeout(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	holder := lock.NewWriteLock(dbPath, time.Second)
	if ok, err := holder.Acquire(); err != nil || !ok {
		t.Fatalf("holder acquire = %v, %v", ok, err)
	}
	defer holder.Release()

	s := &Scoped{DBPath: dbPath, BusyTimeout: time.Second, LockTimeout: 100 * time.Millisecond}
	_, err := s.Submit(context.Background(), func(wc *WriteCtx) (any, error) {
		return nil, nil
	})
	if !errors.Is(err, store.ErrLockUnavailable) {
		t.Fatalf("scoped submit under held lock = %v, want lock unavailable", err)
	}
}
