package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hoardlabs/hoard/internal/embedding"
	"github.com/hoardlabs/hoard/internal/memory"
	"github.com/hoardlabs/hoard/internal/models"
	"github.com/hoardlabs/hoard/internal/store"
	"github.com/hoardlabs/hoard/internal/writer"
)

const (
	// maxJobsPerTick bounds how long one poll cycle can monopolize the
	// writer between lease renewals.
	maxJobsPerTick = 20

	// stuckJobCutoff is how long a job may sit in running before it is
	// presumed orphaned by a dead worker.
	stuckJobCutoff = 5 * time.Minute

	sweepInterval = 10 * time.Minute
)

// Worker drains the background job queue: embedding generation plus the
// duplicate and conflict detectors. Exactly one worker per database is
// active at a time, enforced by the lease row rather than a second file
// lock, so a worker embedded in the server and one in a sidecar process
// negotiate through the same store.
type Worker struct {
	writes   writer.Submitter
	reader   store.Querier
	embedder *embedding.CachedEmbedder
	detector *memory.Detector
	leaseTTL time.Duration
	poll     time.Duration
	logger   *slog.Logger

	id       string
	hostname string
	pid      int

	stop chan struct{}
	done chan struct{}
}

func New(
	writes writer.Submitter,
	reader store.Querier,
	embedder *embedding.CachedEmbedder,
	detector *memory.Detector,
	leaseTTL, poll time.Duration,
	logger *slog.Logger,
) *Worker {
	hostname, _ := os.Hostname()
	return &Worker{
		writes:   writes,
		reader:   reader,
		embedder: embedder,
		detector: detector,
		leaseTTL: leaseTTL,
		poll:     poll,
		logger:   logger,
		id:       "wrk-" + uuid.NewString(),
		hostname: hostname,
		pid:      os.Getpid(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *Worker) ID() string { return w.id }

// Run polls until Close or context cancellation. Each cycle renews the
// lease first; losing it demotes this worker to standby without stopping
// the loop, since the holder may die and let the lease lapse.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("worker started", "worker_id", w.id, "poll", w.poll.String())

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	lastSweep := time.Now()

	for {
		w.tick(ctx, &lastSweep)
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
		}
	}
}

// Close stops the loop and waits for the in-flight cycle to finish.
func (w *Worker) Close() {
	close(w.stop)
	<-w.done
}

func (w *Worker) tick(ctx context.Context, lastSweep *time.Time) {
	held, err := w.renewLease(ctx)
	if err != nil {
		w.logger.Warn("lease renewal failed", "error", err)
		return
	}
	if !held {
		return
	}

	if _, err := w.writes.Submit(ctx, func(wc *writer.WriteCtx) (any, error) {
		n, err := store.RequeueStuckJobs(wc.Tx, time.Now().Add(-stuckJobCutoff).UnixMilli())
		if n > 0 {
			w.logger.Warn("requeued stuck jobs", "count", n)
		}
		return nil, err
	}); err != nil {
		w.logger.Warn("requeue stuck jobs failed", "error", err)
	}

	for i := 0; i < maxJobsPerTick; i++ {
		if ctx.Err() != nil {
			return
		}
		job, err := w.claimJob(ctx)
		if err != nil {
			w.logger.Warn("claim job failed", "error", err)
			return
		}
		if job == nil {
			break
		}
		w.runJob(ctx, job)
	}

	if time.Since(*lastSweep) >= sweepInterval {
		*lastSweep = time.Now()
		w.housekeep(ctx)
	}
}

func (w *Worker) renewLease(ctx context.Context) (bool, error) {
	result, err := w.writes.Submit(ctx, func(wc *writer.WriteCtx) (any, error) {
		return store.RenewLease(wc.Tx, w.id, w.hostname, w.pid, w.leaseTTL.Milliseconds())
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (w *Worker) claimJob(ctx context.Context) (*models.Job, error) {
	result, err := w.writes.Submit(ctx, func(wc *writer.WriteCtx) (any, error) {
		return store.ClaimNextJob(wc.Tx)
	})
	if err != nil {
		return nil, err
	}
	job, _ := result.(*models.Job)
	return job, nil
}

// runJob executes one claimed job and records the outcome. Errors are fed
// into the retry bookkeeping, never returned: a failing job must not take
// the loop down with it.
func (w *Worker) runJob(ctx context.Context, job *models.Job) {
	err := w.process(ctx, job)
	finish := func(wc *writer.WriteCtx) (any, error) {
		if err != nil {
			return nil, store.FailJob(wc.Tx, job.ID, err.Error())
		}
		return nil, store.CompleteJob(wc.Tx, job.ID)
	}
	if _, ferr := w.writes.Submit(ctx, finish); ferr != nil {
		w.logger.Error("job bookkeeping failed", "job_id", job.ID, "error", ferr)
		return
	}
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "kind", job.Kind, "target", job.TargetID, "error", err)
	} else {
		w.logger.Debug("job done", "job_id", job.ID, "kind", job.Kind, "target", job.TargetID)
	}
}

func (w *Worker) process(ctx context.Context, job *models.Job) error {
	switch job.Kind {
	case models.JobEmbedMemory:
		return w.embedMemory(ctx, job.TargetID)
	case models.JobDetectDuplicates:
		_, err := w.writes.Submit(ctx, func(wc *writer.WriteCtx) (any, error) {
			return w.detector.DetectDuplicates(wc.Tx, job.TargetID)
		})
		return err
	case models.JobDetectConflicts:
		_, err := w.writes.Submit(ctx, func(wc *writer.WriteCtx) (any, error) {
			return w.detector.DetectConflicts(wc.Tx, job.TargetID)
		})
		return err
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// embedMemory reads through the reader handle and calls the embedding
// backend outside any transaction, so a slow HTTP round trip never holds
// the write lock. Only the final store of the vector takes a write slot.
func (w *Worker) embedMemory(ctx context.Context, memoryID string) error {
	m, err := store.GetMemory(w.reader, memoryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.Status(time.Now().UnixMilli()) != models.MemoryLive {
		return nil
	}

	vec, cached, err := w.embedder.Embed(ctx, m.Content)
	if err != nil {
		return fmt.Errorf("embed memory %s: %w", memoryID, err)
	}

	_, err = w.writes.Submit(ctx, func(wc *writer.WriteCtx) (any, error) {
		if err := store.PutEmbedding(wc.Tx, memoryID, vec, w.embedder.Model()); err != nil {
			return nil, err
		}
		if !cached {
			if err := store.PutCachedVector(wc.Tx, m.ContentHash, vec, w.embedder.Model()); err != nil {
				return nil, err
			}
		}
		detail := fmt.Sprintf("model %s, %d dims", w.embedder.Model(), len(vec))
		return nil, store.AppendEvent(wc.Tx, memoryID, "embedded", nil, &detail)
	})
	return err
}

func (w *Worker) housekeep(ctx context.Context) {
	if _, err := w.writes.Submit(ctx, func(wc *writer.WriteCtx) (any, error) {
		if err := store.SweepJobs(wc.Tx, time.Now().UnixMilli()); err != nil {
			return nil, err
		}
		n, err := w.detector.SweepConflicts(wc.Tx)
		if n > 0 {
			w.logger.Info("auto-resolved stale conflicts", "count", n)
		}
		return nil, err
	}); err != nil {
		w.logger.Warn("housekeeping failed", "error", err)
	}
}
