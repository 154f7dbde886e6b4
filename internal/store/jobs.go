package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hoardlabs/hoard/internal/models"
)

// jobRetentionMillis keeps terminal jobs around for a day before they are
// swept.
const jobRetentionMillis = 24 * 60 * 60 * 1000

// EnqueueJob records one background job inside the triggering write's
// transaction, so the job becomes visible exactly when the write commits.
func EnqueueJob(tx *sql.Tx, kind, targetID string, priority int) error {
	_, err := tx.Exec(`
		INSERT INTO background_jobs (id, kind, target_id, status, priority, created_at)
		VALUES (?, ?, ?, 'pending', ?, ?)
	`, "job-"+uuid.NewString(), kind, targetID, priority, nowMillis())
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", kind, err)
	}
	return nil
}

// EnqueueMemoryJobs queues the three post-write detector jobs for one
// memory.
func EnqueueMemoryJobs(tx *sql.Tx, memoryID string) error {
	for _, kind := range []string{models.JobEmbedMemory, models.JobDetectDuplicates, models.JobDetectConflicts} {
		if err := EnqueueJob(tx, kind, memoryID, 5); err != nil {
			return err
		}
	}
	return nil
}

// ClaimNextJob pops the highest-priority pending job and marks it running.
// The SELECT and UPDATE are two statements; that is safe only because every
// caller runs them on the coordinator's single writer thread. A worker in a
// separate process would need a single conditional update instead.
func ClaimNextJob(tx *sql.Tx) (*models.Job, error) {
	row := tx.QueryRow(`
		SELECT ` + jobCols + ` FROM background_jobs
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending job: %w", err)
	}

	now := nowMillis()
	if _, err := tx.Exec(`
		UPDATE background_jobs SET status = 'running', started_at = ?
		WHERE id = ?
	`, now, j.ID); err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	j.Status = models.JobRunning
	j.StartedAt = &now
	return j, nil
}

// CompleteJob marks a running job done.
func CompleteJob(tx *sql.Tx, jobID string) error {
	if _, err := tx.Exec(`
		UPDATE background_jobs SET status = 'done', finished_at = ?
		WHERE id = ? AND status = 'running'
	`, nowMillis(), jobID); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob records a failure. With retries remaining the job returns to
// pending; otherwise it is terminal. Job failures never reach the caller of
// the write that enqueued them.
func FailJob(tx *sql.Tx, jobID string, errMsg string) error {
	res, err := tx.Exec(`
		UPDATE background_jobs
		SET status = 'pending', retry_count = retry_count + 1, error_message = ?
		WHERE id = ? AND status = 'running' AND retry_count + 1 < max_retries
	`, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := tx.Exec(`
		UPDATE background_jobs
		SET status = 'failed', retry_count = retry_count + 1, error_message = ?, finished_at = ?
		WHERE id = ? AND status = 'running'
	`, errMsg, nowMillis(), jobID); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// RequeueStuckJobs returns running jobs older than staleBefore to pending
// (or failed when out of retries). Covers a worker that died mid-job.
func RequeueStuckJobs(tx *sql.Tx, staleBefore int64) (int64, error) {
	res, err := tx.Exec(`
		UPDATE background_jobs
		SET status = CASE WHEN retry_count + 1 < max_retries THEN 'pending' ELSE 'failed' END,
		    retry_count = retry_count + 1,
		    error_message = 'requeued: worker lost'
		WHERE status = 'running' AND started_at < ?
	`, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("requeue stuck jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stuck jobs rows: %w", err)
	}
	return n, nil
}

// SweepJobs deletes terminal jobs past the retention window.
func SweepJobs(tx *sql.Tx, now int64) error {
	if _, err := tx.Exec(`
		DELETE FROM background_jobs
		WHERE status IN ('done','failed') AND finished_at < ?
	`, now-jobRetentionMillis); err != nil {
		return fmt.Errorf("sweep jobs: %w", err)
	}
	return nil
}

// PendingJobCount reports queue depth, for status surfaces.
func PendingJobCount(q Querier) (int, error) {
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM background_jobs WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

const jobCols = `id, kind, target_id, status, priority, retry_count, max_retries,
  error_message, created_at, started_at, finished_at`

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.ID, &j.Kind, &j.TargetID, &j.Status, &j.Priority, &j.RetryCount,
		&j.MaxRetries, &j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
