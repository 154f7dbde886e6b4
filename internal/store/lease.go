package store

import (
	"database/sql"
	"fmt"

	"github.com/hoardlabs/hoard/internal/models"
)

// RenewLease tries to take or extend the singleton worker lease. The UPSERT
// predicate only lets a new holder in once the stored expiry has lapsed; a
// live lease belonging to someone else is never stolen. When the row is
// held by workerID itself the heartbeat path extends it. Returns whether
// workerID holds the lease after the call.
func RenewLease(tx *sql.Tx, workerID, hostname string, pid int, ttlMillis int64) (bool, error) {
	now := nowMillis()
	expires := now + ttlMillis

	res, err := tx.Exec(`
		INSERT INTO worker_lease (id, worker_id, hostname, pid, acquired_at, heartbeat_at, expires_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			worker_id = excluded.worker_id,
			hostname = excluded.hostname,
			pid = excluded.pid,
			acquired_at = excluded.acquired_at,
			heartbeat_at = excluded.heartbeat_at,
			expires_at = excluded.expires_at
		WHERE worker_lease.expires_at < ?
	`, workerID, hostname, pid, now, now, expires, now)
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("renew lease rows: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Zero rows: either someone else holds a live lease, or we do and only
	// need a heartbeat.
	res, err = tx.Exec(`
		UPDATE worker_lease SET heartbeat_at = ?, expires_at = ?
		WHERE id = 1 AND worker_id = ?
	`, now, expires, workerID)
	if err != nil {
		return false, fmt.Errorf("heartbeat lease: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat lease rows: %w", err)
	}
	return n > 0, nil
}

// GetLease reads the singleton lease row, or nil when it was never created.
func GetLease(q Querier) (*models.WorkerLease, error) {
	var l models.WorkerLease
	err := q.QueryRow(`
		SELECT worker_id, hostname, pid, acquired_at, heartbeat_at, expires_at
		FROM worker_lease WHERE id = 1
	`).Scan(&l.WorkerID, &l.Hostname, &l.PID, &l.AcquiredAt, &l.HeartbeatAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lease: %w", err)
	}
	return &l, nil
}
