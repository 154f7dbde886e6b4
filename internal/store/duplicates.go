package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hoardlabs/hoard/internal/models"
)

// RecordDuplicate stores one detected pair. The pair is normalized so
// (a, b) and (b, a) land on the same unique key; re-detection refreshes the
// score.
func RecordDuplicate(tx *sql.Tx, memoryIDA, memoryIDB string, similarity float64) error {
	if memoryIDB < memoryIDA {
		memoryIDA, memoryIDB = memoryIDB, memoryIDA
	}
	_, err := tx.Exec(`
		INSERT INTO memory_duplicates (id, memory_id_a, memory_id_b, similarity, detected_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (memory_id_a, memory_id_b) DO UPDATE SET
			similarity = excluded.similarity,
			detected_at = excluded.detected_at
	`, "dup-"+uuid.NewString(), memoryIDA, memoryIDB, similarity, nowMillis())
	if err != nil {
		return fmt.Errorf("record duplicate: %w", err)
	}
	return nil
}

// ResolveDuplicate closes a duplicate pair. False when already resolved or
// missing.
func ResolveDuplicate(tx *sql.Tx, duplicateID, resolution, resolvedBy string) (bool, error) {
	res, err := tx.Exec(`
		UPDATE memory_duplicates
		SET resolved_at = ?, resolution = ?, resolved_by = ?
		WHERE id = ? AND resolved_at IS NULL
	`, nowMillis(), resolution, resolvedBy, duplicateID)
	if err != nil {
		return false, fmt.Errorf("resolve duplicate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve duplicate rows: %w", err)
	}
	return n > 0, nil
}

// ListDuplicates returns detected pairs, optionally unresolved only,
// highest similarity first.
func ListDuplicates(q Querier, openOnly bool, limit int) ([]*models.MemoryDuplicate, error) {
	query := `
		SELECT id, memory_id_a, memory_id_b, similarity, detected_at, resolved_at, resolution, resolved_by
		FROM memory_duplicates`
	if openOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY similarity DESC, detected_at DESC LIMIT ?`

	rows, err := q.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("list duplicates: %w", err)
	}
	defer rows.Close()

	var out []*models.MemoryDuplicate
	for rows.Next() {
		var d models.MemoryDuplicate
		if err := rows.Scan(&d.ID, &d.MemoryIDA, &d.MemoryIDB, &d.Similarity,
			&d.DetectedAt, &d.ResolvedAt, &d.Resolution, &d.ResolvedBy); err != nil {
			return nil, fmt.Errorf("scan duplicate: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// GetDuplicate fetches one pair by id.
func GetDuplicate(q Querier, id string) (*models.MemoryDuplicate, error) {
	var d models.MemoryDuplicate
	err := q.QueryRow(`
		SELECT id, memory_id_a, memory_id_b, similarity, detected_at, resolved_at, resolution, resolved_by
		FROM memory_duplicates WHERE id = ?
	`, id).Scan(&d.ID, &d.MemoryIDA, &d.MemoryIDB, &d.Similarity,
		&d.DetectedAt, &d.ResolvedAt, &d.Resolution, &d.ResolvedBy)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: duplicate %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get duplicate: %w", err)
	}
	return &d, nil
}
