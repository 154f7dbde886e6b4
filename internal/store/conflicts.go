package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hoardlabs/hoard/internal/models"
)

// OpenConflictForScope returns the open conflict covering a (slot, scope),
// or nil.
func OpenConflictForScope(q Querier, slot, scopeType string, scopeID *string) (*models.MemoryConflict, error) {
	row := q.QueryRow(`
		SELECT id, slot, scope_type, scope_id, detected_at, resolved_at, resolution, resolved_by
		FROM memory_conflicts
		WHERE slot = ? AND scope_type = ? AND scope_id IS ? AND resolved_at IS NULL
	`, slot, scopeType, scopeID)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open conflict: %w", err)
	}
	c.MemberIDs, err = conflictMembers(q, c.ID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RecordConflict opens a conflict over memberIDs, or replaces the member
// set of an already-open conflict for the same scope. Member rows always
// reflect the detector's latest view.
func RecordConflict(tx *sql.Tx, slot, scopeType string, scopeID *string, memberIDs []string) (*models.MemoryConflict, error) {
	existing, err := OpenConflictForScope(tx, slot, scopeType, scopeID)
	if err != nil {
		return nil, err
	}
	id := ""
	if existing != nil {
		id = existing.ID
		if _, err := tx.Exec(`DELETE FROM conflict_members WHERE conflict_id = ?`, id); err != nil {
			return nil, fmt.Errorf("clear conflict members: %w", err)
		}
	} else {
		id = "cfl-" + uuid.NewString()
		if _, err := tx.Exec(`
			INSERT INTO memory_conflicts (id, slot, scope_type, scope_id, detected_at)
			VALUES (?, ?, ?, ?, ?)
		`, id, slot, scopeType, scopeID, nowMillis()); err != nil {
			return nil, fmt.Errorf("insert conflict: %w", err)
		}
	}
	for _, mid := range memberIDs {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO conflict_members (conflict_id, memory_id) VALUES (?, ?)
		`, id, mid); err != nil {
			return nil, fmt.Errorf("insert conflict member: %w", err)
		}
	}
	return GetConflict(tx, id)
}

// ResolveConflict closes an open conflict. Conditional on it still being
// open; false means it was already resolved or never existed.
func ResolveConflict(tx *sql.Tx, conflictID, resolution, resolvedBy string) (bool, error) {
	res, err := tx.Exec(`
		UPDATE memory_conflicts
		SET resolved_at = ?, resolution = ?, resolved_by = ?
		WHERE id = ? AND resolved_at IS NULL
	`, nowMillis(), resolution, resolvedBy, conflictID)
	if err != nil {
		return false, fmt.Errorf("resolve conflict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve conflict rows: %w", err)
	}
	return n > 0, nil
}

// AutoResolveConflict closes a conflict the detector found moot (fewer than
// two live members remain).
func AutoResolveConflict(tx *sql.Tx, conflictID string) error {
	if _, err := ResolveConflict(tx, conflictID, "auto: fewer than two live members", "detector"); err != nil {
		return err
	}
	return nil
}

// ListConflicts returns conflicts, optionally only open ones, newest first.
func ListConflicts(q Querier, openOnly bool, limit int) ([]*models.MemoryConflict, error) {
	query := `
		SELECT id, slot, scope_type, scope_id, detected_at, resolved_at, resolution, resolved_by
		FROM memory_conflicts`
	if openOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY detected_at DESC LIMIT ?`

	rows, err := q.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []*models.MemoryConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, c := range out {
		c.MemberIDs, err = conflictMembers(q, c.ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// OpenConflicts lists every open conflict with members, for detector runs.
func OpenConflicts(q Querier) ([]*models.MemoryConflict, error) {
	return ListConflicts(q, true, 1000)
}

// GetConflict fetches one conflict with its member set.
func GetConflict(q Querier, id string) (*models.MemoryConflict, error) {
	row := q.QueryRow(`
		SELECT id, slot, scope_type, scope_id, detected_at, resolved_at, resolution, resolved_by
		FROM memory_conflicts WHERE id = ?
	`, id)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: conflict %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conflict: %w", err)
	}
	c.MemberIDs, err = conflictMembers(q, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func conflictMembers(q Querier, conflictID string) ([]string, error) {
	rows, err := q.Query(`SELECT memory_id FROM conflict_members WHERE conflict_id = ? ORDER BY memory_id`, conflictID)
	if err != nil {
		return nil, fmt.Errorf("load conflict members: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conflict member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanConflict(row rowScanner) (*models.MemoryConflict, error) {
	var c models.MemoryConflict
	err := row.Scan(&c.ID, &c.Slot, &c.ScopeType, &c.ScopeID, &c.DetectedAt,
		&c.ResolvedAt, &c.Resolution, &c.ResolvedBy)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
