package store

import (
	"database/sql"
	"fmt"

	"github.com/hoardlabs/hoard/internal/models"
)

// AppendEvent writes one audit row. Events ride in the same transaction as
// the write they describe.
func AppendEvent(tx *sql.Tx, memoryID, eventType string, agentID, detail *string) error {
	_, err := tx.Exec(`
		INSERT INTO memory_events (memory_id, event_type, agent_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, memoryID, eventType, agentID, detail, nowMillis())
	if err != nil {
		return fmt.Errorf("append event %s: %w", eventType, err)
	}
	return nil
}

// ListEvents returns the audit trail for one memory, oldest first.
func ListEvents(q Querier, memoryID string, limit int) ([]*models.MemoryEvent, error) {
	rows, err := q.Query(`
		SELECT id, memory_id, event_type, agent_id, detail, created_at
		FROM memory_events WHERE memory_id = ?
		ORDER BY id LIMIT ?
	`, memoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*models.MemoryEvent
	for rows.Next() {
		var e models.MemoryEvent
		if err := rows.Scan(&e.ID, &e.MemoryID, &e.EventType, &e.AgentID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
