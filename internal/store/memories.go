package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hoardlabs/hoard/internal/models"
)

var slotPattern = regexp.MustCompile(`^(pref|fact|ctx|decision|event):[a-z0-9_]+(\.[a-z0-9_]+){0,3}$`)

// ValidateSlot checks the slot key grammar: a kind prefix followed by up to
// four dot-separated lowercase segments.
func ValidateSlot(slot string) error {
	if !slotPattern.MatchString(slot) {
		return fmt.Errorf("%w: invalid slot %q", ErrIntegrityViolation, slot)
	}
	return nil
}

// ValidateScope checks the scope pair: scope_id is present exactly when the
// scope is narrower than user.
func ValidateScope(scopeType string, scopeID *string) error {
	switch scopeType {
	case "user":
		if scopeID != nil {
			return fmt.Errorf("%w: user scope takes no scope_id", ErrIntegrityViolation)
		}
	case "project", "entity", "domain":
		if scopeID == nil || *scopeID == "" {
			return fmt.Errorf("%w: scope %s requires a scope_id", ErrIntegrityViolation, scopeType)
		}
	default:
		return fmt.Errorf("%w: unknown scope type %q", ErrIntegrityViolation, scopeType)
	}
	return nil
}

// NormalizeTags lowercases, dedupes, and sorts tags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ContentHash returns the hex sha256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// liveCond is the predicate selecting live memories as of ? (millis).
const liveCond = `m.retracted_at IS NULL AND m.superseded_at IS NULL
  AND (m.expires_at IS NULL OR m.expires_at > ?)`

const memoryCols = `m.id, m.slot, m.scope_type, m.scope_id, m.agent_id, m.content,
  m.content_hash, m.sensitivity, m.superseded_by, m.superseded_at,
  m.retracted_at, m.retracted_by, m.retraction_reason,
  m.created_at, m.updated_at, m.expires_at`

// InsertMemory writes a new memory row plus its tag rows. Must run inside a
// write transaction.
func InsertMemory(tx *sql.Tx, m *models.Memory) error {
	_, err := tx.Exec(`
		INSERT INTO memories (
			id, slot, scope_type, scope_id, agent_id, content, content_hash,
			sensitivity, created_at, updated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Slot, m.ScopeType, m.ScopeID, m.AgentID, m.Content, m.ContentHash,
		m.Sensitivity, m.CreatedAt, m.UpdatedAt, m.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	for _, tag := range m.Tags {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO memory_tags (memory_id, tag) VALUES (?, ?)`, m.ID, tag); err != nil {
			return fmt.Errorf("insert memory tag: %w", err)
		}
	}
	return nil
}

// GetMemory fetches a memory by id regardless of lifecycle state.
func GetMemory(q Querier, id string) (*models.Memory, error) {
	row := q.QueryRow(`SELECT `+memoryCols+` FROM memories m WHERE m.id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: memory %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	m.Tags, err = loadTags(q, m.ID)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// LiveBySlot returns the live memories in one (slot, scope) as of now.
func LiveBySlot(q Querier, slot, scopeType string, scopeID *string, now int64) ([]*models.Memory, error) {
	rows, err := q.Query(`SELECT `+memoryCols+` FROM memories m
		WHERE m.slot = ? AND m.scope_type = ? AND `+liveCond+`
		AND m.scope_id IS ?
		ORDER BY m.created_at`, slot, scopeType, now, scopeID)
	if err != nil {
		return nil, fmt.Errorf("query live memories: %w", err)
	}
	out, err := collectMemories(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	for _, m := range out {
		if m.Tags, err = loadTags(q, m.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// LiveBySlotAgent returns the live memory a given agent holds in a
// (slot, scope), or nil.
func LiveBySlotAgent(q Querier, slot, scopeType string, scopeID *string, agentID string, now int64) (*models.Memory, error) {
	row := q.QueryRow(`SELECT `+memoryCols+` FROM memories m
		WHERE m.slot = ? AND m.scope_type = ? AND m.agent_id = ? AND `+liveCond+`
		AND m.scope_id IS ?
		ORDER BY m.created_at DESC LIMIT 1`,
		slot, scopeType, agentID, now, scopeID)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query live memory: %w", err)
	}
	return m, nil
}

// SupersedeMemory marks old as superseded by newID, conditional on old
// still being live. Returns false when another writer got there first or
// the target never existed.
func SupersedeMemory(tx *sql.Tx, oldID, newID string, now int64) (bool, error) {
	res, err := tx.Exec(`
		UPDATE memories
		SET superseded_by = ?, superseded_at = ?, updated_at = ?
		WHERE id = ?
		  AND retracted_at IS NULL AND superseded_at IS NULL
		  AND (expires_at IS NULL OR expires_at > ?)
	`, newID, now, now, oldID, now)
	if err != nil {
		return false, fmt.Errorf("supersede memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("supersede memory rows: %w", err)
	}
	return n > 0, nil
}

// RetractMemory marks a memory retracted, conditional on it being live.
func RetractMemory(tx *sql.Tx, id, agentID string, reason *string, now int64) (bool, error) {
	res, err := tx.Exec(`
		UPDATE memories
		SET retracted_at = ?, retracted_by = ?, retraction_reason = ?, updated_at = ?
		WHERE id = ?
		  AND retracted_at IS NULL AND superseded_at IS NULL
		  AND (expires_at IS NULL OR expires_at > ?)
	`, now, agentID, reason, now, id, now)
	if err != nil {
		return false, fmt.Errorf("retract memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("retract memory rows: %w", err)
	}
	return n > 0, nil
}

// ExpiredMemoryIDs lists memories whose TTL has lapsed as of now.
func ExpiredMemoryIDs(q Querier, now int64) ([]string, error) {
	rows, err := q.Query(`SELECT id FROM memories WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return nil, fmt.Errorf("query expired memories: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteMemory hard-deletes one memory row. Only the TTL prune path calls
// this; tag, embedding, and member rows go with it via foreign keys.
func DeleteMemory(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// BM25Result holds an FTS5 match.
type BM25Result struct {
	RowID int64
	ID    string
	Rank  float64
}

// SearchBM25 performs full-text search over live memories. bm25() returns
// negative values where more negative = better match, so we negate to get
// positive scores where higher = better.
func SearchBM25(q Querier, query string, now int64, limit int) ([]BM25Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	rows, err := q.Query(`
		SELECT m.rowid, m.id, -rank AS score
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ?
		  AND `+liveCond+`
		ORDER BY rank
		LIMIT ?
	`, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	defer rows.Close()

	var results []BM25Result
	for rows.Next() {
		var r BM25Result
		if err := rows.Scan(&r.RowID, &r.ID, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan bm25 result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*models.Memory, error) {
	var m models.Memory
	err := row.Scan(
		&m.ID, &m.Slot, &m.ScopeType, &m.ScopeID, &m.AgentID, &m.Content,
		&m.ContentHash, &m.Sensitivity, &m.SupersededBy, &m.SupersededAt,
		&m.RetractedAt, &m.RetractedBy, &m.RetractionReason,
		&m.CreatedAt, &m.UpdatedAt, &m.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMemories(rows *sql.Rows) ([]*models.Memory, error) {
	var out []*models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func loadTags(q Querier, memoryID string) ([]string, error) {
	rows, err := q.Query(`SELECT tag FROM memory_tags WHERE memory_id = ? ORDER BY tag`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
