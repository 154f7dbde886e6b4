package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hoardlabs/hoard/internal/models"
	"github.com/hoardlabs/hoard/internal/search"
	"github.com/hoardlabs/hoard/internal/store"
)

// Detector flags near-duplicate pairs and slot conflicts after writes. It
// only ever records findings; merging or discarding a memory is always an
// explicit caller decision. Methods run inside a write transaction on the
// worker's job loop.
type Detector struct {
	threshold float64
	logger    *slog.Logger
}

func NewDetector(threshold float64, logger *slog.Logger) *Detector {
	return &Detector{threshold: threshold, logger: logger}
}

// DetectDuplicates compares one memory's vector against every live vector
// and records the pairs at or above the similarity threshold. A memory
// whose vector is not stored yet is skipped, not failed: the embed job for
// it is still in the queue and the pair will be found from the other side.
func (d *Detector) DetectDuplicates(tx *sql.Tx, memoryID string) (int, error) {
	now := time.Now().UnixMilli()

	m, err := store.GetMemory(tx, memoryID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if m.Status(now) != models.MemoryLive {
		return 0, nil
	}

	emb, err := store.GetEmbedding(tx, memoryID)
	if err != nil {
		return 0, err
	}
	if emb == nil {
		return 0, nil
	}
	vec := store.DecodeVector(emb.Embedding)

	others, err := store.LiveEmbeddings(tx, memoryID, now)
	if err != nil {
		return 0, err
	}

	count := 0
	for otherID, otherVec := range others {
		sim := search.CosineSimilarity(vec, otherVec)
		if sim < d.threshold {
			continue
		}
		if err := store.RecordDuplicate(tx, memoryID, otherID, sim); err != nil {
			return count, err
		}
		detail := fmt.Sprintf("similar to %s (%.3f)", otherID, sim)
		if err := store.AppendEvent(tx, memoryID, "duplicate_detected", nil, &detail); err != nil {
			return count, err
		}
		count++
	}
	if count > 0 {
		d.logger.Info("duplicates detected", "memory_id", memoryID, "pairs", count)
	}
	return count, nil
}

// DetectConflicts checks the (slot, scope) of one memory. Live memories
// held by two or more distinct agents open a conflict, or refresh the
// member set of the one already open; dropping back under two agents
// auto-resolves it.
func (d *Detector) DetectConflicts(tx *sql.Tx, memoryID string) (*models.MemoryConflict, error) {
	now := time.Now().UnixMilli()

	m, err := store.GetMemory(tx, memoryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	members, err := store.LiveBySlot(tx, m.Slot, m.ScopeType, m.ScopeID, now)
	if err != nil {
		return nil, err
	}
	agents := make(map[string]bool)
	memberIDs := make([]string, 0, len(members))
	for _, mem := range members {
		agents[mem.AgentID] = true
		memberIDs = append(memberIDs, mem.ID)
	}

	existing, err := store.OpenConflictForScope(tx, m.Slot, m.ScopeType, m.ScopeID)
	if err != nil {
		return nil, err
	}

	if len(agents) < 2 {
		if existing != nil {
			if err := store.AutoResolveConflict(tx, existing.ID); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	c, err := store.RecordConflict(tx, m.Slot, m.ScopeType, m.ScopeID, memberIDs)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		detail := fmt.Sprintf("conflict %s: %d agents hold %s in %s", c.ID, len(agents), m.Slot, m.ScopeKey())
		for _, mid := range memberIDs {
			if err := store.AppendEvent(tx, mid, "conflict_detected", nil, &detail); err != nil {
				return nil, err
			}
		}
		d.logger.Info("conflict detected",
			"conflict_id", c.ID, "slot", m.Slot, "scope", m.ScopeKey(), "members", len(memberIDs))
	}
	return c, nil
}

// SweepConflicts re-examines every open conflict and closes the ones whose
// membership has dropped below two live agents. Retractions and TTL prunes
// do not touch conflict rows themselves, so the periodic sweep is what
// keeps the open set honest.
func (d *Detector) SweepConflicts(tx *sql.Tx) (int, error) {
	now := time.Now().UnixMilli()
	open, err := store.OpenConflicts(tx)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, c := range open {
		members, err := store.LiveBySlot(tx, c.Slot, c.ScopeType, c.ScopeID, now)
		if err != nil {
			return resolved, err
		}
		agents := make(map[string]bool)
		for _, m := range members {
			agents[m.AgentID] = true
		}
		if len(agents) >= 2 {
			continue
		}
		if err := store.AutoResolveConflict(tx, c.ID); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}
