package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hoardlabs/hoard/internal/models"
	"github.com/hoardlabs/hoard/internal/privacy"
	"github.com/hoardlabs/hoard/internal/search"
	"github.com/hoardlabs/hoard/internal/store"
	"github.com/hoardlabs/hoard/internal/writer"
)

// Embedder turns query text into a vector. Optional: searches degrade to
// keyword-only when it is absent or failing.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool, error)
}

// Service is the facade for memory operations. Reads go straight to the
// reader handle; every mutation is submitted through the write capability,
// so the same code serves the server (coordinator) and one-shot CLI
// commands (scoped lock).
type Service struct {
	writes       writer.Submitter
	reader       store.Querier
	searcher     *search.Searcher
	embedder     Embedder
	defaultTTL   time.Duration
	retryBudget  time.Duration
	retryBackoff time.Duration
	logger       *slog.Logger
}

func NewService(
	writes writer.Submitter,
	reader store.Querier,
	searcher *search.Searcher,
	embedder Embedder,
	defaultTTLDays int,
	retryBudget, retryBackoff time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		writes:       writes,
		reader:       reader,
		searcher:     searcher,
		embedder:     embedder,
		defaultTTL:   time.Duration(defaultTTLDays) * 24 * time.Hour,
		retryBudget:  retryBudget,
		retryBackoff: retryBackoff,
		logger:       logger,
	}
}

// PutParams describes one memory write. Either Slot or Key must be set;
// a bare key is mapped into the ctx: namespace.
type PutParams struct {
	Key         string
	Slot        string
	ScopeType   string
	ScopeID     *string
	AgentID     string
	Content     string
	Tags        []string
	Sensitivity string
	TTLDays     *int
}

var keySanitizer = regexp.MustCompile(`[^a-z0-9_.]+`)

// SlotForKey maps a free-form key onto a slot. Keys that already parse as
// slots pass through untouched; everything else lands under ctx:.
func SlotForKey(key string) string {
	if store.ValidateSlot(key) == nil {
		return key
	}
	k := strings.ToLower(strings.TrimSpace(key))
	k = keySanitizer.ReplaceAllString(k, "_")
	k = strings.Trim(k, "._")
	if k == "" {
		k = "unnamed"
	}
	return "ctx:" + k
}

// Put stores a new memory. When the same agent already holds a live memory
// in the (slot, scope), the old one is superseded in the same transaction,
// so readers never observe two live versions from one agent. The embedding
// and detector jobs are queued with the write and run afterwards.
func (s *Service) Put(ctx context.Context, p PutParams) (*models.Memory, error) {
	slot := p.Slot
	if slot == "" {
		slot = SlotForKey(p.Key)
	}
	if err := store.ValidateSlot(slot); err != nil {
		return nil, err
	}
	scopeType := p.ScopeType
	if scopeType == "" {
		scopeType = "user"
	}
	if err := store.ValidateScope(scopeType, p.ScopeID); err != nil {
		return nil, err
	}
	if p.AgentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", store.ErrIntegrityViolation)
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, fmt.Errorf("%w: content is empty", store.ErrIntegrityViolation)
	}
	// <private> blocks never reach storage.
	content := privacy.StripPrivateTags(p.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is entirely private", store.ErrIntegrityViolation)
	}
	sensitivity := p.Sensitivity
	if sensitivity == "" {
		sensitivity = "normal"
	}

	// An explicit ttl_days of zero means "expires immediately": the row
	// stays until the next prune but never reads as live.
	ttl := s.defaultTTL
	explicitTTL := p.TTLDays != nil
	if explicitTTL {
		ttl = time.Duration(*p.TTLDays) * 24 * time.Hour
	}

	result, err := s.writes.SubmitRetry(ctx, s.retryBudget, s.retryBackoff, func(wc *writer.WriteCtx) (any, error) {
		now := time.Now().UnixMilli()
		m := &models.Memory{
			ID:          "mem-" + uuid.NewString(),
			Slot:        slot,
			ScopeType:   scopeType,
			ScopeID:     p.ScopeID,
			AgentID:     p.AgentID,
			Content:     content,
			ContentHash: store.ContentHash(content),
			Sensitivity: sensitivity,
			Tags:        store.NormalizeTags(p.Tags),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if ttl > 0 || explicitTTL {
			exp := now + ttl.Milliseconds()
			m.ExpiresAt = &exp
		}

		prior, err := store.LiveBySlotAgent(wc.Tx, slot, scopeType, p.ScopeID, p.AgentID, now)
		if err != nil {
			return nil, err
		}
		if err := store.InsertMemory(wc.Tx, m); err != nil {
			return nil, err
		}
		if prior != nil {
			if _, err := store.SupersedeMemory(wc.Tx, prior.ID, m.ID, now); err != nil {
				return nil, err
			}
			if err := store.AppendEvent(wc.Tx, prior.ID, "superseded", &p.AgentID, &m.ID); err != nil {
				return nil, err
			}
		}
		if err := store.AppendEvent(wc.Tx, m.ID, "created", &p.AgentID, nil); err != nil {
			return nil, err
		}
		if err := store.EnqueueMemoryJobs(wc.Tx, m.ID); err != nil {
			return nil, err
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Memory), nil
}

// Get returns the live memories in one (slot, scope), oldest first. More
// than one entry means different agents hold competing values.
func (s *Service) Get(slot, scopeType string, scopeID *string) ([]*models.Memory, error) {
	if scopeType == "" {
		scopeType = "user"
	}
	slot = SlotForKey(slot)
	return store.LiveBySlot(s.reader, slot, scopeType, scopeID, time.Now().UnixMilli())
}

// GetByID fetches one memory regardless of lifecycle state.
func (s *Service) GetByID(id string) (*models.Memory, error) {
	return store.GetMemory(s.reader, id)
}

// History returns the audit trail for one memory, oldest first.
func (s *Service) History(memoryID string, limit int) ([]*models.MemoryEvent, error) {
	return store.ListEvents(s.reader, memoryID, limit)
}

// Search runs the hybrid searcher over live memories. The query vector is
// best-effort: an unreachable embedding backend downgrades to keyword-only.
func (s *Service) Search(ctx context.Context, queryText string, limit int) ([]search.Result, error) {
	var queryVec []float32
	if s.embedder != nil && strings.TrimSpace(queryText) != "" {
		vec, _, err := s.embedder.Embed(ctx, queryText)
		if err != nil {
			s.logger.Debug("query embedding unavailable, keyword search only", "error", err)
		} else {
			queryVec = vec
		}
	}
	return s.searcher.Search(s.reader, queryText, queryVec, time.Now().UnixMilli(), limit)
}

// Supersede replaces an existing memory with new content. The guard is
// optimistic: if the target stopped being live between read and write the
// caller gets a precondition error and nothing is inserted.
func (s *Service) Supersede(ctx context.Context, oldID, content, agentID string, tags []string) (*models.Memory, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content is empty", store.ErrIntegrityViolation)
	}
	content = privacy.StripPrivateTags(content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is entirely private", store.ErrIntegrityViolation)
	}
	result, err := s.writes.SubmitRetry(ctx, s.retryBudget, s.retryBackoff, func(wc *writer.WriteCtx) (any, error) {
		now := time.Now().UnixMilli()
		old, err := store.GetMemory(wc.Tx, oldID)
		if err != nil {
			return nil, err
		}
		m := &models.Memory{
			ID:          "mem-" + uuid.NewString(),
			Slot:        old.Slot,
			ScopeType:   old.ScopeType,
			ScopeID:     old.ScopeID,
			AgentID:     agentID,
			Content:     content,
			ContentHash: store.ContentHash(content),
			Sensitivity: old.Sensitivity,
			Tags:        store.NormalizeTags(tags),
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   old.ExpiresAt,
		}
		if err := store.InsertMemory(wc.Tx, m); err != nil {
			return nil, err
		}
		ok, err := store.SupersedeMemory(wc.Tx, oldID, m.ID, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: memory %s is no longer live", store.ErrPreconditionMissed, oldID)
		}
		if err := store.AppendEvent(wc.Tx, oldID, "superseded", &agentID, &m.ID); err != nil {
			return nil, err
		}
		if err := store.AppendEvent(wc.Tx, m.ID, "created", &agentID, nil); err != nil {
			return nil, err
		}
		if err := store.EnqueueMemoryJobs(wc.Tx, m.ID); err != nil {
			return nil, err
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Memory), nil
}

// Retract withdraws a live memory without replacement.
func (s *Service) Retract(ctx context.Context, id, agentID string, reason *string) error {
	_, err := s.writes.SubmitRetry(ctx, s.retryBudget, s.retryBackoff, func(wc *writer.WriteCtx) (any, error) {
		now := time.Now().UnixMilli()
		ok, err := store.RetractMemory(wc.Tx, id, agentID, reason, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: memory %s is no longer live", store.ErrPreconditionMissed, id)
		}
		if err := store.AppendEvent(wc.Tx, id, "retracted", &agentID, reason); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// Prune hard-deletes memories whose TTL has lapsed. Idempotent; running it
// twice finds nothing the second time.
func (s *Service) Prune(ctx context.Context) (int, error) {
	result, err := s.writes.SubmitRetry(ctx, s.retryBudget, s.retryBackoff, func(wc *writer.WriteCtx) (any, error) {
		now := time.Now().UnixMilli()
		ids, err := store.ExpiredMemoryIDs(wc.Tx, now)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if err := store.AppendEvent(wc.Tx, id, "pruned", nil, nil); err != nil {
				return nil, err
			}
			if err := store.DeleteMemory(wc.Tx, id); err != nil {
				return nil, err
			}
		}
		return len(ids), nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// Conflicts lists recorded conflicts through the reader handle.
func (s *Service) Conflicts(openOnly bool, limit int) ([]*models.MemoryConflict, error) {
	return store.ListConflicts(s.reader, openOnly, limit)
}

// Duplicates lists recorded duplicate pairs through the reader handle.
func (s *Service) Duplicates(openOnly bool, limit int) ([]*models.MemoryDuplicate, error) {
	return store.ListDuplicates(s.reader, openOnly, limit)
}

// ResolveConflict closes an open conflict and stamps the audit trail of
// every member. Resolving an already-resolved conflict is a precondition
// error, not a silent no-op.
func (s *Service) ResolveConflict(ctx context.Context, conflictID, resolution, resolvedBy string) error {
	_, err := s.writes.SubmitRetry(ctx, s.retryBudget, s.retryBackoff, func(wc *writer.WriteCtx) (any, error) {
		c, err := store.GetConflict(wc.Tx, conflictID)
		if err != nil {
			return nil, err
		}
		ok, err := store.ResolveConflict(wc.Tx, conflictID, resolution, resolvedBy)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: conflict %s already resolved", store.ErrPreconditionMissed, conflictID)
		}
		for _, mid := range c.MemberIDs {
			if err := store.AppendEvent(wc.Tx, mid, "conflict_resolved", &resolvedBy, &resolution); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// ResolveDuplicate closes a duplicate pair.
func (s *Service) ResolveDuplicate(ctx context.Context, duplicateID, resolution, resolvedBy string) error {
	_, err := s.writes.SubmitRetry(ctx, s.retryBudget, s.retryBackoff, func(wc *writer.WriteCtx) (any, error) {
		ok, err := store.ResolveDuplicate(wc.Tx, duplicateID, resolution, resolvedBy)
		if err != nil {
			return nil, err
		}
		if !ok {
			if _, err := store.GetDuplicate(wc.Tx, duplicateID); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: duplicate %s already resolved", store.ErrPreconditionMissed, duplicateID)
		}
		return nil, nil
	})
	return err
}

// IsNotFound reports whether err is the store's missing-row sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
