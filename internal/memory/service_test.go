package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/hoardlabs/hoard/internal/models"
	"github.com/hoardlabs/hoard/internal/search"
	"github.com/hoardlabs/hoard/internal/store"
	"github.com/hoardlabs/hoard/internal/writer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService wires a service the way the CLI does: scoped writes, a
// shared reader handle, no embedder.
func newTestService(t *testing.T) (*Service, *store.DB) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(dbPath, time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	scoped := &writer.Scoped{DBPath: dbPath, BusyTimeout: time.Second, LockTimeout: 2 * time.Second}
	svc := NewService(scoped, db, search.NewSearcher(0.6, 0.4), nil, 30, time.Second, 10*time.Millisecond, testLogger())
	return svc, db
}

func TestSlotForKey(t *testing.T) {
	cases := []struct {
		key, want string
	}{
		{"pref:editor", "pref:editor"},
		{"fact:project.owner", "fact:project.owner"},
		{"my notes", "ctx:my_notes"},
		{"Weird--Key!!", "ctx:weird_key"},
		{"...", "ctx:unnamed"},
		{"", "ctx:unnamed"},
		{"already_fine", "ctx:already_fine"},
	}
	for _, tc := range cases {
		if got := SlotForKey(tc.key); got != tc.want {
			t.Errorf("SlotForKey(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	svc, db := newTestService(t)

	m, err := svc.Put(context.Background(), PutParams{
		Key:     "editor",
		AgentID: "agent-a",
		Content: "vim with gopls",
		Tags:    []string{"Tools", "editor"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if m.Slot != "ctx:editor" {
		t.Errorf("slot = %s", m.Slot)
	}
	if m.ExpiresAt == nil {
		t.Error("default TTL not applied")
	}

	got, err := svc.Get("editor", "", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0].Content != "vim with gopls" {
		t.Fatalf("get = %v", got)
	}
	if len(got[0].Tags) != 2 || got[0].Tags[0] != "editor" {
		t.Errorf("tags = %v, want normalized", got[0].Tags)
	}

	// The write queued its post-processing jobs.
	n, err := store.PendingJobCount(db)
	if err != nil || n != 3 {
		t.Fatalf("pending jobs = %d, %v, want 3", n, err)
	}
}

func TestPutValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Put(ctx, PutParams{Slot: "pref:editor", Content: "x"}); !errors.Is(err, store.ErrIntegrityViolation) {
		t.Errorf("missing agent = %v", err)
	}
	if _, err := svc.Put(ctx, PutParams{Slot: "pref:editor", AgentID: "a", Content: "  "}); !errors.Is(err, store.ErrIntegrityViolation) {
		t.Errorf("empty content = %v", err)
	}
	if _, err := svc.Put(ctx, PutParams{Slot: "bogus:thing", AgentID: "a", Content: "x"}); err == nil {
		t.Error("unknown slot namespace accepted")
	}
	proj := "p1"
	if _, err := svc.Put(ctx, PutParams{Slot: "pref:editor", ScopeType: "user", ScopeID: &proj, AgentID: "a", Content: "x"}); err == nil {
		t.Error("user scope with scope id accepted")
	}
	if _, err := svc.Put(ctx, PutParams{Slot: "pref:editor", AgentID: "a", Content: "<private>all of it</private>"}); !errors.Is(err, store.ErrIntegrityViolation) {
		t.Errorf("fully private content = %v", err)
	}
}

func TestPutStripsPrivateBlocks(t *testing.T) {
	svc, _ := newTestService(t)

	m, err := svc.Put(context.Background(), PutParams{
		Slot:    "ctx:notes.standup",
		AgentID: "agent-a",
		Content: "shipped the release <private>token abc123</private>",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if m.Content != "shipped the release" {
		t.Errorf("stored content = %q", m.Content)
	}
	if m.ContentHash != store.ContentHash("shipped the release") {
		t.Error("hash not taken over the stripped content")
	}
}

func TestPutSupersedesOwnPrior(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Put(ctx, PutParams{Slot: "pref:editor", AgentID: "agent-a", Content: "emacs"})
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	second, err := svc.Put(ctx, PutParams{Slot: "pref:editor", AgentID: "agent-a", Content: "vim"})
	if err != nil {
		t.Fatalf("second put: %v", err)
	}

	live, err := svc.Get("pref:editor", "user", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(live) != 1 || live[0].ID != second.ID {
		t.Fatalf("live = %v, want only the second write", live)
	}

	old, err := svc.GetByID(first.ID)
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if old.SupersededBy == nil || *old.SupersededBy != second.ID {
		t.Errorf("old superseded_by = %v", old.SupersededBy)
	}
}

func TestPutDifferentAgentsCoexist(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Put(ctx, PutParams{Slot: "fact:project.owner", AgentID: "agent-a", Content: "Alice"}); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if _, err := svc.Put(ctx, PutParams{Slot: "fact:project.owner", AgentID: "agent-b", Content: "Bob"}); err != nil {
		t.Fatalf("put b: %v", err)
	}

	live, err := svc.Get("fact:project.owner", "user", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("live = %d entries, want both agents' values", len(live))
	}
}

func TestSupersedePrecondition(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Put(ctx, PutParams{Slot: "decision:arch.db", AgentID: "agent-a", Content: "postgres"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	repl, err := svc.Supersede(ctx, m.ID, "sqlite", "agent-a", nil)
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if repl.Slot != m.Slot {
		t.Errorf("replacement slot = %s", repl.Slot)
	}

	// The guard fires on the already-superseded target and the losing
	// insert rolls back with it.
	if _, err := svc.Supersede(ctx, m.ID, "mysql", "agent-b", nil); !errors.Is(err, store.ErrPreconditionMissed) {
		t.Fatalf("second supersede = %v, want precondition missed", err)
	}
	live, err := svc.Get("decision:arch.db", "user", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(live) != 1 || live[0].ID != repl.ID {
		t.Fatalf("live = %v, want only first replacement", live)
	}
}

func TestRetractPrecondition(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Put(ctx, PutParams{Slot: "ctx:session.notes", AgentID: "agent-a", Content: "scratch"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	reason := "obsolete"
	if err := svc.Retract(ctx, m.ID, "agent-a", &reason); err != nil {
		t.Fatalf("retract: %v", err)
	}
	if err := svc.Retract(ctx, m.ID, "agent-a", &reason); !errors.Is(err, store.ErrPreconditionMissed) {
		t.Fatalf("second retract = %v, want precondition missed", err)
	}

	live, err := svc.Get("ctx:session.notes", "user", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("live after retract = %v", live)
	}
}

func TestPruneImmediateTTL(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	zero := 0
	m, err := svc.Put(ctx, PutParams{Slot: "ctx:ttl.immediate", AgentID: "agent-a", Content: "expire now", TTLDays: &zero})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	// Already invisible to reads before the prune.
	time.Sleep(2 * time.Millisecond)
	live, err := svc.Get("ctx:ttl.immediate", "user", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("ttl-0 memory still live: %v", live)
	}

	n, err := svc.Prune(ctx)
	if err != nil || n != 1 {
		t.Fatalf("prune = %d, %v, want 1", n, err)
	}
	if _, err := svc.GetByID(m.ID); !IsNotFound(err) {
		t.Fatalf("get pruned = %v, want not found", err)
	}

	// Second run finds nothing.
	n, err = svc.Prune(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second prune = %d, %v, want 0", n, err)
	}
}

func TestHistoryAuditTrail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Put(ctx, PutParams{Slot: "pref:shell", AgentID: "agent-a", Content: "zsh"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := svc.Supersede(ctx, m.ID, "fish", "agent-a", nil); err != nil {
		t.Fatalf("supersede: %v", err)
	}

	events, err := svc.History(m.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	kinds := make(map[string]bool)
	for _, e := range events {
		kinds[e.EventType] = true
	}
	if !kinds["created"] || !kinds["superseded"] {
		t.Fatalf("event kinds = %v, want created and superseded", kinds)
	}
}

func TestSearchKeywordFallback(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Put(ctx, PutParams{Slot: "ctx:docs.prd", AgentID: "agent-a", Content: "payment flow design notes"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	// No embedder wired: keyword channel only.
	results, err := svc.Search(ctx, "payment flow", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %v", results)
	}
	if results[0].VectorScore != 0 {
		t.Errorf("vector score = %f without embedder", results[0].VectorScore)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.GetByID("mem-nope"); !IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestPutStatusLive(t *testing.T) {
	svc, _ := newTestService(t)
	m, err := svc.Put(context.Background(), PutParams{Slot: "pref:theme", AgentID: "agent-a", Content: "dark"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if s := m.Status(time.Now().UnixMilli()); s != models.MemoryLive {
		t.Errorf("status = %s, want live", s)
	}
}
