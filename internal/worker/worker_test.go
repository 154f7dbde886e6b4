package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hoardlabs/hoard/internal/embedding"
	"github.com/hoardlabs/hoard/internal/memory"
	"github.com/hoardlabs/hoard/internal/models"
	"github.com/hoardlabs/hoard/internal/search"
	"github.com/hoardlabs/hoard/internal/store"
	"github.com/hoardlabs/hoard/internal/writer"
)

type fixture struct {
	db     *store.DB
	writes *writer.Scoped
	svc    *memory.Service
	worker *Worker
}

func newFixture(t *testing.T, leaseTTL time.Duration) *fixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(dbPath, time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1, 0, 0}}})
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scoped := &writer.Scoped{DBPath: dbPath, BusyTimeout: time.Second, LockTimeout: 2 * time.Second}
	embedder := embedding.NewCachedEmbedder(embedding.NewClient(srv.URL, "test-model", 3), db)
	detector := memory.NewDetector(0.85, logger)
	svc := memory.NewService(scoped, db, search.NewSearcher(0.6, 0.4), nil, 30, time.Second, 10*time.Millisecond, logger)

	return &fixture{
		db:     db,
		writes: scoped,
		svc:    svc,
		worker: New(scoped, db, embedder, detector, leaseTTL, time.Second, logger),
	}
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	lastSweep := time.Now()
	f.worker.tick(context.Background(), &lastSweep)
}

func (f *fixture) enqueue(t *testing.T, kind, targetID string) {
	t.Helper()
	if _, err := f.writes.Submit(context.Background(), func(wc *writer.WriteCtx) (any, error) {
		return nil, store.EnqueueJob(wc.Tx, kind, targetID, 5)
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func pendingJobs(t *testing.T, db *store.DB) int {
	t.Helper()
	n, err := store.PendingJobCount(db)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	return n
}

func TestWorkerDrainsMemoryJobs(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	m, err := f.svc.Put(ctx, memory.PutParams{
		Slot:    "ctx:notes.deploy",
		AgentID: "agent-a",
		Content: "deploy with make release",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if n := pendingJobs(t, f.db); n != 3 {
		t.Fatalf("queued jobs = %d, want embed + both detectors", n)
	}

	f.tick(t)

	if n := pendingJobs(t, f.db); n != 0 {
		t.Fatalf("pending after tick = %d", n)
	}
	emb, err := store.GetEmbedding(f.db, m.ID)
	if err != nil {
		t.Fatalf("get embedding: %v", err)
	}
	if emb == nil {
		t.Fatal("memory not embedded")
	}

	// The backend round trip lands in the vector cache and the audit trail.
	if vec, err := store.CachedVector(f.db, m.ContentHash, "test-model"); err != nil || vec == nil {
		t.Errorf("cached vector = %v, %v", vec, err)
	}
	events, err := store.ListEvents(f.db, m.ID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	embedded := false
	for _, e := range events {
		if e.EventType == "embedded" {
			embedded = true
		}
	}
	if !embedded {
		t.Error("embedded event missing")
	}
}

func TestSecondWorkerStandsBy(t *testing.T) {
	f := newFixture(t, time.Minute)

	f.tick(t)

	standby := New(f.writes, f.db, f.worker.embedder, f.worker.detector, time.Minute, time.Second, f.worker.logger)
	f.enqueue(t, models.JobEmbedMemory, "mem-gone")

	lastSweep := time.Now()
	standby.tick(context.Background(), &lastSweep)
	if n := pendingJobs(t, f.db); n != 1 {
		t.Fatalf("standby worker touched the queue, pending = %d", n)
	}

	lease, err := store.GetLease(f.db)
	if err != nil || lease == nil {
		t.Fatalf("lease = %v, %v", lease, err)
	}
	if lease.WorkerID != f.worker.ID() {
		t.Errorf("lease holder = %s, want %s", lease.WorkerID, f.worker.ID())
	}
}

func TestStandbyTakesOverLapsedLease(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)

	f.tick(t)
	time.Sleep(60 * time.Millisecond)

	successor := New(f.writes, f.db, f.worker.embedder, f.worker.detector, time.Minute, time.Second, f.worker.logger)
	f.enqueue(t, models.JobEmbedMemory, "mem-gone")

	lastSweep := time.Now()
	successor.tick(context.Background(), &lastSweep)
	if n := pendingJobs(t, f.db); n != 0 {
		t.Fatalf("successor did not drain, pending = %d", n)
	}

	lease, err := store.GetLease(f.db)
	if err != nil || lease == nil {
		t.Fatalf("lease = %v, %v", lease, err)
	}
	if lease.WorkerID != successor.ID() {
		t.Errorf("lease holder = %s, want successor %s", lease.WorkerID, successor.ID())
	}
}

func TestUnknownJobKindFails(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.enqueue(t, "refit_flux_capacitor", "x")

	f.tick(t)

	if n := pendingJobs(t, f.db); n != 0 {
		t.Fatalf("pending after tick = %d", n)
	}
	var status, errMsg string
	err := f.db.QueryRow(`SELECT status, error_message FROM background_jobs LIMIT 1`).Scan(&status, &errMsg)
	if err != nil {
		t.Fatalf("read job: %v", err)
	}
	if status != models.JobFailed {
		t.Errorf("status = %s, want failed after retries", status)
	}
	if errMsg == "" {
		t.Error("error message not recorded")
	}
}

func TestEmbedJobForMissingMemoryCompletes(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.enqueue(t, models.JobEmbedMemory, "mem-gone")

	f.tick(t)

	var status string
	if err := f.db.QueryRow(`SELECT status FROM background_jobs LIMIT 1`).Scan(&status); err != nil {
		t.Fatalf("read job: %v", err)
	}
	if status != models.JobDone {
		t.Errorf("status = %s, want done for a vanished target", status)
	}
}

func TestCloseStopsRun(t *testing.T) {
	f := newFixture(t, time.Minute)
	done := make(chan struct{})
	go func() {
		f.worker.Run(context.Background())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	f.worker.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after Close")
	}
}
