package memory

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hoardlabs/hoard/internal/models"
	"github.com/hoardlabs/hoard/internal/store"
)

func setupDetectorDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func detectorTx(t *testing.T, db *store.DB, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	fn(tx)
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func seedMemory(t *testing.T, tx *sql.Tx, slot, agentID, content string, vec []float32) *models.Memory {
	t.Helper()
	now := time.Now().UnixMilli()
	m := &models.Memory{
		ID:          "mem-" + uuid.NewString(),
		Slot:        slot,
		ScopeType:   "user",
		AgentID:     agentID,
		Content:     content,
		ContentHash: store.ContentHash(content),
		Sensitivity: "normal",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.InsertMemory(tx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if vec != nil {
		if err := store.PutEmbedding(tx, m.ID, vec, "test-model"); err != nil {
			t.Fatalf("embedding: %v", err)
		}
	}
	return m
}

func TestDetectDuplicates(t *testing.T) {
	db := setupDetectorDB(t)
	d := NewDetector(0.85, testLogger())

	var target, near *models.Memory
	detectorTx(t, db, func(tx *sql.Tx) {
		target = seedMemory(t, tx, "ctx:notes.a", "agent-a", "deploy steps", []float32{1, 0, 0})
		near = seedMemory(t, tx, "ctx:notes.b", "agent-b", "deployment steps", []float32{0.99, 0.14, 0})
		seedMemory(t, tx, "ctx:notes.c", "agent-c", "lunch menu", []float32{0, 1, 0})
	})

	detectorTx(t, db, func(tx *sql.Tx) {
		n, err := d.DetectDuplicates(tx, target.ID)
		if err != nil {
			t.Fatalf("detect: %v", err)
		}
		if n != 1 {
			t.Fatalf("pairs = %d, want only the near vector", n)
		}
	})

	dups, err := store.ListDuplicates(db, true, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(dups) != 1 {
		t.Fatalf("duplicates = %d", len(dups))
	}
	pair := dups[0]
	if pair.MemoryIDA != near.ID && pair.MemoryIDB != near.ID {
		t.Errorf("pair = %s/%s, want to include %s", pair.MemoryIDA, pair.MemoryIDB, near.ID)
	}
	if pair.Similarity < 0.85 {
		t.Errorf("similarity = %f", pair.Similarity)
	}

	// Re-detection refreshes the existing pair instead of stacking rows.
	detectorTx(t, db, func(tx *sql.Tx) {
		if _, err := d.DetectDuplicates(tx, target.ID); err != nil {
			t.Fatalf("re-detect: %v", err)
		}
	})
	dups, err = store.ListDuplicates(db, true, 10)
	if err != nil || len(dups) != 1 {
		t.Fatalf("after re-detect = %d, %v, want still 1", len(dups), err)
	}
}

func TestDetectDuplicatesMissingVector(t *testing.T) {
	db := setupDetectorDB(t)
	d := NewDetector(0.85, testLogger())

	var m *models.Memory
	detectorTx(t, db, func(tx *sql.Tx) {
		m = seedMemory(t, tx, "ctx:notes.x", "agent-a", "unembedded", nil)
	})

	// Not an error: the embed job is still queued.
	detectorTx(t, db, func(tx *sql.Tx) {
		n, err := d.DetectDuplicates(tx, m.ID)
		if err != nil || n != 0 {
			t.Fatalf("detect without vector = %d, %v", n, err)
		}
	})

	// Same for a memory that vanished before the job ran.
	detectorTx(t, db, func(tx *sql.Tx) {
		n, err := d.DetectDuplicates(tx, "mem-gone")
		if err != nil || n != 0 {
			t.Fatalf("detect missing memory = %d, %v", n, err)
		}
	})
}

func TestDetectConflictsOpensAndAutoResolves(t *testing.T) {
	db := setupDetectorDB(t)
	d := NewDetector(0.85, testLogger())

	var a, b *models.Memory
	detectorTx(t, db, func(tx *sql.Tx) {
		a = seedMemory(t, tx, "fact:project.owner", "agent-a", "Alice", nil)
		b = seedMemory(t, tx, "fact:project.owner", "agent-b", "Bob", nil)
	})

	var conflictID string
	detectorTx(t, db, func(tx *sql.Tx) {
		c, err := d.DetectConflicts(tx, b.ID)
		if err != nil {
			t.Fatalf("detect: %v", err)
		}
		if c == nil || len(c.MemberIDs) != 2 {
			t.Fatalf("conflict = %+v, want both members", c)
		}
		conflictID = c.ID
	})

	// A second run refreshes the open conflict rather than opening another.
	detectorTx(t, db, func(tx *sql.Tx) {
		c, err := d.DetectConflicts(tx, a.ID)
		if err != nil {
			t.Fatalf("re-detect: %v", err)
		}
		if c == nil || c.ID != conflictID {
			t.Fatalf("re-detect conflict = %+v, want same id %s", c, conflictID)
		}
	})

	// One agent retracts; the next detector pass closes the conflict.
	detectorTx(t, db, func(tx *sql.Tx) {
		if _, err := store.RetractMemory(tx, a.ID, "agent-a", nil, time.Now().UnixMilli()); err != nil {
			t.Fatalf("retract: %v", err)
		}
	})
	detectorTx(t, db, func(tx *sql.Tx) {
		c, err := d.DetectConflicts(tx, b.ID)
		if err != nil {
			t.Fatalf("detect after retract: %v", err)
		}
		if c != nil {
			t.Fatalf("conflict = %+v, want auto-resolved", c)
		}
	})

	open, err := store.ListConflicts(db, true, 10)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("open conflicts = %d, want 0", len(open))
	}
}

func TestDetectConflictsSameAgentNoConflict(t *testing.T) {
	db := setupDetectorDB(t)
	d := NewDetector(0.85, testLogger())

	var b *models.Memory
	detectorTx(t, db, func(tx *sql.Tx) {
		seedMemory(t, tx, "pref:editor", "agent-a", "vim", nil)
		b = seedMemory(t, tx, "pref:editor", "agent-a", "emacs", nil)
	})

	detectorTx(t, db, func(tx *sql.Tx) {
		c, err := d.DetectConflicts(tx, b.ID)
		if err != nil {
			t.Fatalf("detect: %v", err)
		}
		if c != nil {
			t.Fatalf("conflict = %+v for a single agent", c)
		}
	})
}

func TestSweepConflicts(t *testing.T) {
	db := setupDetectorDB(t)
	d := NewDetector(0.85, testLogger())

	var a, b *models.Memory
	detectorTx(t, db, func(tx *sql.Tx) {
		a = seedMemory(t, tx, "decision:arch.queue", "agent-a", "kafka", nil)
		b = seedMemory(t, tx, "decision:arch.queue", "agent-b", "nats", nil)
	})
	detectorTx(t, db, func(tx *sql.Tx) {
		if _, err := d.DetectConflicts(tx, b.ID); err != nil {
			t.Fatalf("detect: %v", err)
		}
	})

	// Retract without a detector pass: the sweep has to notice.
	detectorTx(t, db, func(tx *sql.Tx) {
		if _, err := store.RetractMemory(tx, a.ID, "agent-a", nil, time.Now().UnixMilli()); err != nil {
			t.Fatalf("retract: %v", err)
		}
	})
	detectorTx(t, db, func(tx *sql.Tx) {
		n, err := d.SweepConflicts(tx)
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if n != 1 {
			t.Fatalf("swept = %d, want 1", n)
		}
	})

	// Nothing left for a second pass.
	detectorTx(t, db, func(tx *sql.Tx) {
		n, err := d.SweepConflicts(tx)
		if err != nil || n != 0 {
			t.Fatalf("second sweep = %d, %v", n, err)
		}
	})
}
