package store

import (
	"database/sql"
	"fmt"
)

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS memories (
  id TEXT PRIMARY KEY,
  slot TEXT NOT NULL CHECK (
    slot LIKE 'pref:%' OR slot LIKE 'fact:%' OR slot LIKE 'ctx:%'
    OR slot LIKE 'decision:%' OR slot LIKE 'event:%'
  ),
  scope_type TEXT NOT NULL CHECK (scope_type IN ('user','project','entity','domain')),
  scope_id TEXT,
  agent_id TEXT NOT NULL,
  content TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  superseded_by TEXT REFERENCES memories(id) ON DELETE SET NULL,
  superseded_at INTEGER,
  retracted_at INTEGER,
  retracted_by TEXT,
  retraction_reason TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  expires_at INTEGER,
  CHECK ((scope_type = 'user') = (scope_id IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_memories_slot_live
  ON memories(slot, scope_type, scope_id)
  WHERE retracted_at IS NULL AND superseded_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id);
CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at) WHERE expires_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_memories_hash ON memories(content_hash);

CREATE TABLE IF NOT EXISTS memory_tags (
  memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
  tag TEXT NOT NULL CHECK (tag = lower(tag)),
  PRIMARY KEY (memory_id, tag)
);

CREATE TABLE IF NOT EXISTS memory_embeddings (
  memory_id TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
  embedding BLOB NOT NULL,
  dimensions INTEGER NOT NULL,
  model TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  CHECK (length(embedding) = dimensions * 4)
);

CREATE TABLE IF NOT EXISTS embedding_cache (
  content_hash TEXT PRIMARY KEY,
  embedding BLOB NOT NULL,
  dimensions INTEGER NOT NULL,
  model TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  CHECK (length(embedding) = dimensions * 4)
);

CREATE TABLE IF NOT EXISTS memory_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  memory_id TEXT NOT NULL,
  event_type TEXT NOT NULL CHECK (event_type IN (
    'created','superseded','retracted','embedded',
    'duplicate_detected','conflict_detected','conflict_resolved','pruned'
  )),
  agent_id TEXT,
  detail TEXT,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_events_memory ON memory_events(memory_id);

CREATE TABLE IF NOT EXISTS memory_duplicates (
  id TEXT PRIMARY KEY,
  memory_id_a TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
  memory_id_b TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
  similarity REAL NOT NULL,
  detected_at INTEGER NOT NULL,
  resolved_at INTEGER,
  resolution TEXT,
  resolved_by TEXT,
  UNIQUE (memory_id_a, memory_id_b)
);

CREATE TABLE IF NOT EXISTS memory_conflicts (
  id TEXT PRIMARY KEY,
  slot TEXT NOT NULL,
  scope_type TEXT NOT NULL,
  scope_id TEXT,
  detected_at INTEGER NOT NULL,
  resolved_at INTEGER,
  resolution TEXT,
  resolved_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_conflicts_open
  ON memory_conflicts(slot, scope_type, scope_id)
  WHERE resolved_at IS NULL;

CREATE TABLE IF NOT EXISTS conflict_members (
  conflict_id TEXT NOT NULL REFERENCES memory_conflicts(id) ON DELETE CASCADE,
  memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
  PRIMARY KEY (conflict_id, memory_id)
);

CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT,
  payload TEXT,
  priority INTEGER NOT NULL DEFAULT 5,
  requires_capability TEXT,
  status TEXT NOT NULL CHECK (status IN (
    'pending','queued','claimed','running','done','failed','cancelled'
  )),
  assigned_agent_id TEXT,
  claimed_at INTEGER,
  started_at INTEGER,
  completed_at INTEGER,
  attempt_number INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 3,
  error_message TEXT,
  output_summary TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_queued
  ON tasks(priority, created_at) WHERE status = 'queued';
CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(assigned_agent_id);

CREATE TABLE IF NOT EXISTS task_dependencies (
  task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
  depends_on_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
  dependency_type TEXT NOT NULL DEFAULT 'completion',
  PRIMARY KEY (task_id, depends_on_task_id)
);

CREATE TABLE IF NOT EXISTS background_jobs (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL CHECK (kind IN ('embed_memory','detect_duplicates','detect_conflicts')),
  target_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','running','done','failed')),
  priority INTEGER NOT NULL DEFAULT 5,
  retry_count INTEGER NOT NULL DEFAULT 0,
  max_retries INTEGER NOT NULL DEFAULT 3,
  error_message TEXT,
  created_at INTEGER NOT NULL,
  started_at INTEGER,
  finished_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_jobs_pending
  ON background_jobs(priority DESC, created_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_jobs_target ON background_jobs(target_id);

CREATE TABLE IF NOT EXISTS worker_lease (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  worker_id TEXT NOT NULL,
  hostname TEXT,
  pid INTEGER,
  acquired_at INTEGER NOT NULL,
  heartbeat_at INTEGER NOT NULL,
  expires_at INTEGER NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	// FTS5 virtual table and triggers are created separately since
	// IF NOT EXISTS isn't always supported for virtual tables in older SQLite.
	fts := `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
  content, slot,
  content='memories', content_rowid='rowid'
);
`
	if _, err := db.Exec(fts); err != nil {
		return fmt.Errorf("create fts table: %w", err)
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
  INSERT INTO memories_fts(rowid, content, slot)
  VALUES (NEW.rowid, NEW.content, NEW.slot);
END;`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
  INSERT INTO memories_fts(memories_fts, rowid, content, slot)
  VALUES ('delete', OLD.rowid, OLD.content, OLD.slot);
END;`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
  INSERT INTO memories_fts(memories_fts, rowid, content, slot)
  VALUES ('delete', OLD.rowid, OLD.content, OLD.slot);
  INSERT INTO memories_fts(rowid, content, slot)
  VALUES (NEW.rowid, NEW.content, NEW.slot);
END;`,
	}

	for _, t := range triggers {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}

	return nil
}

// runMigrations applies incremental schema changes added after the initial
// schema. Each migration is idempotent so it is safe to call on every open.
func runMigrations(db *sql.DB) error {
	// Migration v2: sensitivity labels on memories.
	hasSensitivity, err := columnExists(db, "memories", "sensitivity")
	if err != nil {
		return fmt.Errorf("check sensitivity column: %w", err)
	}
	if !hasSensitivity {
		migrations := []string{
			`ALTER TABLE memories ADD COLUMN sensitivity TEXT NOT NULL DEFAULT 'normal'`,
			`CREATE INDEX IF NOT EXISTS idx_memories_sensitivity ON memories(sensitivity)`,
		}
		for _, m := range migrations {
			if _, err := db.Exec(m); err != nil {
				return fmt.Errorf("run migration v2: %w", err)
			}
		}
	}

	return nil
}
