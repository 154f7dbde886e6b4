package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the single writable SQLite connection with initialization logic.
// Exactly one DB exists per process that writes; readers use OpenReader.
type DB struct {
	*sql.DB
	path string
}

func dsn(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf(
		"%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_foreign_keys=ON",
		path, busyTimeout.Milliseconds(),
	)
}

// Open creates or opens the database at the given path, runs schema
// initialization and migrations, and configures WAL mode. The returned
// handle is the writer: it is pinned to one connection and must only be
// driven from the write coordinator (or a scoped CLI write).
func Open(dbPath string, busyTimeout time.Duration) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn(dbPath, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStorageUnavailable, dbPath, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{DB: db, path: dbPath}, nil
}

// OpenReader opens a read-only view of an already-initialized database.
// Reader handles are cheap, per-request, and never run migrations.
func OpenReader(dbPath string, busyTimeout time.Duration) (*sql.DB, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrStorageUnavailable, dbPath, err)
	}
	db, err := sql.Open("sqlite3", dsn(dbPath, busyTimeout)+"&mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}
	return db, nil
}

// Path returns the database file path. Lock files live beside it.
func (db *DB) Path() string { return db.path }

// nowMillis is the single clock for stored timestamps.
func nowMillis() int64 { return time.Now().UnixMilli() }

// columnExists checks if a column exists in a table. It properly closes the
// rows cursor before returning, avoiding deadlocks with MaxOpenConns(1).
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(
		fmt.Sprintf("SELECT name FROM pragma_table_info('%s') WHERE name = ?", table),
		column,
	)
	if err != nil {
		return false, err
	}
	found := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}
