package store

import "database/sql"

// Querier is the common query surface of *sql.DB and *sql.Tx. Read helpers
// accept a Querier so they run equally on a per-request reader handle or
// inside a write transaction on the coordinator thread.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)
