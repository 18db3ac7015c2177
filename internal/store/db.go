// Package store implements the durable relational metadata repository:
// users, sessions, devices, workspaces, blob records, workspace→blob
// reference edges, multipart upload sessions, share sessions, and
// published-site records.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps two *sql.DB handles over the same SQLite file: a
// single-connection write handle (SQLite serializes writers regardless,
// but pinning MaxOpenConns(1) makes that explicit and avoids "database
// is locked" retries under contention) and a multi-connection read
// handle, mirroring the "sole-writer" discipline documented in the
// teacher's internal/sync/ledger.go package comment.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// Open opens (creating if needed) the SQLite database at path. Callers
// run Migrate separately before serving traffic.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"

	write, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening write handle: %w", err)
	}

	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = write.Close()
		return nil, fmt.Errorf("store: opening read handle: %w", err)
	}

	return &Store{write: write, read: read}, nil
}

// Close releases both underlying connections.
func (s *Store) Close() error {
	werr := s.write.Close()
	rerr := s.read.Close()

	if werr != nil {
		return werr
	}

	return rerr
}

// DB exposes the write handle for migrations; repositories use
// s.write/s.read directly.
func (s *Store) DB() *sql.DB { return s.write }
