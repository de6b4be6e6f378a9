// Package store implements the repository contract over the embedded
// SQLite database: typed CRUD for each entity plus the query helpers the
// engine depends on.
//
// Multi-entity mutations run inside a transaction via WithTx; on failure
// every write rolls back. Readers run in parallel through the WAL
// snapshot; writers serialize per story via a keyed mutex so interleaved
// chapter bookkeeping never observes partial state.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Store is the SQLite-backed repository.
type Store struct {
	db *sql.DB

	// storyMu serializes multi-statement writers per story.
	storyMu sync.Map // storyID → *sync.Mutex
}

// New creates a Store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// storyLock returns the mutex guarding writes for one story.
func (s *Store) storyLock(storyID string) *sync.Mutex {
	mu, _ := s.storyMu.LoadOrStore(storyID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// LockStory serializes a multi-entity write sequence for one story.
// The returned func releases the lock.
func (s *Store) LockStory(storyID string) func() {
	mu := s.storyLock(storyID)
	mu.Lock()
	return mu.Unlock
}

// WithTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier abstracts *sql.DB and *sql.Tx so read helpers work in both.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
