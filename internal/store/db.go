// Package store is the persistence gateway for the FlowMessage server. It
// owns the PostgreSQL connection, schema migrations, and the error taxonomy
// shared by every layer above it. All access goes through parameterized
// queries; callers are expected to pass contexts with bounded timeouts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps a database handle and exposes scoped transaction execution.
type DB struct {
	*sql.DB
}

// Open connects to PostgreSQL using the given DSN and verifies the
// connection with a bounded ping.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &DB{db}, nil
}

// NewDB wraps an already-open database handle. Used by tests that run the
// stores against SQLite.
func NewDB(db *sql.DB) *DB {
	return &DB{db}
}

// Transact runs fn inside a transaction. The transaction is rolled back on
// error or panic and committed otherwise, so no exit path can leak an open
// transaction.
func (db *DB) Transact(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("store: commit: %w", cerr)
		}
	}()

	return fn(tx)
}
