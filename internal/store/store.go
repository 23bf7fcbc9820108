// Package store is gatesync's single source of truth: a SQLite database
// (pure-Go modernc.org/sqlite driver) shared by every pipeline stage.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/HerbHall/gatesync/pkg/plugin"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

var _ plugin.Store = (*SQLiteStore)(nil)

// SQLiteStore implements plugin.Store.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex // serializes migrations
}

// New opens (or creates) the database at path and applies WAL and busy
// timeout pragmas. ":memory:" is accepted for tests.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// One connection: row-level updates from the poller and the delivery
	// pool are serialized here instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite takes pragmas as statements, not DSN params.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// DB returns the underlying *sql.DB.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Path returns the file the store was opened from.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Tx runs fn in a transaction, committing on nil and rolling back otherwise.
// fn must only use tx: the pool holds a single connection.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// Migrate applies the pending migrations of one module, in the order given.
// Applied versions are tracked per module in the _migrations table.
func (s *SQLiteStore) Migrate(ctx context.Context, module string, migrations []plugin.Migration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			plugin_name TEXT     NOT NULL,
			version     INTEGER  NOT NULL,
			description TEXT     NOT NULL,
			applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (plugin_name, version)
		)`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM _migrations WHERE plugin_name = ? AND version = ?",
			module, m.Version,
		).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s/%d: %w", module, m.Version, err)
		}
		if count > 0 {
			continue
		}

		err := s.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO _migrations (plugin_name, version, description) VALUES (?, ?, ?)",
				module, m.Version, m.Description,
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", module, m.Version, m.Description, err)
		}
	}
	return nil
}

// Checkpoint folds the WAL into the main database file so that a file-level
// copy is complete.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
