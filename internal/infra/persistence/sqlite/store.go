// Package sqlite persists the key-value state to a single SQLite table using
// the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"kittycore/internal/infra/persistence/memory"
	"kittycore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Snapshotter     = (*Store)(nil)
)

const defaultPath = "kittycore.db"

// Store serves reads and transactions from memory and writes each committed
// write set to SQLite before the in-memory state changes.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path and hydrates the
// in-memory state from it.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key BLOB PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	s := &Store{db: db, path: path}
	s.Store = memory.NewStore(engine, memory.WithCommitHook(s.persist))
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT key, value FROM kv`)
	if err != nil {
		return fmt.Errorf("select kv: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var snapshot domain.Snapshot
	for rows.Next() {
		var e domain.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		snapshot.Entries = append(snapshot.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate kv: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist(ctx context.Context, writes []domain.Write) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, w := range writes {
		if w.Deleted {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, w.Key); err != nil {
				return fmt.Errorf("delete %x: %w", w.Key, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv(key,value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, w.Key, w.Value); err != nil {
			return fmt.Errorf("upsert %x: %w", w.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
