package buffer

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/conneroisu/panes/internal/errors"
	_ "modernc.org/sqlite"
)

// currentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const currentSchemaVersion = 1

// SQLiteKV persists key/value pairs in a local SQLite database.
type SQLiteKV struct {
	db       *sql.DB
	capacity int64
}

// OpenSQLite opens (creating if needed) the database at path. A capacity of
// zero disables the quota check.
func OpenSQLite(path string, capacity int64) (*SQLiteKV, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(path, 0o600)

	return &SQLiteKV{db: db, capacity: capacity}, nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	// Migration 0 -> 1: Initial schema
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS kv (
		  key        TEXT PRIMARY KEY,
		  value      TEXT NOT NULL,
		  updated_at INTEGER NOT NULL
		);`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	return nil
}

// Get returns the stored value for key.
func (s *SQLiteKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewPersistenceError(errors.ErrCodeStorageUnavailable, "failed to read key", err).
			WithContext("key", key)
	}
	return value, true, nil
}

// Set upserts value under key inside a transaction so the capacity check and
// the write see the same state.
func (s *SQLiteKV) Set(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewPersistenceError(errors.ErrCodeStorageUnavailable, "failed to begin write", err)
	}
	defer tx.Rollback()

	if s.capacity > 0 {
		var used int64
		err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))), 0) FROM kv WHERE key != ?",
			key,
		).Scan(&used)
		if err != nil {
			return errors.NewPersistenceError(errors.ErrCodeStorageUnavailable, "failed to measure usage", err)
		}
		if used+int64(len(key)+len(value)) > s.capacity {
			return errors.NewPersistenceError(errors.ErrCodeQuotaExceeded, "sqlite store capacity exceeded", nil).
				WithContext("key", key).
				WithContext("capacity", s.capacity)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix(),
	)
	if err != nil {
		return errors.NewPersistenceError(errors.ErrCodeStorageUnavailable, "failed to write key", err).
			WithContext("key", key)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewPersistenceError(errors.ErrCodeStorageUnavailable, "failed to commit write", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteKV) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
