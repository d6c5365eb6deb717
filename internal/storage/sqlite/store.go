package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"txledger/internal/logger"
	"txledger/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

// store implements storage.StateStorage using SQLite.
type store struct {
	db  *sql.DB
	log logger.Logger
}

const createStateTableSQL = `
CREATE TABLE IF NOT EXISTS application_state (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// NewStore opens (or creates) the SQLite database at dbPath.
func NewStore(ctx context.Context, log logger.Logger, dbPath string) (storage.StateStorage, error) {
	log.Info("Initializing SQLite database...", "path", dbPath)

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite db %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database at %s: %w", dbPath, err)
	}
	// SQLite allows one writer; every snapshot write goes through a single connection.
	db.SetMaxOpenConns(1)

	s, err := newStoreWithDB(ctx, log, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite database at %s: %w", dbPath, err)
	}
	log.Success("SQLite database initialized successfully.", "path", dbPath)
	return s, nil
}

func newStoreWithDB(ctx context.Context, log logger.Logger, db *sql.DB) (*store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createStateTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create application_state table: %w", err)
	}
	log.Debug("Table 'application_state' initialized successfully (or already existed).")
	return &store{db: db, log: log}, nil
}

// GetState retrieves a value from the application_state table.
func (s *store) GetState(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM application_state WHERE key = ?`
	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrStateNotFound
		}
		s.log.Error("Failed to query state from SQLite DB", "key", key, "error", err)
		return nil, fmt.Errorf("failed to query state from sqlite for key '%s': %w", key, err)
	}
	return value, nil
}

// SetState saves or updates a key-value pair in the application_state table.
func (s *store) SetState(ctx context.Context, key string, value []byte) error {
	query := `INSERT INTO application_state (key, value, updated_at)
	           VALUES (?, ?, CURRENT_TIMESTAMP)
	           ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		s.log.Error("Failed to set state in SQLite DB", "key", key, "error", err)
		return fmt.Errorf("failed to set state in sqlite for key '%s': %w", key, err)
	}
	s.log.Debug("State saved to SQLite DB", "key", key, "bytes", len(value))
	return nil
}

// DeleteState removes a key from the application_state table.
func (s *store) DeleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM application_state WHERE key = ?`, key); err != nil {
		s.log.Error("Failed to delete state in SQLite DB", "key", key, "error", err)
		return fmt.Errorf("failed to delete state in sqlite for key '%s': %w", key, err)
	}
	return nil
}

// Close closes the database connection.
func (s *store) Close() error {
	s.log.Info("Closing SQLite database connection...")
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
