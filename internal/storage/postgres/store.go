package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"txledger/internal/logger"
	"txledger/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// store implements storage.StateStorage using PostgreSQL.
type store struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

const createStateTableSQL = `
CREATE TABLE IF NOT EXISTS application_state (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// NewStore creates a new PostgreSQL state storage.
func NewStore(ctx context.Context, log logger.Logger, connectionString string, maxConnsStr string) (storage.StateStorage, error) {
	config, err := pgxpool.ParseConfig(connectionString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if maxConnsStr != "" {
		maxConns, err := strconv.Atoi(maxConnsStr)
		if err != nil {
			log.Warn("Invalid DB_POOL_MAX_CONNS value, using default", "value", maxConnsStr, "error", err)
		} else if maxConns > 0 {
			config.MaxConns = int32(maxConns)
			log.Info("Setting max DB connections", "count", config.MaxConns)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, createStateTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create application_state table: %w", err)
	}
	log.Info("Table 'application_state' initialized successfully (or already existed).")

	log.Success("Successfully connected to PostgreSQL.")
	return &store{pool: pool, log: log}, nil
}

// GetState retrieves a value from the application_state table.
func (s *store) GetState(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM application_state WHERE key = $1`
	var value []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrStateNotFound
		}
		s.log.Error("Failed to query state from DB", "key", key, "error", err)
		return nil, fmt.Errorf("failed to query state for key '%s': %w", key, err)
	}
	return value, nil
}

// SetState saves or updates a key-value pair in the application_state table.
func (s *store) SetState(ctx context.Context, key string, value []byte) error {
	query := `INSERT INTO application_state (key, value, updated_at)
	           VALUES ($1, $2, now())
	           ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		s.log.Error("Failed to set state in DB", "key", key, "error", err)
		return fmt.Errorf("failed to set state for key '%s': %w", key, err)
	}
	s.log.Debug("State saved to DB", "key", key, "bytes", len(value))
	return nil
}

// DeleteState removes a key from the application_state table.
func (s *store) DeleteState(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM application_state WHERE key = $1`, key); err != nil {
		s.log.Error("Failed to delete state in DB", "key", key, "error", err)
		return fmt.Errorf("failed to delete state for key '%s': %w", key, err)
	}
	return nil
}

// Close closes the database connection pool.
func (s *store) Close() error {
	if s.pool != nil {
		s.log.Info("Closing PostgreSQL connection pool...")
		s.pool.Close()
	}
	return nil
}
