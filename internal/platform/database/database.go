package database

import (
	"context"
	"errors"
	"fmt"

	"txledger/internal/logger"
	"txledger/internal/storage"
	"txledger/internal/storage/memory"
	"txledger/internal/storage/postgres"
	"txledger/internal/storage/sqlite"
	"txledger/internal/types"
)

var (
	// ErrUnsupportedDBType indicates that the provided database type is not supported.
	ErrUnsupportedDBType = errors.New("unsupported database type specified")
	// ErrDBConnectionFailed indicates that the attempt to connect to the database failed.
	ErrDBConnectionFailed = errors.New("database connection failed")
	// ErrMissingConnectionString indicates that the database connection string was not provided.
	ErrMissingConnectionString = errors.New("database connection string is missing")
)

// NewStorage creates the state storage that holds the persisted record snapshots.
// With types.None the snapshot lives only for the lifetime of the process.
func NewStorage(ctx context.Context, log logger.Logger, dbType types.DBType, connStr, maxConnsStr string) (storage.StateStorage, error) {
	switch dbType {
	case types.Postgres:
		if connStr == "" {
			return nil, fmt.Errorf("postgres: %w", ErrMissingConnectionString)
		}
		log.Info("Initializing PostgreSQL state storage...")
		s, err := postgres.NewStore(ctx, log, connStr, maxConnsStr)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w: %w", ErrDBConnectionFailed, err)
		}
		return s, nil
	case types.SQLite:
		if connStr == "" {
			return nil, fmt.Errorf("sqlite: %w", ErrMissingConnectionString)
		}
		log.Info("Initializing SQLite state storage...")
		s, err := sqlite.NewStore(ctx, log, connStr)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w: %w", ErrDBConnectionFailed, err)
		}
		return s, nil
	case types.None, "":
		log.Warn("Persistent storage disabled, records are kept in memory only.")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("%w: %s (expected '%s', '%s' or '%s')",
			ErrUnsupportedDBType, dbType, types.Postgres, types.SQLite, types.None)
	}
}
