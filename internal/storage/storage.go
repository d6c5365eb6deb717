package storage

import (
	"context"
	"errors"
)

// ErrStateNotFound is returned by GetState when the key has never been written.
var ErrStateNotFound = errors.New("state not found")

// StateStorage persists opaque values by key. The record store keeps one
// serialized snapshot per principal in it, plus small markers next to it.
type StateStorage interface {
	// GetState returns the value stored under key, or ErrStateNotFound.
	GetState(ctx context.Context, key string) ([]byte, error)
	// SetState saves or replaces the value stored under key.
	SetState(ctx context.Context, key string, value []byte) error
	// DeleteState removes key. Deleting a missing key is not an error.
	DeleteState(ctx context.Context, key string) error
	// Close closes any underlying resources (like database connections).
	Close() error
}
