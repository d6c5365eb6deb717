package memory

import (
	"context"
	"sync"

	"txledger/internal/storage"
)

// store keeps state in process memory. Used when database persistence is
// disabled and in tests.
type store struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewStore creates an empty in-memory state storage.
func NewStore() storage.StateStorage {
	return &store{values: make(map[string][]byte)}
}

func (s *store) GetState(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, storage.ErrStateNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *store) SetState(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *store) DeleteState(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Close does nothing.
func (s *store) Close() error {
	return nil
}
