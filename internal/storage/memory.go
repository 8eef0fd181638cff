package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory. Used by tests and by
// deployments that do not need persistence.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get decodes the value stored at key
func (s *MemoryStore) Get(ctx context.Context, key Key, out any) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.RLock()
	data, ok := s.data[key.String()]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return decode(key, data, out)
}

// Set stores value at key
func (s *MemoryStore) Set(ctx context.Context, key Key, value any) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key.String()] = data
	s.mu.Unlock()
	return nil
}

// Delete removes key
func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.data, key.String())
	s.mu.Unlock()
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
