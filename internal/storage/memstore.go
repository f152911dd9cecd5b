package storage

import (
	"context"
	"sync"
)

// Compile-time interface check.
var _ KV = (*MemStore)(nil)

// MemStore is an in-memory [KV] implementation. It is the default when no
// durable store is configured and the backing store for tests.
type MemStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string][]byte)}
}

// Get implements [KV].
func (m *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set implements [KV].
func (m *MemStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.values[key] = v
	return nil
}

// Remove implements [KV].
func (m *MemStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
