package storage

import (
	"context"
	"sync"

	"github.com/tidwall/btree"
)

// MemoryStore is a thread-safe, in-process store backed by an ordered B-tree.
// Nothing survives a restart; it exists for tests, benchmarks and embedders
// that only want the transactional layer.
type MemoryStore struct {
	mu     sync.RWMutex
	data   btree.Map[string, string]
	closed bool
}

// NewMemoryStore creates and returns a new, empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Read implements Store.
func (s *MemoryStore) Read(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, ErrClosed
	}
	value, found := s.data.Get(key)
	return value, found, nil
}

// Write implements Store.
func (s *MemoryStore) Write(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.data.Set(key, value)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.data.Delete(key)
	return nil
}

// Apply implements Batcher. The whole batch is applied under one lock.
func (s *MemoryStore) Apply(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for k, v := range b.Writes {
		s.data.Set(k, v)
	}
	for _, k := range b.Deletes {
		s.data.Delete(k)
	}
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Len()
}

// Keys returns all stored keys in ascending order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Keys()
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
