package memory

import (
	"context"
	"sync"
)

// MapStore is a process-local Store over a plain map. Replay uses a fresh
// MapStore as scratch memory so reconstructing a dialog never touches live
// conversation state; tests use it as a fake.
type MapStore struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ Store = (*MapStore)(nil)

// NewMapStore creates an empty MapStore.
func NewMapStore() *MapStore {
	return &MapStore{data: make(map[string]string)}
}

// Get implements Store.
func (s *MapStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Set implements Store.
func (s *MapStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Delete implements Store.
func (s *MapStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
