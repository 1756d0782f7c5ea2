// Package storage provides the key-value store implementations backing
// conversation memory and session state.
package storage

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dialogforge/dialogforge/pkg/memory"
)

// MemStore is an in-process memory.Store with per-entry TTL. Entries
// refresh their TTL on every write, so active conversations stay resident
// while abandoned ones age out.
type MemStore struct {
	cache *gocache.Cache
	ttl   time.Duration
}

var _ memory.Store = (*MemStore)(nil)

// NewMemStore creates a TTL'd in-process store. A non-positive ttl keeps
// entries forever.
func NewMemStore(ttl time.Duration) *MemStore {
	if ttl <= 0 {
		return &MemStore{cache: gocache.New(gocache.NoExpiration, 0), ttl: gocache.NoExpiration}
	}
	return &MemStore{cache: gocache.New(ttl, 2*ttl), ttl: ttl}
}

// Get returns the value stored under key.
func (s *MemStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

// Set stores value under key, refreshing its TTL.
func (s *MemStore) Set(_ context.Context, key, value string) error {
	s.cache.Set(key, value, s.ttl)
	return nil
}

// Delete removes the entry for key.
func (s *MemStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}
