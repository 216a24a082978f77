package store

import (
	"context"
	"sync"
	"time"

	"github.com/tablevox/voicepipe/domain/model"
)

// MemoryStore is an in-memory ports.CacheStore. Entries vanish with the
// process; useful for tests and single-run deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*model.CacheEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*model.CacheEntry)}
}

func (s *MemoryStore) Load(_ context.Context) ([]*model.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.CacheEntry, 0, len(s.entries))
	for _, e := range s.entries {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, entry *model.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *entry
	s.entries[entry.Fingerprint] = &c
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, fingerprint string, usageCount int, lastUsedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[fingerprint]; ok {
		e.UsageCount = usageCount
		e.LastUsedAt = lastUsedAt
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
