package cache

import (
	"context"
	"sync"

	"github.com/HanTheDev/phone-checker/internal/models"
)

// MemoryStore is a non-durable Store for single-shot runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]models.CacheEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.CacheEntry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *MemoryStore) Put(_ context.Context, e *models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key()] = *e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CacheEntry, 0, len(s.entries))
	for _, e := range s.entries {
		e := e
		out = append(out, &e)
	}
	return out, nil
}
