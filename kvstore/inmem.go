package kvstore

import (
	"context"
	"sort"
	"sync"

	"github.com/contentsquare/counterd/config"
)

type inMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{
		entries: make(map[string]string),
	}
}

func (s *inMemoryStore) Name() string {
	return config.BackendInMemory
}

func (s *inMemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	if !ok {
		return "", ErrMissing
	}
	return v, nil
}

func (s *inMemoryStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.entries[key] = value
	s.mu.Unlock()
	return nil
}

func (s *inMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return ErrMissing
	}
	delete(s.entries, key)
	return nil
}

func (s *inMemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func (s *inMemoryStore) Close() error {
	return nil
}
