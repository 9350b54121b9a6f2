package store

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store for devices without persistent storage and
// for tests.
type MemStore struct {
	mu      sync.RWMutex
	models  map[string]ModelRecord
	schemes map[string]SchemeRecord
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		models:  make(map[string]ModelRecord),
		schemes: make(map[string]SchemeRecord),
	}
}

func (s *MemStore) PutModel(_ context.Context, m ModelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ID] = m
	return nil
}

func (s *MemStore) GetModel(_ context.Context, id string) (ModelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return ModelRecord{}, fmt.Errorf("model %q: %w", id, ErrNotFound)
	}
	return m, nil
}

func (s *MemStore) ListModels(context.Context) ([]ModelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ModelRecord, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemStore) DeleteModel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.models, id)
	return nil
}

func (s *MemStore) PutScheme(_ context.Context, rec SchemeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemes[rec.ID] = rec
	return nil
}

func (s *MemStore) GetScheme(_ context.Context, id string) (SchemeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.schemes[id]
	if !ok {
		return SchemeRecord{}, fmt.Errorf("scheme %q: %w", id, ErrNotFound)
	}
	return rec, nil
}

func (s *MemStore) ListSchemes(context.Context) ([]SchemeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SchemeRecord, 0, len(s.schemes))
	for _, rec := range s.schemes {
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemStore) DeleteScheme(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schemes, id)
	return nil
}

func (s *MemStore) Ping(context.Context) error { return nil }

func (s *MemStore) Close() error { return nil }
