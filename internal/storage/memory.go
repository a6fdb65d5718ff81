package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"sunatflow/pkg/platform/sentinel"
)

// InMemory keeps blobs in a map. Development and tests only.
type InMemory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewInMemory() *InMemory {
	return &InMemory{blobs: make(map[string][]byte)}
}

func (s *InMemory) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := uuid.NewString()
	s.blobs[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (s *InMemory) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[ref]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}
