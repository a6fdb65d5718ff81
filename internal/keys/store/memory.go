package store

import (
	"context"
	"sync"
	"time"

	"sunatflow/internal/keys"
	id "sunatflow/pkg/domain"
	"sunatflow/pkg/platform/sentinel"
)

// InMemory is a map-backed ComponentStore for tests and development.
type InMemory struct {
	mu         sync.RWMutex
	components map[id.ComponentID]keys.Component
}

func NewInMemory() *InMemory {
	return &InMemory{components: make(map[id.ComponentID]keys.Component)}
}

func (s *InMemory) Components(ctx context.Context, parentID id.ProjectID, providerType string) ([]keys.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []keys.Component
	for _, c := range s.components {
		if c.ParentID == parentID && c.ProviderType == providerType {
			out = append(out, cloneComponent(c))
		}
	}
	return out, nil
}

func (s *InMemory) FindByID(ctx context.Context, componentID id.ComponentID) (*keys.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.components[componentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := cloneComponent(c)
	return &out, nil
}

func (s *InMemory) Add(ctx context.Context, component *keys.Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.components[component.ID]; ok {
		return sentinel.ErrConflict
	}
	now := time.Now()
	component.CreatedAt = now
	component.UpdatedAt = now
	s.components[component.ID] = cloneComponent(*component)
	return nil
}

func (s *InMemory) Update(ctx context.Context, component *keys.Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.components[component.ID]; !ok {
		return sentinel.ErrNotFound
	}
	component.UpdatedAt = time.Now()
	s.components[component.ID] = cloneComponent(*component)
	return nil
}

func cloneComponent(c keys.Component) keys.Component {
	out := c
	out.Config = make(keys.ComponentConfig, len(c.Config))
	for k, vs := range c.Config {
		out.Config[k] = append([]string(nil), vs...)
	}
	return out
}
