package store

import (
	"context"
	"sync"
	"time"

	"sunatflow/internal/document"
	id "sunatflow/pkg/domain"
	"sunatflow/pkg/platform/sentinel"
)

// InMemory is a map-backed DocumentStore for tests and development.
type InMemory struct {
	mu   sync.RWMutex
	docs map[id.DocumentID]document.Document
}

func NewInMemory() *InMemory {
	return &InMemory{docs: make(map[id.DocumentID]document.Document)}
}

func (s *InMemory) Create(ctx context.Context, doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; ok {
		return sentinel.ErrConflict
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.Version = 1
	s.docs[doc.ID] = clone(doc)
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, docID id.DocumentID) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[docID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := clone(&doc)
	return &out, nil
}

func (s *InMemory) UpdateVersioned(ctx context.Context, doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.docs[doc.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != doc.Version {
		return sentinel.ErrConflict
	}
	doc.Version++
	doc.UpdatedAt = time.Now()
	s.docs[doc.ID] = clone(doc)
	return nil
}

func clone(doc *document.Document) document.Document {
	out := *doc
	if doc.ScheduledDelivery != nil {
		t := *doc.ScheduledDelivery
		out.ScheduledDelivery = &t
	}
	if doc.Sunat.Code != nil {
		c := *doc.Sunat.Code
		out.Sunat.Code = &c
	}
	out.Sunat.Notes = append([]string(nil), doc.Sunat.Notes...)
	return out
}
