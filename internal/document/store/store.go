// Package store defines persistence for pipeline documents.
package store

import (
	"context"

	"sunatflow/internal/document"
	id "sunatflow/pkg/domain"
)

// DocumentStore persists pipeline documents. Implementations must make
// UpdateVersioned an atomic check-and-increment on Version so concurrent
// orchestrator replays cannot produce lost updates.
type DocumentStore interface {
	Create(ctx context.Context, doc *document.Document) error
	FindByID(ctx context.Context, docID id.DocumentID) (*document.Document, error)
	// UpdateVersioned writes doc only if the stored Version matches
	// doc.Version, incrementing it on success. Returns sentinel.ErrConflict
	// when the row moved underneath the caller and sentinel.ErrNotFound when
	// the document does not exist.
	UpdateVersioned(ctx context.Context, doc *document.Document) error
}
