// Package store persists key-provider components.
package store

import (
	"context"

	"sunatflow/internal/keys"
	id "sunatflow/pkg/domain"
)

// ComponentStore persists the generic component records that describe
// key-provider instances. Components are created by provisioning or fallback
// generation and updated by configuration changes; they are never deleted by
// the pipeline.
type ComponentStore interface {
	Components(ctx context.Context, parentID id.ProjectID, providerType string) ([]keys.Component, error)
	FindByID(ctx context.Context, componentID id.ComponentID) (*keys.Component, error)
	Add(ctx context.Context, component *keys.Component) error
	Update(ctx context.Context, component *keys.Component) error
}
