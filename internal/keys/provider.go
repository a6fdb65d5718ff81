package keys

import (
	"context"
	"errors"

	id "sunatflow/pkg/domain"
)

var (
	// ErrNoKeyAvailable is returned when no active key matches and no
	// fallback could be generated.
	ErrNoKeyAvailable = errors.New("keys: no key available")
	// ErrNotRSAKey is returned when a non-RSA key is used where RSA is required.
	ErrNotRSAKey = errors.New("keys: not an RSA key")
)

// Provider materializes keys from one component.
type Provider interface {
	Keys() []ResolvedKey
}

// Factory builds providers for one providerId and validates their
// configuration. CreateFallback may persist a new component when the factory
// can serve the requested use/algorithm on its own; factories that cannot
// (for example, imported-PEM) report false.
type Factory interface {
	ID() string
	Create(project id.ProjectID, component *Component) (Provider, error)
	ValidateConfiguration(project id.ProjectID, component *Component) error
	CreateFallback(ctx context.Context, project id.ProjectID, use KeyUse, algorithm string) (bool, error)
}

// Registry maps providerId to its factory, resolved once at startup.
type Registry struct {
	factories map[string]Factory
	order     []Factory
}

// NewRegistry indexes the given factories by ID. Registration order is
// preserved for fallback attempts.
func NewRegistry(factories ...Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory, len(factories))}
	for _, f := range factories {
		r.factories[f.ID()] = f
		r.order = append(r.order, f)
	}
	return r
}

// Factory returns the factory registered for providerID.
func (r *Registry) Factory(providerID string) (Factory, bool) {
	f, ok := r.factories[providerID]
	return f, ok
}

// All returns every registered factory in registration order.
func (r *Registry) All() []Factory {
	return r.order
}
