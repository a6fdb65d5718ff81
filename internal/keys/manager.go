package keys

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	id "sunatflow/pkg/domain"
)

// ComponentSource is the read side of the component store the manager
// enumerates. Declared here so the store package can depend on keys without a
// cycle.
type ComponentSource interface {
	ComponentAdder
	Components(ctx context.Context, parentID id.ProjectID, providerType string) ([]Component, error)
}

// Manager resolves a project's signing keys from its component records.
type Manager struct {
	components ComponentSource
	registry   *Registry
	logger     *slog.Logger
	metrics    *Metrics
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

func NewManager(components ComponentSource, registry *Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		components: components,
		registry:   registry,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ResolveActiveKey returns the highest-priority active key matching the given
// use and algorithm. When no configured component yields one, each registered
// factory is offered the chance to generate a fallback, and the enumeration is
// retried once. Returns ErrNoKeyAvailable when nothing can serve the request.
func (m *Manager) ResolveActiveKey(ctx context.Context, project id.ProjectID, use KeyUse, algorithm string) (*ResolvedKey, error) {
	key, err := m.findActive(ctx, project, use, algorithm)
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}

	created, err := m.createFallbacks(ctx, project, use, algorithm)
	if err != nil {
		return nil, err
	}
	if created {
		key, err = m.findActive(ctx, project, use, algorithm)
		if err != nil {
			return nil, err
		}
		if key != nil {
			if m.metrics != nil {
				m.metrics.FallbacksCreated.Inc()
			}
			return key, nil
		}
	}

	if m.metrics != nil {
		m.metrics.ResolutionMisses.Inc()
	}
	return nil, fmt.Errorf("%w: project %s use %s algorithm %s", ErrNoKeyAvailable, project, use, algorithm)
}

// Key returns the enabled key identified by kid, or nil when absent. Disabled
// components never surface keys, matching verification semantics.
func (m *Manager) Key(ctx context.Context, project id.ProjectID, kid string) (*ResolvedKey, error) {
	all, err := m.Keys(ctx, project)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Kid == kid {
			return &all[i], nil
		}
	}
	return nil, nil
}

// Keys materializes every enabled key of the project, ordered by provider
// priority descending. Components that fail to materialize are logged and
// skipped so one broken component cannot take down resolution for the rest.
func (m *Manager) Keys(ctx context.Context, project id.ProjectID) ([]ResolvedKey, error) {
	components, err := m.components.Components(ctx, project, ProviderTypeKeyProvider)
	if err != nil {
		return nil, fmt.Errorf("keys: enumerate components: %w", err)
	}
	sortComponents(components)

	var out []ResolvedKey
	for i := range components {
		c := &components[i]
		factory, ok := m.registry.Factory(c.ProviderID)
		if !ok {
			m.logger.Warn("skipping component with unknown provider",
				"component_id", c.ID, "provider_id", c.ProviderID)
			continue
		}
		provider, err := factory.Create(project, c)
		if err != nil {
			m.logger.Warn("skipping component that failed to materialize",
				"component_id", c.ID, "provider_id", c.ProviderID, "error", err)
			continue
		}
		for _, k := range provider.Keys() {
			if k.Status.Enabled() {
				out = append(out, k)
			}
		}
	}
	return out, nil
}

func (m *Manager) findActive(ctx context.Context, project id.ProjectID, use KeyUse, algorithm string) (*ResolvedKey, error) {
	all, err := m.Keys(ctx, project)
	if err != nil {
		return nil, err
	}
	for i := range all {
		k := &all[i]
		if k.Status.Active() && k.Use == use && k.Algorithm == algorithm {
			return k, nil
		}
	}
	return nil, nil
}

// createFallbacks asks each factory to generate a fallback component. A
// factory that already has a component for this project is skipped so
// concurrent or repeated misses stay idempotent.
func (m *Manager) createFallbacks(ctx context.Context, project id.ProjectID, use KeyUse, algorithm string) (bool, error) {
	components, err := m.components.Components(ctx, project, ProviderTypeKeyProvider)
	if err != nil {
		return false, fmt.Errorf("keys: enumerate components: %w", err)
	}
	existing := make(map[string]bool, len(components))
	for i := range components {
		existing[components[i].ProviderID] = true
	}

	created := false
	for _, factory := range m.registry.All() {
		if existing[factory.ID()] {
			continue
		}
		ok, err := factory.CreateFallback(ctx, project, use, algorithm)
		if err != nil {
			return created, fmt.Errorf("keys: fallback via %s: %w", factory.ID(), err)
		}
		if ok {
			m.logger.Info("generated fallback key component",
				"project_id", project, "provider_id", factory.ID(), "algorithm", algorithm)
			created = true
		}
	}
	return created, nil
}

// sortComponents orders by priority descending, then id ascending so equal
// priorities resolve deterministically.
func sortComponents(components []Component) {
	sort.SliceStable(components, func(i, j int) bool {
		pi, pj := components[i].Priority(), components[j].Priority()
		if pi != pj {
			return pi > pj
		}
		return components[i].ID.String() < components[j].ID.String()
	})
}
