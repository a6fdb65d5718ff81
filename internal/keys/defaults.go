package keys

import (
	"context"
	"fmt"

	id "sunatflow/pkg/domain"
)

// DefaultPriority is assigned to the provisioned default key component.
const DefaultPriority = "100"

// EnsureDefaultProviders provisions the default generated key component for a
// new project. It is a no-op when the project already has any key-provider
// component, so provisioning can be re-run safely.
func EnsureDefaultProviders(ctx context.Context, components ComponentSource, registry *Registry, project id.ProjectID) error {
	existing, err := components.Components(ctx, project, ProviderTypeKeyProvider)
	if err != nil {
		return fmt.Errorf("keys: enumerate components: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	factory, ok := registry.Factory(ProviderIDGeneratedRsa)
	if !ok {
		return fmt.Errorf("keys: generated RSA factory not registered")
	}

	component := &Component{
		ID:           id.NewComponentID(),
		ParentID:     project,
		Name:         "rsa-generated",
		ProviderID:   ProviderIDGeneratedRsa,
		ProviderType: ProviderTypeKeyProvider,
		Config:       ComponentConfig{},
	}
	component.Config.PutSingle(AttrPriority, DefaultPriority)
	component.Config.PutSingle(AttrAlgorithm, AlgRS256)
	component.Config.PutSingle(AttrKeyUse, string(UseSig))

	if err := factory.ValidateConfiguration(project, component); err != nil {
		return err
	}
	if err := components.Add(ctx, component); err != nil {
		return fmt.Errorf("keys: persist default component: %w", err)
	}
	return nil
}
