package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	id "sunatflow/pkg/domain"
	dErrors "sunatflow/pkg/domain-errors"
)

// ComponentAdder is the slice of the component store a factory needs to
// persist fallback components. Declared here to keep the store dependency
// pointing one way.
type ComponentAdder interface {
	Add(ctx context.Context, component *Component) error
}

// ProviderIDGeneratedRsa identifies components whose key material this
// service generated itself (provisioning defaults and fallbacks).
const ProviderIDGeneratedRsa = "rsa-generated"

// FallbackPriority keeps auto-generated keys below any deliberately
// configured component.
const FallbackPriority = "-100"

const defaultKeySize = 2048

// GeneratedRsaFactory generates RSA keys and a self-signed certificate on
// first validation, storing them back into the component config so later
// resolutions reuse the same material.
type GeneratedRsaFactory struct {
	components ComponentAdder
}

// NewGeneratedRsaFactory wires the factory to the component store it uses to
// persist fallback components.
func NewGeneratedRsaFactory(components ComponentAdder) *GeneratedRsaFactory {
	return &GeneratedRsaFactory{components: components}
}

func (f *GeneratedRsaFactory) ID() string { return ProviderIDGeneratedRsa }

// Create materializes the stored key; generated components always hold their
// material after validation, so creation reads it like an import.
func (f *GeneratedRsaFactory) Create(project id.ProjectID, component *Component) (Provider, error) {
	key, err := DecodePrivateKeyPEM(component.Config.First(AttrPrivateKey))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "generated component holds invalid key material")
	}
	cert, err := DecodeCertificatePEM(component.Config.First(AttrCertificate))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "generated component holds invalid certificate material")
	}
	return newRsaProvider(component, key, cert)
}

// ValidateConfiguration generates the key pair when absent, or regenerates it
// when the configured size no longer matches the stored key.
func (f *GeneratedRsaFactory) ValidateConfiguration(project id.ProjectID, component *Component) error {
	size := component.Config.Int(AttrKeySize, defaultKeySize)

	if component.Config.Contains(AttrPrivateKey) && component.Config.Contains(AttrCertificate) {
		key, err := DecodePrivateKeyPEM(component.Config.First(AttrPrivateKey))
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, "invalid generated key material")
		}
		if key.N.BitLen() == size {
			return nil
		}
	}
	return f.generateInto(component, size)
}

func (f *GeneratedRsaFactory) generateInto(component *Component, size int) error {
	key, err := rsa.GenerateKey(rand.Reader, size)
	if err != nil {
		return fmt.Errorf("keys: generate RSA key: %w", err)
	}
	subject := component.Name
	if subject == "" {
		subject = component.ParentID.String()
	}
	cert, err := GenerateSelfSignedCertificate(key, subject)
	if err != nil {
		return err
	}
	component.Config.PutSingle(AttrPrivateKey, EncodePrivateKeyPEM(key))
	component.Config.PutSingle(AttrCertificate, EncodeCertificatePEM(cert))
	return nil
}

// CreateFallback persists a low-priority generated component for signature
// use. Only RSA signature algorithms are accepted; anything else reports
// false so other factories can try.
func (f *GeneratedRsaFactory) CreateFallback(ctx context.Context, project id.ProjectID, use KeyUse, algorithm string) (bool, error) {
	if use != UseSig || !SupportedRsaAlgorithm(algorithm) {
		return false, nil
	}

	component := &Component{
		ID:           id.NewComponentID(),
		ParentID:     project,
		Name:         "fallback-" + algorithm,
		ProviderID:   ProviderIDGeneratedRsa,
		ProviderType: ProviderTypeKeyProvider,
		Config:       ComponentConfig{},
	}
	component.Config.PutSingle(AttrPriority, FallbackPriority)
	component.Config.PutSingle(AttrAlgorithm, algorithm)
	component.Config.PutSingle(AttrKeyUse, string(use))

	if err := f.ValidateConfiguration(project, component); err != nil {
		return false, err
	}
	if err := f.components.Add(ctx, component); err != nil {
		return false, fmt.Errorf("keys: persist fallback component: %w", err)
	}
	return true, nil
}
