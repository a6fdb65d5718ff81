package keys

import (
	"context"
	"crypto/rsa"
	"crypto/x509"

	id "sunatflow/pkg/domain"
	dErrors "sunatflow/pkg/domain-errors"
)

// ProviderIDImportedRsa identifies components holding administrator-imported
// PEM key material.
const ProviderIDImportedRsa = "rsa"

// rsaProvider serves a single RSA key materialized from one component.
type rsaProvider struct {
	key ResolvedKey
}

func (p *rsaProvider) Keys() []ResolvedKey { return []ResolvedKey{p.key} }

// newRsaProvider assembles the resolved key common to every RSA-backed
// provider: kid from the public key, status from the component flags.
func newRsaProvider(component *Component, key *rsa.PrivateKey, cert *x509.Certificate) (*rsaProvider, error) {
	kid, err := KeyID(key.Public())
	if err != nil {
		return nil, err
	}
	return &rsaProvider{key: ResolvedKey{
		Kid:              kid,
		Use:              KeyUse(component.Config.First(AttrKeyUse)),
		Type:             "RSA",
		Algorithm:        algorithmOf(component),
		Status:           StatusFrom(component.Config.Bool(AttrActive, true), component.Config.Bool(AttrEnabled, true)),
		ProviderID:       component.ProviderID,
		ProviderPriority: component.Priority(),
		PrivateKey:       key,
		PublicKey:        key.Public(),
		Certificate:      cert,
	}}, nil
}

func algorithmOf(component *Component) string {
	if alg := component.Config.First(AttrAlgorithm); alg != "" {
		return alg
	}
	return AlgRS256
}

// ImportedRsaFactory builds providers from PEM material pasted into the
// component configuration.
type ImportedRsaFactory struct{}

func (f ImportedRsaFactory) ID() string { return ProviderIDImportedRsa }

func (f ImportedRsaFactory) Create(project id.ProjectID, component *Component) (Provider, error) {
	key, err := DecodePrivateKeyPEM(component.Config.First(AttrPrivateKey))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "component holds invalid private key material")
	}
	cert, err := DecodeCertificatePEM(component.Config.First(AttrCertificate))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "component holds invalid certificate material")
	}
	return newRsaProvider(component, key, cert)
}

// ValidateConfiguration rejects malformed or mismatched PEM material before
// the component is persisted; a broken imported key must never resolve.
func (f ImportedRsaFactory) ValidateConfiguration(project id.ProjectID, component *Component) error {
	if !component.Config.Contains(AttrPrivateKey) {
		return dErrors.New(dErrors.CodeValidation, "private key is required")
	}
	if !component.Config.Contains(AttrCertificate) {
		return dErrors.New(dErrors.CodeValidation, "certificate is required")
	}
	key, err := DecodePrivateKeyPEM(component.Config.First(AttrPrivateKey))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid private key material")
	}
	cert, err := DecodeCertificatePEM(component.Config.First(AttrCertificate))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid certificate material")
	}
	certKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || certKey.N.Cmp(key.N) != 0 {
		return dErrors.New(dErrors.CodeValidation, "certificate does not match the private key")
	}
	return nil
}

// CreateFallback always reports false: imported material cannot be invented.
func (f ImportedRsaFactory) CreateFallback(ctx context.Context, project id.ProjectID, use KeyUse, algorithm string) (bool, error) {
	return false, nil
}
