package keys

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"

	"golang.org/x/crypto/pkcs12"

	id "sunatflow/pkg/domain"
	dErrors "sunatflow/pkg/domain-errors"
)

// ProviderIDKeystore identifies components backed by an uploaded PKCS#12
// keystore (the format most SUNAT certificate vendors hand out).
const ProviderIDKeystore = "java-keystore"

// KeystoreFactory builds providers from a base64-encoded PKCS#12 blob stored
// in the component configuration.
type KeystoreFactory struct{}

func (f KeystoreFactory) ID() string { return ProviderIDKeystore }

func (f KeystoreFactory) Create(project id.ProjectID, component *Component) (Provider, error) {
	key, cert, err := decodeKeystore(component)
	if err != nil {
		return nil, err
	}
	return newRsaProvider(component, key, cert)
}

func (f KeystoreFactory) ValidateConfiguration(project id.ProjectID, component *Component) error {
	if !component.Config.Contains(AttrKeystore) {
		return dErrors.New(dErrors.CodeValidation, "keystore is required")
	}
	_, _, err := decodeKeystore(component)
	return err
}

// CreateFallback always reports false: a keystore has to be uploaded.
func (f KeystoreFactory) CreateFallback(ctx context.Context, project id.ProjectID, use KeyUse, algorithm string) (bool, error) {
	return false, nil
}

func decodeKeystore(component *Component) (*rsa.PrivateKey, *x509.Certificate, error) {
	raw, err := base64.StdEncoding.DecodeString(component.Config.First(AttrKeystore))
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeValidation, "keystore is not valid base64")
	}
	key, cert, err := pkcs12.Decode(raw, component.Config.First(AttrKeystorePassword))
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeValidation, "keystore could not be decoded")
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "keystore does not hold an RSA key")
	}
	return rsaKey, cert, nil
}
