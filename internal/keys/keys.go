// Package keys resolves the signing material used by the delivery pipeline.
//
// A tenant's signing keys are described by generic Component records; a chain
// of providers (imported PEM, generated RSA, PKCS#12 keystore) materializes
// usable keys from them. The manager picks the active key by priority and can
// generate a fallback key when a tenant has none configured.
package keys

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
)

// KeyUse distinguishes signature keys from encryption keys.
type KeyUse string

const (
	UseSig KeyUse = "sig"
	UseEnc KeyUse = "enc"
)

// KeyStatus is derived from the component's active/enabled flags.
type KeyStatus string

const (
	StatusActive   KeyStatus = "ACTIVE"
	StatusPassive  KeyStatus = "PASSIVE"
	StatusDisabled KeyStatus = "DISABLED"
)

// StatusFrom derives the key status from the component flags. An active key
// must also be enabled; an enabled but inactive key can still verify.
func StatusFrom(active, enabled bool) KeyStatus {
	if !enabled {
		return StatusDisabled
	}
	if active {
		return StatusActive
	}
	return StatusPassive
}

func (s KeyStatus) Active() bool  { return s == StatusActive }
func (s KeyStatus) Enabled() bool { return s != StatusDisabled }

// RSA signature algorithms accepted by the fallback generator.
const (
	AlgRS256 = "RS256"
	AlgRS384 = "RS384"
	AlgRS512 = "RS512"
	AlgPS256 = "PS256"
	AlgPS384 = "PS384"
	AlgPS512 = "PS512"
)

// SupportedRsaAlgorithm reports whether alg is one of the RSA signature
// algorithms a generated key can serve.
func SupportedRsaAlgorithm(alg string) bool {
	switch alg {
	case AlgRS256, AlgRS384, AlgRS512, AlgPS256, AlgPS384, AlgPS512:
		return true
	}
	return false
}

// ResolvedKey is the ephemeral, materialized form of a component's key. It is
// recomputed (or cached) per resolution call and owned by the caller.
type ResolvedKey struct {
	Kid              string
	Use              KeyUse
	Type             string
	Algorithm        string
	Status           KeyStatus
	ProviderID       string
	ProviderPriority int64

	PrivateKey  crypto.Signer
	PublicKey   crypto.PublicKey
	Certificate *x509.Certificate
}

// GetKeyPair implements the goxmldsig X509KeyStore interface so a resolved
// key can be handed straight to the XML signer.
func (k *ResolvedKey) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	rsaKey, ok := k.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, ErrNotRSAKey
	}
	var certDER []byte
	if k.Certificate != nil {
		certDER = k.Certificate.Raw
	}
	return rsaKey, certDER, nil
}
