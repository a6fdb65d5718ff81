package keys_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/suite"

	"sunatflow/internal/keys"
	"sunatflow/internal/keys/store"
	id "sunatflow/pkg/domain"
	dErrors "sunatflow/pkg/domain-errors"
)

type FactoriesSuite struct {
	suite.Suite

	project id.ProjectID
}

func TestFactoriesSuite(t *testing.T) {
	suite.Run(t, new(FactoriesSuite))
}

func (s *FactoriesSuite) SetupTest() {
	s.project = id.NewProjectID()
}

func (s *FactoriesSuite) newComponent(providerID string) *keys.Component {
	return &keys.Component{
		ID:           id.NewComponentID(),
		ParentID:     s.project,
		Name:         "test",
		ProviderID:   providerID,
		ProviderType: keys.ProviderTypeKeyProvider,
		Config:       keys.ComponentConfig{},
	}
}

func (s *FactoriesSuite) TestImportedValidation() {
	factory := keys.ImportedRsaFactory{}

	s.Run("missing private key", func() {
		c := s.newComponent(keys.ProviderIDImportedRsa)
		err := factory.ValidateConfiguration(s.project, c)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("malformed PEM", func() {
		c := s.newComponent(keys.ProviderIDImportedRsa)
		c.Config.PutSingle(keys.AttrPrivateKey, "not a pem block")
		c.Config.PutSingle(keys.AttrCertificate, "not a pem block")
		err := factory.ValidateConfiguration(s.project, c)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("certificate from another key is rejected", func() {
		key, err := rsa.GenerateKey(rand.Reader, 1024)
		s.Require().NoError(err)
		other, err := rsa.GenerateKey(rand.Reader, 1024)
		s.Require().NoError(err)
		cert, err := keys.GenerateSelfSignedCertificate(other, "other")
		s.Require().NoError(err)

		c := s.newComponent(keys.ProviderIDImportedRsa)
		c.Config.PutSingle(keys.AttrPrivateKey, keys.EncodePrivateKeyPEM(key))
		c.Config.PutSingle(keys.AttrCertificate, keys.EncodeCertificatePEM(cert))
		s.Require().Error(factory.ValidateConfiguration(s.project, c))
	})

	s.Run("matching material passes", func() {
		key, err := rsa.GenerateKey(rand.Reader, 1024)
		s.Require().NoError(err)
		cert, err := keys.GenerateSelfSignedCertificate(key, "match")
		s.Require().NoError(err)

		c := s.newComponent(keys.ProviderIDImportedRsa)
		c.Config.PutSingle(keys.AttrPrivateKey, keys.EncodePrivateKeyPEM(key))
		c.Config.PutSingle(keys.AttrCertificate, keys.EncodeCertificatePEM(cert))
		s.Require().NoError(factory.ValidateConfiguration(s.project, c))
	})
}

func (s *FactoriesSuite) TestGeneratedValidation() {
	components := store.NewInMemory()
	factory := keys.NewGeneratedRsaFactory(components)

	s.Run("generates material on first validation", func() {
		c := s.newComponent(keys.ProviderIDGeneratedRsa)
		c.Config.PutSingle(keys.AttrKeySize, "1024")
		s.Require().NoError(factory.ValidateConfiguration(s.project, c))
		s.True(c.Config.Contains(keys.AttrPrivateKey))
		s.True(c.Config.Contains(keys.AttrCertificate))
	})

	s.Run("keeps material when size unchanged", func() {
		c := s.newComponent(keys.ProviderIDGeneratedRsa)
		c.Config.PutSingle(keys.AttrKeySize, "1024")
		s.Require().NoError(factory.ValidateConfiguration(s.project, c))
		before := c.Config.First(keys.AttrPrivateKey)
		s.Require().NoError(factory.ValidateConfiguration(s.project, c))
		s.Equal(before, c.Config.First(keys.AttrPrivateKey))
	})

	s.Run("regenerates when size changes", func() {
		c := s.newComponent(keys.ProviderIDGeneratedRsa)
		c.Config.PutSingle(keys.AttrKeySize, "1024")
		s.Require().NoError(factory.ValidateConfiguration(s.project, c))
		before := c.Config.First(keys.AttrPrivateKey)

		c.Config.PutSingle(keys.AttrKeySize, "2048")
		s.Require().NoError(factory.ValidateConfiguration(s.project, c))
		s.NotEqual(before, c.Config.First(keys.AttrPrivateKey))

		key, err := keys.DecodePrivateKeyPEM(c.Config.First(keys.AttrPrivateKey))
		s.Require().NoError(err)
		s.Equal(2048, key.N.BitLen())
	})

	s.Run("fallback refuses encryption use", func() {
		ok, err := factory.CreateFallback(context.Background(), s.project, keys.UseEnc, keys.AlgRS256)
		s.Require().NoError(err)
		s.False(ok)
	})
}

func (s *FactoriesSuite) TestStatusFrom() {
	s.Equal(keys.StatusActive, keys.StatusFrom(true, true))
	s.Equal(keys.StatusPassive, keys.StatusFrom(false, true))
	s.Equal(keys.StatusDisabled, keys.StatusFrom(true, false))
	s.Equal(keys.StatusDisabled, keys.StatusFrom(false, false))
}

func (s *FactoriesSuite) TestSupportedRsaAlgorithm() {
	for _, alg := range []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"} {
		s.True(keys.SupportedRsaAlgorithm(alg), alg)
	}
	s.False(keys.SupportedRsaAlgorithm("ES256"))
	s.False(keys.SupportedRsaAlgorithm(""))
}
