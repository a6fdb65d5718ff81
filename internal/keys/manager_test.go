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
)

type ManagerSuite struct {
	suite.Suite

	ctx        context.Context
	components *store.InMemory
	manager    *keys.Manager
	project    id.ProjectID
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.components = store.NewInMemory()
	s.manager = keys.NewManager(s.components, keys.NewRegistry(
		keys.ImportedRsaFactory{},
		keys.NewGeneratedRsaFactory(s.components),
		keys.KeystoreFactory{},
	))
	s.project = id.NewProjectID()
}

// addImported persists an imported-PEM component with a fresh RSA key and
// returns it. Small keys keep the suite fast.
func (s *ManagerSuite) addImported(priority string, active, enabled bool) *keys.Component {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	s.Require().NoError(err)
	cert, err := keys.GenerateSelfSignedCertificate(key, "test")
	s.Require().NoError(err)

	c := &keys.Component{
		ID:           id.NewComponentID(),
		ParentID:     s.project,
		Name:         "imported",
		ProviderID:   keys.ProviderIDImportedRsa,
		ProviderType: keys.ProviderTypeKeyProvider,
		Config:       keys.ComponentConfig{},
	}
	c.Config.PutSingle(keys.AttrPriority, priority)
	c.Config.PutSingle(keys.AttrKeyUse, string(keys.UseSig))
	c.Config.PutSingle(keys.AttrAlgorithm, keys.AlgRS256)
	c.Config.PutSingle(keys.AttrPrivateKey, keys.EncodePrivateKeyPEM(key))
	c.Config.PutSingle(keys.AttrCertificate, keys.EncodeCertificatePEM(cert))
	if !active {
		c.Config.PutSingle(keys.AttrActive, "false")
	}
	if !enabled {
		c.Config.PutSingle(keys.AttrEnabled, "false")
	}
	s.Require().NoError(s.components.Add(s.ctx, c))
	return c
}

func kidOf(s *ManagerSuite, c *keys.Component) string {
	key, err := keys.DecodePrivateKeyPEM(c.Config.First(keys.AttrPrivateKey))
	s.Require().NoError(err)
	kid, err := keys.KeyID(key.Public())
	s.Require().NoError(err)
	return kid
}

func (s *ManagerSuite) TestResolveActiveKey() {
	s.Run("highest priority wins", func() {
		s.SetupTest()
		s.addImported("10", true, true)
		high := s.addImported("20", true, true)

		resolved, err := s.manager.ResolveActiveKey(s.ctx, s.project, keys.UseSig, keys.AlgRS256)
		s.Require().NoError(err)
		s.Equal(kidOf(s, high), resolved.Kid)
		s.Equal(int64(20), resolved.ProviderPriority)
	})

	s.Run("equal priority resolves by component id", func() {
		s.SetupTest()
		a := s.addImported("10", true, true)
		b := s.addImported("10", true, true)
		winner := a
		if b.ID.String() < a.ID.String() {
			winner = b
		}

		resolved, err := s.manager.ResolveActiveKey(s.ctx, s.project, keys.UseSig, keys.AlgRS256)
		s.Require().NoError(err)
		s.Equal(kidOf(s, winner), resolved.Kid)
	})

	s.Run("inactive keys are skipped", func() {
		s.SetupTest()
		s.addImported("50", false, true)
		low := s.addImported("1", true, true)

		resolved, err := s.manager.ResolveActiveKey(s.ctx, s.project, keys.UseSig, keys.AlgRS256)
		s.Require().NoError(err)
		s.Equal(kidOf(s, low), resolved.Kid)
	})

	s.Run("algorithm mismatch falls through to fallback", func() {
		s.SetupTest()
		s.addImported("50", true, true)

		resolved, err := s.manager.ResolveActiveKey(s.ctx, s.project, keys.UseSig, keys.AlgRS512)
		s.Require().NoError(err)
		s.Equal(keys.ProviderIDGeneratedRsa, resolved.ProviderID)
		s.Equal(keys.AlgRS512, resolved.Algorithm)
	})
}

func (s *ManagerSuite) TestFallbackGeneration() {
	s.Run("empty project generates a fallback", func() {
		s.SetupTest()

		resolved, err := s.manager.ResolveActiveKey(s.ctx, s.project, keys.UseSig, keys.AlgRS256)
		s.Require().NoError(err)
		s.Equal(keys.ProviderIDGeneratedRsa, resolved.ProviderID)
		s.Equal(int64(-100), resolved.ProviderPriority)
		s.NotNil(resolved.Certificate)
	})

	s.Run("repeated resolution reuses the fallback", func() {
		s.SetupTest()

		first, err := s.manager.ResolveActiveKey(s.ctx, s.project, keys.UseSig, keys.AlgRS256)
		s.Require().NoError(err)
		second, err := s.manager.ResolveActiveKey(s.ctx, s.project, keys.UseSig, keys.AlgRS256)
		s.Require().NoError(err)
		s.Equal(first.Kid, second.Kid)

		components, err := s.components.Components(s.ctx, s.project, keys.ProviderTypeKeyProvider)
		s.Require().NoError(err)
		s.Len(components, 1)
	})

	s.Run("unsupported algorithm yields no key", func() {
		s.SetupTest()

		_, err := s.manager.ResolveActiveKey(s.ctx, s.project, keys.UseSig, "ES256")
		s.Require().ErrorIs(err, keys.ErrNoKeyAvailable)
	})

	s.Run("encryption use yields no key", func() {
		s.SetupTest()

		_, err := s.manager.ResolveActiveKey(s.ctx, s.project, keys.UseEnc, keys.AlgRS256)
		s.Require().ErrorIs(err, keys.ErrNoKeyAvailable)
	})
}

func (s *ManagerSuite) TestKeys() {
	s.Run("disabled components never surface", func() {
		s.SetupTest()
		s.addImported("10", true, true)
		s.addImported("20", true, false)

		all, err := s.manager.Keys(s.ctx, s.project)
		s.Require().NoError(err)
		s.Len(all, 1)
	})

	s.Run("passive keys surface but are not active", func() {
		s.SetupTest()
		c := s.addImported("10", false, true)

		all, err := s.manager.Keys(s.ctx, s.project)
		s.Require().NoError(err)
		s.Require().Len(all, 1)
		s.Equal(keys.StatusPassive, all[0].Status)

		key, err := s.manager.Key(s.ctx, s.project, kidOf(s, c))
		s.Require().NoError(err)
		s.Require().NotNil(key)
	})

	s.Run("unknown kid returns nil", func() {
		s.SetupTest()
		s.addImported("10", true, true)

		key, err := s.manager.Key(s.ctx, s.project, "nope")
		s.Require().NoError(err)
		s.Nil(key)
	})
}

func (s *ManagerSuite) TestEnsureDefaultProviders() {
	registry := keys.NewRegistry(
		keys.ImportedRsaFactory{},
		keys.NewGeneratedRsaFactory(s.components),
	)

	s.Run("provisions one generated component", func() {
		s.Require().NoError(keys.EnsureDefaultProviders(s.ctx, s.components, registry, s.project))

		components, err := s.components.Components(s.ctx, s.project, keys.ProviderTypeKeyProvider)
		s.Require().NoError(err)
		s.Require().Len(components, 1)
		s.Equal(keys.ProviderIDGeneratedRsa, components[0].ProviderID)
		s.Equal(int64(100), components[0].Priority())
	})

	s.Run("is idempotent", func() {
		s.Require().NoError(keys.EnsureDefaultProviders(s.ctx, s.components, registry, s.project))

		components, err := s.components.Components(s.ctx, s.project, keys.ProviderTypeKeyProvider)
		s.Require().NoError(err)
		s.Len(components, 1)
	})
}
