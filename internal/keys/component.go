package keys

import (
	"strconv"
	"time"

	id "sunatflow/pkg/domain"
)

// ProviderTypeKeyProvider is the providerType every signing-key component
// carries. The component table is generic; this value scopes enumeration.
const ProviderTypeKeyProvider = "key-provider"

// ComponentConfig is an ordered multimap of configuration values, mirroring
// how provider settings (priority, flags, PEM blobs) are stored.
type ComponentConfig map[string][]string

// First returns the first value for key, or "".
func (c ComponentConfig) First(key string) string {
	if vs, ok := c[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// PutSingle replaces key with a single value.
func (c ComponentConfig) PutSingle(key, value string) {
	c[key] = []string{value}
}

// Contains reports whether key has at least one value.
func (c ComponentConfig) Contains(key string) bool {
	vs, ok := c[key]
	return ok && len(vs) > 0
}

// Int returns the first value for key parsed as int, or fallback.
func (c ComponentConfig) Int(key string, fallback int) int {
	v := c.First(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Int64 returns the first value for key parsed as int64, or fallback.
func (c ComponentConfig) Int64(key string, fallback int64) int64 {
	v := c.First(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// Bool returns the first value for key parsed as bool, or fallback.
func (c ComponentConfig) Bool(key string, fallback bool) bool {
	v := c.First(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Component is a persisted key-provider instance description. It never holds
// key material in parsed form; providers materialize keys from Config.
type Component struct {
	ID           id.ComponentID
	ParentID     id.ProjectID
	Name         string
	ProviderID   string
	ProviderType string
	SubType      string
	Config       ComponentConfig
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Priority returns the configured selection priority (higher wins).
func (c *Component) Priority() int64 {
	return c.Config.Int64(AttrPriority, 0)
}

// Configuration attribute keys shared by all providers.
const (
	AttrPriority         = "priority"
	AttrEnabled          = "enabled"
	AttrActive           = "active"
	AttrAlgorithm        = "algorithm"
	AttrKeySize          = "keySize"
	AttrKeyUse           = "keyUse"
	AttrPrivateKey       = "privateKey"
	AttrCertificate      = "certificate"
	AttrKeystore         = "keystore"
	AttrKeystorePassword = "keystorePassword"
)
