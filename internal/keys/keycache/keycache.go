// Package keycache layers a Redis kid cache over key resolution so hot
// signing paths skip the full component enumeration.
package keycache

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"sunatflow/internal/keys"
	platformredis "sunatflow/internal/platform/redis"
	id "sunatflow/pkg/domain"
)

const defaultTTL = 5 * time.Minute

// Resolver is the slice of the key manager the cache fronts.
type Resolver interface {
	ResolveActiveKey(ctx context.Context, project id.ProjectID, use keys.KeyUse, algorithm string) (*keys.ResolvedKey, error)
	Key(ctx context.Context, project id.ProjectID, kid string) (*keys.ResolvedKey, error)
}

// Cache memoizes the active kid per (project, use, algorithm). Only the kid is
// cached, never key material; the hit path still materializes the key from the
// component store so rotations and disables take effect within the TTL.
type Cache struct {
	inner  Resolver
	redis  *platformredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New builds the cache. A nil redis client disables caching and every call
// passes straight through, so callers need no conditional wiring.
func New(inner Resolver, redis *platformredis.Client, opts ...Option) *Cache {
	c := &Cache{
		inner:  inner,
		redis:  redis,
		ttl:    defaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) ResolveActiveKey(ctx context.Context, project id.ProjectID, use keys.KeyUse, algorithm string) (*keys.ResolvedKey, error) {
	if c.redis == nil {
		return c.inner.ResolveActiveKey(ctx, project, use, algorithm)
	}

	cacheKey := "keys:active:" + project.String() + ":" + string(use) + ":" + algorithm
	kid, err := c.redis.Get(ctx, cacheKey).Result()
	if err == nil && kid != "" {
		key, err := c.inner.Key(ctx, project, kid)
		if err == nil && key != nil && key.Status.Active() {
			return key, nil
		}
	} else if err != nil && err != goredis.Nil {
		c.logger.Warn("key cache read failed", "error", err)
	}

	key, err := c.inner.ResolveActiveKey(ctx, project, use, algorithm)
	if err != nil {
		return nil, err
	}
	if err := c.redis.Set(ctx, cacheKey, key.Kid, c.ttl).Err(); err != nil {
		c.logger.Warn("key cache write failed", "error", err)
	}
	return key, nil
}

func (c *Cache) Key(ctx context.Context, project id.ProjectID, kid string) (*keys.ResolvedKey, error) {
	return c.inner.Key(ctx, project, kid)
}
