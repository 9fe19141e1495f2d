package registry

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/planwatch/planwatch-engine/pkg/textutil"
)

// Cache remembers successful registry lookups by name.
type Cache interface {
	Get(ctx context.Context, name string) (kennitala string, ok bool, err error)
	Set(ctx context.Context, name, kennitala string) error
}

type noCache struct{}

func (noCache) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (noCache) Set(context.Context, string, string) error         { return nil }

// RedisCache stores lookups in Redis under a slug of the name, so
// differently cased or accented spellings share an entry.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache returns a Cache backed by client, or nil when client is nil.
func NewRedisCache(client *redis.Client, ttl time.Duration) Cache {
	if client == nil {
		return nil
	}
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(name string) string {
	return "registry:company:" + textutil.Slug(name)
}

func (c *RedisCache) Get(ctx context.Context, name string) (string, bool, error) {
	kt, err := c.client.Get(ctx, cacheKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return kt, true, nil
}

func (c *RedisCache) Set(ctx context.Context, name, kennitala string) error {
	return c.client.Set(ctx, cacheKey(name), kennitala, c.ttl).Err()
}
