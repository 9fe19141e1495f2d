package database

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/planwatch/planwatch-engine/pkg/config"
	"github.com/planwatch/planwatch-engine/pkg/retry"
)

// NewRedisClient connects to the registry lookup cache. It returns a nil
// client when no host is configured; callers then skip caching.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   "planwatch-engine",
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	// The cache is optional, so a Redis that is still booting gets only a
	// short grace period.
	if err := retry.Do(ctx, retry.LinearConfig(3, 500*time.Millisecond), func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", client.Options().Addr, err)
	}

	return client, nil
}
