// Package cache provides read-through caches with stampede protection, used
// to reuse verified player identities across quick reconnects.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/energizer-project/blockgate/internal/config"
)

// FetchFunc loads a value on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher is a typed read-through cache. Concurrent misses for one key share
// a single fetch.
type Cacher[T any] interface {
	// GetOrFetch returns the cached value for key, calling fetchFn and
	// storing its result for ttl on a miss. Fetch errors are not cached.
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error)

	// Delete removes a key from the cache.
	Delete(ctx context.Context, key string) error

	// ItemCount returns the number of cached items.
	ItemCount(ctx context.Context) (int, error)
}

// New builds the backend selected in cfg. The returned close function
// releases backend connections.
func New[T any](ctx context.Context, cfg config.CacheConfig, prefix string) (Cacher[T], func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryCacher[T](time.Minute, 5*time.Minute), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisCacher[T](client, prefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
