package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RedisCacher stores JSON encoded values in Redis so several Blockgate
// instances share verified identities.
type RedisCacher[T any] struct {
	client *redis.Client
	prefix string
	group  singleflight.Group
}

// NewRedisCacher creates a Redis-backed cache. Keys are stored under prefix.
func NewRedisCacher[T any](client *redis.Client, prefix string) *RedisCacher[T] {
	return &RedisCacher[T]{client: client, prefix: prefix}
}

func (c *RedisCacher[T]) key(k string) string {
	return c.prefix + ":" + k
}

func (c *RedisCacher[T]) get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get error: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return out, true, nil
}

// GetOrFetch implements Cacher.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	if v, ok, err := c.get(ctx, key); err != nil {
		return zero, err
	} else if ok {
		return v, nil
	}

	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		fetched, err := fetchFn(ctx)
		if err != nil {
			return zero, err
		}
		data, err := json.Marshal(fetched)
		if err != nil {
			return zero, fmt.Errorf("failed to marshal result: %w", err)
		}
		if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
			return zero, fmt.Errorf("failed to cache result: %w", err)
		}
		return fetched, nil
	})
	if err != nil {
		return zero, err
	}
	return val.(T), nil
}

// Delete implements Cacher.
func (c *RedisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// ItemCount implements Cacher.
func (c *RedisCacher[T]) ItemCount(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+":*", 256).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan error: %w", err)
		}
		count += len(keys)
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}
