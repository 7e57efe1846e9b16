package cache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryCacher keeps values in process memory.
type MemoryCacher[T any] struct {
	cache *gocache.Cache
	group singleflight.Group
}

// NewMemoryCacher creates an in-memory cache. Expired items are purged every
// cleanupInterval.
func NewMemoryCacher[T any](defaultExpiration, cleanupInterval time.Duration) *MemoryCacher[T] {
	return &MemoryCacher[T]{
		cache: gocache.New(defaultExpiration, cleanupInterval),
	}
}

func (c *MemoryCacher[T]) lookup(key string) (T, bool) {
	var zero T
	val, found := c.cache.Get(key)
	if !found {
		return zero, false
	}
	typed, ok := val.(T)
	return typed, ok
}

// GetOrFetch implements Cacher.
func (c *MemoryCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another caller may have filled the key while we waited.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		fetched, err := fetchFn(ctx)
		if err != nil {
			return zero, err
		}
		c.cache.Set(key, fetched, ttl)
		return fetched, nil
	})
	if err != nil {
		return zero, err
	}

	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected type in cache for key %s", key)
	}
	return typed, nil
}

// Delete implements Cacher.
func (c *MemoryCacher[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.cache.Delete(key)
	return nil
}

// ItemCount implements Cacher.
func (c *MemoryCacher[T]) ItemCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.cache.ItemCount(), nil
}
