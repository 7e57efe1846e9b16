package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/blockgate/internal/config"
)

func TestMemoryCacher_GetOrFetch(t *testing.T) {
	c := NewMemoryCacher[string](time.Minute, time.Minute)
	ctx := context.Background()

	fetches := 0
	fetch := func(ctx context.Context) (string, error) {
		fetches++
		return "value", nil
	}

	v, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = c.GetOrFetch(ctx, "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, fetches)

	n, err := c.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.GetOrFetch(ctx, "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestMemoryCacher_ErrorsNotCached(t *testing.T) {
	c := NewMemoryCacher[int](time.Minute, time.Minute)
	ctx := context.Background()

	_, err := c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (int, error) {
		return 0, errors.New("unavailable")
	})
	assert.Error(t, err)

	v, err := c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestMemoryCacher_SingleFlight(t *testing.T) {
	c := NewMemoryCacher[int](time.Minute, time.Minute)
	ctx := context.Background()

	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		fetches.Add(1)
		<-release
		return 1, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
			assert.NoError(t, err)
			assert.Equal(t, 1, v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load())
}

func TestMemoryCacher_CancelledContext(t *testing.T) {
	c := NewMemoryCacher[int](time.Minute, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, c.Delete(ctx, "k"))
	_, err := c.ItemCount(ctx)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	c, closeFn, err := New[string](context.Background(), config.CacheConfig{Backend: "memory"}, "test")
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.NoError(t, closeFn())

	_, _, err = New[string](context.Background(), config.CacheConfig{Backend: "memcached"}, "test")
	assert.Error(t, err)
}
