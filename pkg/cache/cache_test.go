package cache_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"swapr-dapp/trades-service/pkg/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newRedisCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewRedisCacheWithClient(client, "trades:", testLogger())
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisCache_SetAndGet(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", sample{Name: "swapr", Count: 3}, time.Minute))
	assert.True(t, mr.Exists("trades:k1"))

	var got sample
	found, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sample{Name: "swapr", Count: 3}, got)
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := newRedisCache(t)

	var got sample
	found, err := c.Get(context.Background(), "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", sample{Name: "a"}, time.Second))
	mr.FastForward(2 * time.Second)

	var got sample
	found, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_DeleteAndPing(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Set(ctx, "k1", sample{Name: "a"}, 0))
	require.NoError(t, c.Delete(ctx, "k1"))

	var got sample
	found, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", sample{Name: "swapr", Count: 1}, 0))

	var got sample
	found, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "swapr", got.Name)

	require.NoError(t, c.Delete(ctx, "k1"))
	found, err = c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", sample{Name: "a"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var got sample
	found, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_RefreshSurvivesConcurrentExpiredReads(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		c := cache.NewMemoryCache()
		require.NoError(t, c.Set(ctx, "k1", sample{Name: "stale"}, time.Millisecond))
		time.Sleep(3 * time.Millisecond)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var got sample
				_, _ = c.Get(ctx, "k1", &got)
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Set(ctx, "k1", sample{Name: "fresh"}, time.Hour))
		}()
		wg.Wait()

		var got sample
		found, err := c.Get(ctx, "k1", &got)
		require.NoError(t, err)
		require.True(t, found, "round %d", round)
		assert.Equal(t, "fresh", got.Name)
	}
}

func TestMemoryCache_Closed(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Ping(ctx), cache.ErrClosed)
	assert.ErrorIs(t, c.Set(ctx, "k", sample{}, 0), cache.ErrClosed)

	var got sample
	_, err := c.Get(ctx, "k", &got)
	assert.ErrorIs(t, err, cache.ErrClosed)
}
