package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	redisclient "github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/redis"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type cacheUnderTest struct {
	provider providers.CacheProvider
	advance  func(time.Duration)
}

func newCaches(t *testing.T) map[string]cacheUnderTest {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	return map[string]cacheUnderTest{
		"redis": {
			provider: NewRedisAdapter(redisclient.NewFromClient(rdb)),
			advance:  mr.FastForward,
		},
		"memory": {
			provider: NewMemoryAdapter(clock.Now),
			advance:  clock.Advance,
		},
	}
}

func TestCacheProviders_GetSetDelete(t *testing.T) {
	for name, c := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := c.provider.Get(ctx, "missing")
			assert.ErrorIs(t, err, providers.ErrCacheMiss)

			require.NoError(t, c.provider.Set(ctx, "k", []byte("v"), 0))
			got, err := c.provider.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)

			exists, err := c.provider.Exists(ctx, "k")
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, c.provider.Delete(ctx, "k"))
			exists, err = c.provider.Exists(ctx, "k")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestCacheProviders_Expiry(t *testing.T) {
	for name, c := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, c.provider.Set(ctx, "short", []byte("v"), 10))
			require.NoError(t, c.provider.Set(ctx, "pinned", []byte("v"), 0))

			c.advance(11 * time.Second)

			_, err := c.provider.Get(ctx, "short")
			assert.ErrorIs(t, err, providers.ErrCacheMiss)
			_, err = c.provider.Get(ctx, "pinned")
			assert.NoError(t, err)

			require.NoError(t, c.provider.Expire(ctx, "pinned", 5))
			c.advance(6 * time.Second)
			_, err = c.provider.Get(ctx, "pinned")
			assert.ErrorIs(t, err, providers.ErrCacheMiss)
		})
	}
}

func TestCacheProviders_SetNXIsExclusive(t *testing.T) {
	for name, c := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var winners int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := c.provider.SetNX(ctx, "claim", []byte("1"), 30)
					if err == nil && ok {
						atomic.AddInt32(&winners, 1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), winners)

			c.advance(31 * time.Second)
			ok, err := c.provider.SetNX(ctx, "claim", []byte("1"), 30)
			require.NoError(t, err)
			assert.True(t, ok, "expired claim can be taken again")
		})
	}
}

func TestCacheProviders_ConditionalExpireAndDelete(t *testing.T) {
	for name, c := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := c.provider.SetNX(ctx, "claim", []byte("owner-a"), 10)
			require.NoError(t, err)
			require.True(t, ok)

			renewed, err := c.provider.ExpireIfValue(ctx, "claim", []byte("owner-b"), 60)
			require.NoError(t, err)
			assert.False(t, renewed, "foreign owner cannot renew")

			c.advance(8 * time.Second)
			renewed, err = c.provider.ExpireIfValue(ctx, "claim", []byte("owner-a"), 10)
			require.NoError(t, err)
			assert.True(t, renewed)

			c.advance(8 * time.Second)
			exists, err := c.provider.Exists(ctx, "claim")
			require.NoError(t, err)
			assert.True(t, exists, "renewed claim outlives its first deadline")

			deleted, err := c.provider.DeleteIfValue(ctx, "claim", []byte("owner-b"))
			require.NoError(t, err)
			assert.False(t, deleted)

			deleted, err = c.provider.DeleteIfValue(ctx, "claim", []byte("owner-a"))
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = c.provider.DeleteIfValue(ctx, "claim", []byte("owner-a"))
			require.NoError(t, err)
			assert.False(t, deleted, "missing key is not deleted")
		})
	}
}
