package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRedisCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := New(NewRedisBackend(client), Config{SweepInterval: time.Hour}, zaptest.NewLogger(t))
	t.Cleanup(c.Close)
	return c, mr
}

func TestRedisBackendRoundTrip(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	key, err := GenerateKey("openai", "prompt")
	require.NoError(t, err)
	c.Set(ctx, &Entry{Key: key, Provider: "openai", Response: []byte("answer"), TTL: time.Minute})

	entry, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []byte("answer"), entry.Response)
	assert.Equal(t, "openai", entry.Provider)
}

func TestRedisBackendNativeExpiry(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	c.Set(ctx, &Entry{Key: "openai:k", Provider: "openai", Response: []byte("x"), TTL: time.Second})

	mr.FastForward(2 * time.Second)

	_, ok := c.Get(ctx, "openai:k")
	assert.False(t, ok)
}

func TestRedisBackendCountsHitsAndKeepsExpiry(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	c.Set(ctx, &Entry{Key: "openai:k", Provider: "openai", Response: []byte("x"), TTL: time.Minute})

	entry, ok := c.Get(ctx, "openai:k")
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.Hits)

	entry, ok = c.Get(ctx, "openai:k")
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.Hits)

	// The hit-count rewrite must not reset the entry's expiry.
	mr.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, "openai:k")
	assert.False(t, ok)
}

func TestRedisBackendInvalidateProvider(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	c.Set(ctx, &Entry{Key: "openai:1", Provider: "openai", Response: []byte("a"), TTL: time.Minute})
	c.Set(ctx, &Entry{Key: "openai:2", Provider: "openai", Response: []byte("b"), TTL: time.Minute})
	c.Set(ctx, &Entry{Key: "groq:1", Provider: "groq", Response: []byte("c"), TTL: time.Minute})

	removed := c.InvalidateProvider(ctx, "openai")
	assert.Equal(t, 2, removed)

	_, ok := c.Get(ctx, "groq:1")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Stats(ctx).Entries)
}

func TestRedisBackendClear(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	c.Set(ctx, &Entry{Key: "openai:1", Provider: "openai", Response: []byte("a"), TTL: time.Minute})
	c.Set(ctx, &Entry{Key: "groq:1", Provider: "groq", Response: []byte("b"), TTL: time.Minute})
	c.Clear(ctx)

	assert.Equal(t, 0, c.Stats(ctx).Entries)
}
