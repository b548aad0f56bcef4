package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis, func()) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(client)

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return cache, mr, cleanup
}

func TestRedisGet_Success(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	require.NoError(t, mr.Set(cacheKey("order:o-1"), `{"id":"o-1"}`))

	got, err := cache.Get(context.Background(), "order:o-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"o-1"}`, string(got))
}

func TestRedisGet_CacheMiss(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t)
	defer cleanup()

	got, err := cache.Get(context.Background(), "order:missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, got)
}

func TestRedisSet_WithJitteredTTL(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	err := cache.Set(context.Background(), "settings:merchant", []byte(`{}`), 10*time.Minute)
	require.NoError(t, err)

	ttl := mr.TTL(cacheKey("settings:merchant"))
	assert.True(t, ttl >= 10*time.Minute, "TTL should be at least base TTL")
	assert.True(t, ttl <= 11*time.Minute, "TTL should be base + max jitter")
}

func TestRedisSet_ZeroTTLIsNotStored(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	require.NoError(t, cache.Set(context.Background(), "order:o-1", []byte(`{}`), 0))
	assert.False(t, mr.Exists(cacheKey("order:o-1")))
}

func TestRedisSet_Expires(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "order:o-1", []byte(`{}`), time.Minute))

	mr.FastForward(2 * time.Minute)

	_, err := cache.Get(ctx, "order:o-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisDelete(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	mr.Set(cacheKey("order:o-1"), "a")
	mr.Set(cacheKey("order:o-2"), "b")

	require.NoError(t, cache.Delete(context.Background(), "order:o-1", "order:o-2", "order:none"))
	assert.False(t, mr.Exists(cacheKey("order:o-1")))
	assert.False(t, mr.Exists(cacheKey("order:o-2")))
}

func TestRedisDeletePrefix(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	mr.Set(cacheKey("order:o-1"), "a")
	mr.Set(cacheKey("order:o-1:payments"), "b")
	mr.Set(cacheKey("order:o-2"), "c")

	require.NoError(t, cache.DeletePrefix(context.Background(), "order:o-1"))

	assert.False(t, mr.Exists(cacheKey("order:o-1")))
	assert.False(t, mr.Exists(cacheKey("order:o-1:payments")))
	assert.True(t, mr.Exists(cacheKey("order:o-2")))
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "heya:order:o-1", cacheKey("order:o-1"))
}
