package reqcore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisCacheStorage_SetGetDeleteRoundTrip(t *testing.T) {
	client := newTestRedisClient(t)
	store := NewRedisCacheStorage(client, "test:cache:")
	ctx := context.Background()

	entry := &CacheEntry{Key: "k1", Value: &Response{StatusCode: 200, Data: "hello"}}
	require.NoError(t, store.Set(ctx, "k1", entry))

	got, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Value.Data)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, "k1")

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Delete(ctx, "k1"))
	_, ok, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, "k1")
}

func TestRedisCacheStorage_ExpiredEntryIsNotStored(t *testing.T) {
	client := newTestRedisClient(t)
	store := NewRedisCacheStorage(client, "test:cache:")
	ctx := context.Background()

	entry := &CacheEntry{Key: "k1", Value: &Response{StatusCode: 200}, ExpiresAt: now().Add(-time.Minute)}
	require.NoError(t, store.Set(ctx, "k1", entry))

	_, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheStorage_Ping(t *testing.T) {
	client := newTestRedisClient(t)
	store := NewRedisCacheStorage(client, "")
	require.NoError(t, store.Ping(context.Background()))
}

func TestRedisIdempotencyStorage_StoreAndLoad(t *testing.T) {
	client := newTestRedisClient(t)
	store := NewRedisIdempotencyStorage(client, "test:idem:", time.Minute)
	ctx := context.Background()

	result := &IdempotencyResult{Response: &Response{StatusCode: 201, Data: "created"}}
	require.NoError(t, store.Store(ctx, "key-1", result))

	loaded, ok, err := store.Load(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 201, loaded.Response.StatusCode)
	assert.Empty(t, loaded.ErrorMessage)
}

func TestRedisIdempotencyStorage_LoadMissingKey(t *testing.T) {
	client := newTestRedisClient(t)
	store := NewRedisIdempotencyStorage(client, "test:idem:", time.Minute)

	_, ok, err := store.Load(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisIdempotencyStorage_StoresErrorMessage(t *testing.T) {
	client := newTestRedisClient(t)
	store := NewRedisIdempotencyStorage(client, "test:idem:", time.Minute)
	ctx := context.Background()

	result := &IdempotencyResult{ErrorMessage: "downstream failed"}
	require.NoError(t, store.Store(ctx, "key-err", result))

	loaded, ok, err := store.Load(ctx, "key-err")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "downstream failed", loaded.ErrorMessage)
	assert.Nil(t, loaded.Response)
}
