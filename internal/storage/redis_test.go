package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisSessionStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisSessionStore(rdb, testKey, ttl)
	t.Cleanup(func() { store.Close() })
	return mr, store
}

func TestRedisSessionStore(t *testing.T) {
	ctx := context.Background()
	mr, store := newTestRedisStore(t, time.Hour)

	got, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Save(ctx, &StoredSession{ID: "sid-1", Tokens: testTokens()}))
	assert.Equal(t, time.Hour, mr.TTL("session:sid-1"))

	raw, err := mr.Get("session:sid-1")
	require.NoError(t, err)
	assert.NotContains(t, raw, "R1")

	got, err = store.Get(ctx, "sid-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "R1", got.Tokens.RefreshToken)
	assert.Equal(t, "jane@example.com", got.Tokens.User.Email)

	require.NoError(t, store.Delete(ctx, "sid-1"))
	got, err = store.Get(ctx, "sid-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisSessionStore_Expiry(t *testing.T) {
	ctx := context.Background()
	mr, store := newTestRedisStore(t, time.Minute)

	require.NoError(t, store.Save(ctx, &StoredSession{ID: "sid-1", Tokens: testTokens()}))
	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, "sid-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisSessionStore_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	_, store := newTestRedisStore(t, time.Hour)

	require.NoError(t, store.Save(ctx, &StoredSession{ID: "old", Tokens: testTokens()}))
	require.NoError(t, store.Save(ctx, &StoredSession{ID: "new", Tokens: testTokens()}))

	n, err := store.DeleteOlderThan(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.DeleteOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := store.Get(ctx, "new")
	require.NoError(t, err)
	assert.Nil(t, got)
}
