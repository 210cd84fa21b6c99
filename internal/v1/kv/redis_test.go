package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	store, err := New(mr.Addr(), "")
	require.NoError(t, err)

	return store, mr
}

func TestNew(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()
	defer func() { _ = store.Close() }()

	assert.NotNil(t, store.Client())
	err := store.Ping(context.Background())
	assert.NoError(t, err)
}

func TestNew_Unreachable(t *testing.T) {
	_, err := New("localhost:1", "")
	assert.Error(t, err)
}

func TestGetSet(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	err := store.Set(ctx, "room:ABC123", `{"roomId":"ABC123"}`, time.Hour)
	require.NoError(t, err)

	val, err := store.Get(ctx, "room:ABC123")
	assert.NoError(t, err)
	assert.Equal(t, `{"roomId":"ABC123"}`, val)

	// Miss is a typed error, not a breaker failure
	_, err = store.Get(ctx, "room:MISSIN")
	assert.ErrorIs(t, err, ErrNotFound)

	// TTL applied
	mr.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, "room:ABC123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteExists(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k1", "v1", 0))

	ok, err := store.Exists(ctx, "k1")
	assert.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "k1"))

	ok, err = store.Exists(ctx, "k1")
	assert.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is fine
	assert.NoError(t, store.Delete(ctx, "k1"))
}

func TestListOperations(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	key := "chat:ABC123"

	// Left-push builds newest-first order
	require.NoError(t, store.PushLeft(ctx, key, "m1"))
	require.NoError(t, store.PushLeft(ctx, key, "m2"))
	require.NoError(t, store.PushLeft(ctx, key, "m3"))

	items, err := store.Range(ctx, key, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2", "m1"}, items)

	// Rewrite in place
	require.NoError(t, store.SetAt(ctx, key, 1, "m2-edited"))
	items, err = store.Range(ctx, key, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2-edited", "m1"}, items)

	// Trim keeps the newest window
	require.NoError(t, store.Trim(ctx, key, 0, 1))
	items, err = store.Range(ctx, key, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2-edited"}, items)
}

func TestSetOperations(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	key := "active-rooms"

	require.NoError(t, store.SetAdd(ctx, key, "ABC123"))
	require.NoError(t, store.SetAdd(ctx, key, "DEF456"))

	members, err := store.SetMembers(ctx, key)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"ABC123", "DEF456"}, members)

	require.NoError(t, store.SetRemove(ctx, key, "ABC123"))

	members, err = store.SetMembers(ctx, key)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"DEF456"}, members)
}

func TestScanPrefix(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "user_socket:u1", "c1", 0))
	require.NoError(t, store.Set(ctx, "user_socket:u2", "c2", 0))
	require.NoError(t, store.Set(ctx, "room:ABC123", "{}", 0))

	keys, err := store.ScanPrefix(ctx, "user_socket:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user_socket:u1", "user_socket:u2"}, keys)
}

func TestMultiGet(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1", 0))
	require.NoError(t, store.Set(ctx, "c", "3", 0))

	vals, err := store.MultiGet(ctx, "a", "b", "c")
	require.NoError(t, err)
	require.Len(t, vals, 3)
	require.NotNil(t, vals[0])
	assert.Equal(t, "1", *vals[0])
	assert.Nil(t, vals[1])
	require.NotNil(t, vals[2])
	assert.Equal(t, "3", *vals[2])

	vals, err = store.MultiGet(ctx)
	assert.NoError(t, err)
	assert.Nil(t, vals)
}

func TestExpire(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, store.Expire(ctx, "k", time.Hour))

	mr.FastForward(30 * time.Minute)
	_, err := store.Get(ctx, "k")
	assert.NoError(t, err, "refreshed TTL should keep the key alive")
}

func TestStoreFailure(t *testing.T) {
	store, mr := newTestStore(t)

	// Kill redis
	mr.Close()

	ctx := context.Background()

	err := store.Ping(ctx)
	assert.Error(t, err)

	_, err = store.Get(ctx, "k")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestCircuitBreakerOpens(t *testing.T) {
	store, mr := newTestStore(t)
	defer func() { _ = store.Close() }()

	mr.Close()

	ctx := context.Background()

	// Default gobreaker trips after more than five consecutive failures
	for i := 0; i < 10; i++ {
		_ = store.Set(ctx, "k", "v", 0)
	}

	err := store.Set(ctx, "k", "v", 0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMissDoesNotTripBreaker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store := newWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	}

	// Store still reachable after a pile of misses
	assert.NoError(t, store.Ping(ctx))
}
