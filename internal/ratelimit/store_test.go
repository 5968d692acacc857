package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSweep(t *testing.T) {
	clock := newFakeClock()
	store, err := NewMemoryStore(WithMemoryClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.Increment(ctx, "short", time.Second)
	require.NoError(t, err)
	_, _, err = store.Increment(ctx, "long", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreFullRefusesNewKeys(t *testing.T) {
	clock := newFakeClock()
	store, err := NewMemoryStore(WithMaxKeys(2), WithMemoryClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.Increment(ctx, "a", time.Minute)
	require.NoError(t, err)
	_, _, err = store.Increment(ctx, "b", time.Hour)
	require.NoError(t, err)

	_, _, err = store.Increment(ctx, "c", time.Minute)
	require.ErrorIs(t, err, ErrStoreFull)
	assert.Equal(t, 2, store.Len())

	// Existing keys keep counting while the store is full.
	count, _, err := store.Increment(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Once a window closes its slot is reclaimed.
	clock.Advance(time.Minute)
	count, _, err = store.Increment(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStoreKeyFloodCannotResetOpenWindow(t *testing.T) {
	clock := newFakeClock()
	l, _ := newMemoryLimiter(t, clock, WithMaxKeys(3))
	p := Profile{Name: ProfileSensitive, Window: time.Hour, Max: 5}
	ctx := context.Background()

	allowed := 0
	for round := 0; round < 3; round++ {
		for i := 0; i < 5; i++ {
			res, _ := l.Allow(ctx, "user:victim", p)
			if res.Allowed {
				allowed++
			}
		}
		for _, spoofed := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
			res, err := l.Allow(ctx, spoofed, p)
			if err != nil {
				require.ErrorIs(t, err, ErrStore)
				assert.False(t, res.Allowed)
			}
		}
		clock.Advance(time.Minute)
	}
	assert.Equal(t, 5, allowed)
}

func TestMemoryStoreReset(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	ctx := context.Background()

	_, _, _ = store.Increment(ctx, "k", time.Minute)
	_, _, _ = store.Increment(ctx, "k", time.Minute)
	require.NoError(t, store.Reset(ctx, "k"))

	count, _, err := store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStoreJanitorStops(t *testing.T) {
	clock := newFakeClock()
	store, err := NewMemoryStore(WithMemoryClock(clock.Now))
	require.NoError(t, err)

	_, _, _ = store.Increment(context.Background(), "k", time.Millisecond)
	clock.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	store.StartJanitor(ctx, 5*time.Millisecond)
	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, WithKeyPrefix("test:")), mr
}

func TestRedisStoreIncrementAndExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, resetAt, err := store.Increment(ctx, "standard:1.2.3.4", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
		assert.WithinDuration(t, time.Now().Add(time.Minute), resetAt, 2*time.Second)
	}

	assert.True(t, mr.Exists("test:standard:1.2.3.4"))
	assert.Equal(t, time.Minute, mr.TTL("test:standard:1.2.3.4"))

	mr.FastForward(time.Minute)
	count, _, err := store.Increment(ctx, "standard:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisStoreRepairsMissingTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	require.NoError(t, mr.Set("test:k", "7"))

	count, _, err := store.Increment(context.Background(), "k", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(8), count)
	assert.Equal(t, 30*time.Second, mr.TTL("test:k"))
}

func TestRedisStoreWithLimiter(t *testing.T) {
	store, _ := newRedisStore(t)
	l := New(store)
	p := Profile{Name: "sensitive", Window: time.Hour, Max: 2}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "user:u-1", p)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "user:u-1", p)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter(time.Now()), 3500)

	require.NoError(t, l.Reset(ctx, "user:u-1", p))
	res, err = l.Allow(ctx, "user:u-1", p)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	l := New(store)
	res, err := l.Allow(context.Background(), "k", Profile{Name: "p", Window: time.Minute, Max: 1})
	require.ErrorIs(t, err, ErrStore)
	assert.False(t, res.Allowed)
	assert.Error(t, store.Ping(context.Background()))
}
