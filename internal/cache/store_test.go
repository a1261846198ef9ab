package cache

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/dashsync/internal/config"
	"github.com/l0p7/dashsync/internal/redisclient"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func entryFor(clock *fakeClock, value string, ttl time.Duration) Entry {
	now := clock.Now()
	return Entry{Value: json.RawMessage(value), StoredAt: now, ExpiresAt: now.Add(ttl)}
}

func TestMemoryStoreLookupAndLazyExpiry(t *testing.T) {
	clock := newFakeClock()
	store := NewMemory(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "contact:stats", entryFor(clock, `{"total":3}`, time.Minute)))

	got, ok, err := store.Lookup(ctx, "contact:stats")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"total":3}`, string(got.Value))

	clock.Advance(time.Minute)
	_, ok, err = store.Lookup(ctx, "contact:stats")
	require.NoError(t, err)
	require.True(t, ok, "entry is valid while now == expiresAt")

	clock.Advance(time.Nanosecond)
	size, err := store.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, size, "expired entries linger until looked up")

	_, ok, err = store.Lookup(ctx, "contact:stats")
	require.NoError(t, err)
	require.False(t, ok)

	size, err = store.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	clock := newFakeClock()
	store := NewMemory(clock.Now)
	ctx := context.Background()

	entry := entryFor(clock, `[1,2]`, time.Minute)
	require.NoError(t, store.Store(ctx, "k", entry))
	entry.Value[1] = '9'

	got, _, err := store.Lookup(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, `[1,2]`, string(got.Value))
	got.Value[1] = '8'

	again, _, err := store.Lookup(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, `[1,2]`, string(again.Value))
}

func TestMemoryStoreRequiresExpiry(t *testing.T) {
	store := NewMemory(nil)
	require.Error(t, store.Store(context.Background(), "k", Entry{Value: json.RawMessage(`1`)}))
}

func TestMemoryStoreDeleteMatching(t *testing.T) {
	clock := newFakeClock()
	store := NewMemory(clock.Now)
	ctx := context.Background()
	for _, key := range []string{"contact:list:all", "contact:list:sales", "contact:stats", "admin:stats"} {
		require.NoError(t, store.Store(ctx, key, entryFor(clock, `1`, time.Minute)))
	}

	require.NoError(t, store.DeleteMatching(ctx, regexp.MustCompile(`^contact:list:`)))
	require.NoError(t, store.DeleteMatching(ctx, nil))

	for key, want := range map[string]bool{
		"contact:list:all":   false,
		"contact:list:sales": false,
		"contact:stats":      true,
		"admin:stats":        true,
	} {
		_, ok, err := store.Lookup(ctx, key)
		require.NoError(t, err)
		require.Equal(t, want, ok, key)
	}

	require.NoError(t, store.Delete(ctx, "admin:stats"))
	require.NoError(t, store.Delete(ctx, "absent"))
	require.NoError(t, store.Clear(ctx))
	size, err := store.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)
	require.NoError(t, store.Close(ctx))
}

func newRedisStore(t *testing.T, clock *fakeClock) (*miniredis.Miniredis, Store) {
	t.Helper()
	server := miniredis.RunT(t)
	client, err := redisclient.New(config.RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	store, err := NewRedis(client, "dashsync:cache:", now)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return server, store
}

func TestRedisStoreLookupAndExpiry(t *testing.T) {
	server, store := newRedisStore(t, nil)
	ctx := context.Background()

	now := time.Now()
	entry := Entry{Value: json.RawMessage(`{"total":9}`), StoredAt: now, ExpiresAt: now.Add(500 * time.Millisecond)}
	require.NoError(t, store.Store(ctx, "contact:stats", entry))
	require.True(t, server.Exists("dashsync:cache:contact:stats"))

	got, ok, err := store.Lookup(ctx, "contact:stats")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"total":9}`, string(got.Value))

	server.FastForward(time.Second)
	_, ok, err = store.Lookup(ctx, "contact:stats")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreHonorsInjectedClock(t *testing.T) {
	clock := newFakeClock()
	_, store := newRedisStore(t, clock)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "k", entryFor(clock, `1`, time.Minute)))
	clock.Advance(2 * time.Minute)

	_, ok, err := store.Lookup(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	size, err := store.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size, "expired entry purged on lookup")
}

func TestRedisStoreSkipsAlreadyExpiredEntries(t *testing.T) {
	clock := newFakeClock()
	server, store := newRedisStore(t, clock)
	entry := entryFor(clock, `1`, time.Minute)
	clock.Advance(2 * time.Minute)

	require.NoError(t, store.Store(context.Background(), "k", entry))
	require.False(t, server.Exists("dashsync:cache:k"))
}

func TestRedisStoreDeleteMatchingAndClearStayInPrefix(t *testing.T) {
	server, store := newRedisStore(t, nil)
	ctx := context.Background()
	require.NoError(t, server.Set("foreign:key", "keep"))

	now := time.Now()
	for _, key := range []string{"contact:list:all", "contact:list:support", "contact:stats"} {
		require.NoError(t, store.Store(ctx, key, Entry{Value: json.RawMessage(`1`), StoredAt: now, ExpiresAt: now.Add(time.Minute)}))
	}

	require.NoError(t, store.DeleteMatching(ctx, regexp.MustCompile(`^contact:list:`)))
	require.False(t, server.Exists("dashsync:cache:contact:list:all"))
	require.False(t, server.Exists("dashsync:cache:contact:list:support"))
	require.True(t, server.Exists("dashsync:cache:contact:stats"))

	size, err := store.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, size)

	require.NoError(t, store.Delete(ctx, "contact:stats"))
	require.NoError(t, store.Store(ctx, "admin:stats", Entry{Value: json.RawMessage(`1`), StoredAt: now, ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, store.Clear(ctx))

	size, err = store.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)
	require.True(t, server.Exists("foreign:key"))
}

func TestNewRedisRequiresClient(t *testing.T) {
	_, err := NewRedis(nil, "dashsync:cache:", nil)
	require.Error(t, err)
}

func TestNewRedisRequiresPrefix(t *testing.T) {
	server := miniredis.RunT(t)
	client, err := redisclient.New(config.RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	_, err = NewRedis(client, " ", nil)
	require.ErrorContains(t, err, "prefix")
}
