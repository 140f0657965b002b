package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/loxya/booking-engine/generic"
	"github.com/loxya/booking-engine/store/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachable is a local port nothing listens on.
const unreachable = "127.0.0.1:1"

const missing = generic.CacheKeyHasMissingMaterials

// newServer starts an in-process Redis and a cache over it.
func newServer(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *redis.Cache) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, redis.NewCache(client, "test", ttl)
}

func TestCache_Key(t *testing.T) {
	c := redis.NewCache(nil, "loxya", time.Minute)
	assert.Equal(t, "loxya:booking:b42:has_missing_materials", c.Key("b42", missing))
	assert.Equal(t, "loxya:booking:b42:has_missing_materials:gen", c.GenerationKey("b42", missing))

	c = redis.NewCache(nil, "", time.Minute)
	assert.Equal(t, "bookings:booking:b42:has_missing_materials", c.Key("b42", missing))
}

func TestNewClient_PingsServer(t *testing.T) {
	s := miniredis.RunT(t)
	client, err := redis.NewClient(redis.Options{Addr: s.Addr()})
	require.NoError(t, err)
	defer client.Close()
}

func TestNewClient_FailsWhenServerIsDown(t *testing.T) {
	client, err := redis.NewClient(redis.Options{Addr: unreachable, DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), unreachable)
}

func TestCache_ErrorsSurfaceWhenServerIsDown(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: unreachable, DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	c := redis.NewCache(client, "test", time.Minute)
	ctx := context.Background()

	// A failure must not look like a miss.
	_, found, err := c.Get(ctx, "b1", missing)
	assert.Error(t, err)
	assert.False(t, found)
	_, err = c.Generation(ctx, "b1", missing)
	assert.Error(t, err)
	stored, err := c.SetIfGeneration(ctx, "b1", missing, true, 0)
	assert.Error(t, err)
	assert.False(t, stored)
	assert.Error(t, c.Invalidate(ctx, "b1", missing))
}

func TestCache_RoundTrip(t *testing.T) {
	s, c := newServer(t, time.Minute)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "b1", missing)
	require.NoError(t, err)
	assert.False(t, found)
	gen, err := c.Generation(ctx, "b1", missing)
	require.NoError(t, err)
	assert.Zero(t, gen)

	stored, err := c.SetIfGeneration(ctx, "b1", missing, true, gen)
	require.NoError(t, err)
	assert.True(t, stored)
	raw, err := s.Get(c.Key("b1", missing))
	require.NoError(t, err)
	assert.Equal(t, "1", raw)
	assert.Equal(t, time.Minute, s.TTL(c.Key("b1", missing)))

	value, found, err := c.Get(ctx, "b1", missing)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, value)

	stored, err = c.SetIfGeneration(ctx, "b1", missing, false, gen)
	require.NoError(t, err)
	assert.True(t, stored)
	value, found, err = c.Get(ctx, "b1", missing)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, value)
}

func TestCache_EntriesExpire(t *testing.T) {
	s, c := newServer(t, time.Minute)
	ctx := context.Background()
	_, err := c.SetIfGeneration(ctx, "b1", missing, true, 0)
	require.NoError(t, err)

	s.FastForward(2 * time.Minute)

	_, found, err := c.Get(ctx, "b1", missing)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_ZeroTTLKeepsEntries(t *testing.T) {
	s, c := newServer(t, 0)
	_, err := c.SetIfGeneration(context.Background(), "b1", missing, true, 0)
	require.NoError(t, err)
	assert.Zero(t, s.TTL(c.Key("b1", missing)))
}

func TestCache_InvalidationRejectsOlderWrite(t *testing.T) {
	s, c := newServer(t, time.Minute)
	ctx := context.Background()

	// GIVEN: a cached value and a reader that captured generation 0
	_, err := c.SetIfGeneration(ctx, "b1", missing, false, 0)
	require.NoError(t, err)
	gen, err := c.Generation(ctx, "b1", missing)
	require.NoError(t, err)

	// WHEN: the booking is invalidated before the reader writes
	require.NoError(t, c.Invalidate(ctx, "b1", missing))
	stored, err := c.SetIfGeneration(ctx, "b1", missing, false, gen)
	require.NoError(t, err)

	// THEN: the value is gone and the older write was dropped
	assert.False(t, stored)
	assert.False(t, s.Exists(c.Key("b1", missing)))
	raw, err := s.Get(c.GenerationKey("b1", missing))
	require.NoError(t, err)
	assert.Equal(t, "1", raw)

	// AND: a reader on the new generation may write
	gen, err = c.Generation(ctx, "b1", missing)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)
	stored, err = c.SetIfGeneration(ctx, "b1", missing, true, gen)
	require.NoError(t, err)
	assert.True(t, stored)
	value, found, err := c.Get(ctx, "b1", missing)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, value)
}
