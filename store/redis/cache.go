/*
Package redis provides a Redis-backed availability cache.

PURPOSE:
  Implements generic.CacheStore on Redis so that every API instance sees
  the same cached has_missing_materials values and the same invalidations.

KEY LAYOUT:
  <prefix>:booking:<booking id>:<key>      →  "1" | "0"
  <prefix>:booking:<booking id>:<key>:gen  →  invalidation counter

  Entries carry a TTL so that a lost invalidation heals by itself.
  Invalidate deletes the value and increments the counter in one MULTI.
  SetIfGeneration WATCHes the counter and writes only if it still holds
  the generation the reader saw before recomputing.

USAGE:
  client, err := redis.NewClient(redis.Options{Addr: "localhost:6379"})
  if err != nil {
      // fall back to store.NewMemoryCache
  }
  cache := redis.NewCache(client, "bookings", 10*time.Minute)

SEE ALSO:
  - generic/store.go: CacheStore contract
  - generic/store/cache.go: in-memory fallback
*/
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loxya/booking-engine/generic"
	goredis "github.com/redis/go-redis/v9"
)

// Options configures the Redis connection.
type Options struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// NewClient connects and pings the server with a short timeout.
// Callers degrade to the memory cache on error.
func NewClient(opts Options) (*goredis.Client, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Cache implements generic.CacheStore.
type Cache struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewCache(client goredis.UniversalClient, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "bookings"
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the Redis key of a cached value.
func (c *Cache) Key(id generic.BookingID, key generic.CacheKey) string {
	return fmt.Sprintf("%s:booking:%s:%s", c.prefix, id, key)
}

// GenerationKey returns the Redis key of a value's invalidation counter.
func (c *Cache) GenerationKey(id generic.BookingID, key generic.CacheKey) string {
	return c.Key(id, key) + ":gen"
}

func (c *Cache) Get(ctx context.Context, id generic.BookingID, key generic.CacheKey) (bool, bool, error) {
	val, err := c.client.Get(ctx, c.Key(id, key)).Result()
	if errors.Is(err, goredis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

func (c *Cache) Generation(ctx context.Context, id generic.BookingID, key generic.CacheKey) (uint64, error) {
	return parseGeneration(c.client.Get(ctx, c.GenerationKey(id, key)))
}

func (c *Cache) SetIfGeneration(ctx context.Context, id generic.BookingID, key generic.CacheKey, value bool, gen uint64) (bool, error) {
	raw := "0"
	if value {
		raw = "1"
	}
	valueKey, genKey := c.Key(id, key), c.GenerationKey(id, key)

	stored := false
	err := c.client.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := parseGeneration(tx.Get(ctx, genKey))
		if err != nil {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, valueKey, raw, c.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		stored = true
		return nil
	}, genKey)
	if errors.Is(err, goredis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored, nil
}

// Invalidate drops the value and bumps its generation atomically.
func (c *Cache) Invalidate(ctx context.Context, id generic.BookingID, key generic.CacheKey) error {
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, c.Key(id, key))
		pipe.Incr(ctx, c.GenerationKey(id, key))
		return nil
	})
	return err
}

// parseGeneration reads a counter; a missing key is generation 0.
func parseGeneration(cmd *goredis.StringCmd) (uint64, error) {
	gen, err := cmd.Uint64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return gen, nil
}
