package store

import (
	"context"
	"sync"
	"time"

	"github.com/loxya/booking-engine/generic"
)

// =============================================================================
// MEMORY CACHE - Availability cache with per-entry TTL
// =============================================================================

type cacheKey struct {
	booking generic.BookingID
	key     generic.CacheKey
}

type cacheEntry struct {
	value     bool
	expiresAt time.Time
}

// MemoryCache is the CacheStore used in tests and when Redis is disabled.
type MemoryCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[cacheKey]cacheEntry
	gens  map[cacheKey]uint64
}

// NewMemoryCache builds a cache; ttl <= 0 keeps entries until invalidated.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:   ttl,
		items: make(map[cacheKey]cacheEntry),
		gens:  make(map[cacheKey]uint64),
	}
}

func (c *MemoryCache) Get(_ context.Context, id generic.BookingID, key generic.CacheKey) (bool, bool, error) {
	k := cacheKey{booking: id, key: key}
	c.mu.RLock()
	entry, ok := c.items[k]
	c.mu.RUnlock()
	if !ok {
		return false, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.items[k]; ok && cur == entry {
			delete(c.items, k)
		}
		c.mu.Unlock()
		return false, false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) Generation(_ context.Context, id generic.BookingID, key generic.CacheKey) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[cacheKey{booking: id, key: key}], nil
}

func (c *MemoryCache) SetIfGeneration(_ context.Context, id generic.BookingID, key generic.CacheKey, value bool, gen uint64) (bool, error) {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}
	k := cacheKey{booking: id, key: key}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[k] != gen {
		return false, nil
	}
	c.items[k] = cacheEntry{value: value, expiresAt: expiresAt}
	return true, nil
}

// Invalidate drops the entry and bumps the key's generation.
func (c *MemoryCache) Invalidate(_ context.Context, id generic.BookingID, key generic.CacheKey) error {
	k := cacheKey{booking: id, key: key}
	c.mu.Lock()
	delete(c.items, k)
	c.gens[k]++
	c.mu.Unlock()
	return nil
}

// Has reports whether a live entry exists. Used by tests.
func (c *MemoryCache) Has(id generic.BookingID, key generic.CacheKey) bool {
	_, found, _ := c.Get(context.Background(), id, key)
	return found
}
