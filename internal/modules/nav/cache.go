package nav

import (
	"sync"
	"time"
)

type cacheEntry struct {
	points  []Point
	expires time.Time
}

// Cache holds built NAV series for a short TTL. Any ledger mutation
// invalidates everything, so a hit can only be stale by price drift,
// never by position drift.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

// NewCache creates a series cache with the given TTL
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns a cached series if present and not expired
func (c *Cache) Get(key string) ([]Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.points, true
}

// Set stores a series under the key
func (c *Cache) Set(key string, points []Point) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		points:  points,
		expires: time.Now().Add(c.ttl),
	}
}

// InvalidateAll drops every cached series
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}
