package schema

import (
	"sync"
	"time"
)

// DefaultTTL is how long cached column metadata stays fresh.
const DefaultTTL = 5 * time.Minute

type cacheEntry struct {
	cols      []Column
	expiresAt time.Time
}

// Cache is a process-wide TTL cache of column metadata keyed by
// (backend, schema, table). Expiry is lazy: stale entries are dropped on
// the next Get.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache builds a cache with the given TTL; ttl <= 0 uses DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func cacheKey(backend, schema, table string) string {
	return backend + "\x01" + schema + "\x01" + table
}

// Get returns the cached column list, if present and fresh.
func (c *Cache) Get(backend, schema, table string) ([]Column, bool) {
	key := cacheKey(backend, schema, table)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		if e, ok = c.entries[key]; ok && c.now().After(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.cols, true
}

// Put stores the column list for (backend, schema, table).
func (c *Cache) Put(backend, schema, table string, cols []Column) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(backend, schema, table)] = cacheEntry{
		cols:      cols,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate drops every entry for backend, or all entries when backend is
// empty.
func (c *Cache) Invalidate(backend string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if backend == "" {
		c.entries = make(map[string]cacheEntry)
		return
	}
	prefix := backend + "\x01"
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
}
