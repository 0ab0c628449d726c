package client

import (
	"encoding/json"
	"sync"
	"time"
)

// defaultMaxEntries bounds the cache so a wide parameter space cannot grow it
// without limit. Oldest entries are evicted first.
const defaultMaxEntries = 1024

// cacheEntry wraps a cached payload with its store time and insertion order.
type cacheEntry struct {
	payload   []byte
	storedAt  time.Time
	insertIdx int64
}

// responseCache caches normalized call results keyed by endpoint path plus
// the canonical encoding of the parameter set. Thread-safe.
type responseCache struct {
	mu         sync.RWMutex
	items      map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	nextIdx    int64
	now        func() time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		items:      make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
}

// cacheKey builds a deterministic key from the endpoint path and params.
// encoding/json writes map keys in sorted order, so equal parameter sets
// always produce equal keys.
func cacheKey(path string, params map[string]any) string {
	b, err := json.Marshal(params)
	if err != nil {
		return path
	}
	return path + "?" + string(b)
}

// get returns the cached payload if present and younger than the TTL.
func (c *responseCache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		// Expired entries are left in place; set overwrites them silently.
		return nil, false
	}
	return e.payload, true
}

// set stores a payload, overwriting any prior entry for the key and evicting
// the oldest entry when at capacity.
func (c *responseCache) set(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cacheEntry{
		payload:   payload,
		storedAt:  c.now(),
		insertIdx: c.nextIdx,
	}
	c.nextIdx++

	if _, exists := c.items[key]; exists {
		c.items[key] = e
		return
	}

	if len(c.items) >= c.maxEntries {
		c.evictOldest()
	}

	c.items[key] = e
}

// len returns the current entry count.
func (c *responseCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evictOldest removes the entry with the lowest insertIdx. Must be called
// with mu held.
func (c *responseCache) evictOldest() {
	var oldestKey string
	var oldestIdx int64 = -1

	for key, e := range c.items {
		if oldestIdx == -1 || e.insertIdx < oldestIdx {
			oldestIdx = e.insertIdx
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
