package websearch

import (
	"fmt"
	"sync"
	"time"
)

// maxCacheSize limits the number of cached search responses.
const maxCacheSize = 1000

type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

type resultCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*cacheEntry
}

func newResultCache(ttl time.Duration, now func() time.Time) *resultCache {
	return &resultCache{ttl: ttl, now: now, entries: make(map[string]*cacheEntry)}
}

func cacheKey(params *SearchParams) string {
	return fmt.Sprintf("%s:%s:%d:%v:%s",
		params.Backend,
		params.Type,
		params.ResultCount,
		params.ExtractContent,
		params.Query,
	)
}

// get returns an unexpired response or nil.
func (c *resultCache) get(key string) *SearchResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		return nil
	}
	return entry.response
}

// put stores a response, evicting expired entries and then the entries
// closest to expiry while at capacity.
func (c *resultCache) put(key string, response *SearchResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
	for len(c.entries) >= maxCacheSize {
		var oldestKey string
		var oldest time.Time
		for k, v := range c.entries {
			if oldestKey == "" || v.expiresAt.Before(oldest) {
				oldestKey, oldest = k, v.expiresAt
			}
		}
		delete(c.entries, oldestKey)
	}
	c.entries[key] = &cacheEntry{response: response, expiresAt: now.Add(c.ttl)}
}

func (c *resultCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
