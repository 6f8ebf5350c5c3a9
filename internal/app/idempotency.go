package app

import (
	"sync"
	"time"
)

// resultCacheMaxEntries caps the in-process cache. At capacity the entry
// closest to expiry is evicted to admit the new one.
const resultCacheMaxEntries = 4096

// scopedIdemKey namespaces the caller-supplied idempotency key by actor and
// tool, so one participant's key can never replay a result computed for
// another participant or another tool.
func scopedIdemKey(call ToolCall) string {
	if call.IdempotencyKey == "" {
		return ""
	}
	return call.Actor.ID + "|" + string(call.Name) + "|" + call.IdempotencyKey
}

// resultCache maps scoped idempotency keys to previously computed tool
// results. It is an in-process, advisory optimization: the durable
// session and timeline tables remain the source of truth. Expired entries
// are swept opportunistically on the hot path, no background timer.
type resultCache struct {
	ttl        time.Duration
	clock      func() time.Time
	maxEntries int

	mu      sync.Mutex
	entries map[string]cachedResult
}

type cachedResult struct {
	result    ToolResult
	expiresAt time.Time
}

func newResultCache(ttl time.Duration, clock func() time.Time) *resultCache {
	return &resultCache{
		ttl:        ttl,
		clock:      clock,
		maxEntries: resultCacheMaxEntries,
		entries:    make(map[string]cachedResult),
	}
}

func (c *resultCache) Get(key string) (ToolResult, bool) {
	if key == "" {
		return ToolResult{}, false
	}
	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(now)
	entry, ok := c.entries[key]
	if !ok || !entry.expiresAt.After(now) {
		return ToolResult{}, false
	}
	return entry.result, true
}

func (c *resultCache) Put(key string, result ToolResult) {
	if key == "" || c.ttl <= 0 {
		return
	}
	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(now)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = cachedResult{result: result, expiresAt: now.Add(c.ttl)}
}

// evictOldestLocked drops the entry with the earliest expiry. With a uniform
// TTL that is also the least recently written one.
func (c *resultCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *resultCache) sweepLocked(now time.Time) {
	for key, entry := range c.entries {
		if !entry.expiresAt.After(now) {
			delete(c.entries, key)
		}
	}
}

// rateLimiter enforces a minimum interval between invocations of the same
// tool on the same session. Timeline dedup already makes duplicates harmless;
// this keeps flappy clients from hammering the request path.
type rateLimiter struct {
	minInterval time.Duration
	clock       func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func newRateLimiter(minInterval time.Duration, clock func() time.Time) *rateLimiter {
	return &rateLimiter{
		minInterval: minInterval,
		clock:       clock,
		last:        make(map[string]time.Time),
	}
}

func (l *rateLimiter) Allow(sessionID string, tool ToolName) bool {
	if l.minInterval <= 0 {
		return true
	}
	key := sessionID + "|" + string(tool)
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, at := range l.last {
		if now.Sub(at) > l.minInterval {
			delete(l.last, k)
		}
	}
	if at, ok := l.last[key]; ok && now.Sub(at) < l.minInterval {
		return false
	}
	l.last[key] = now
	return true
}
