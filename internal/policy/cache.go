package policy

import (
	"strings"
	"sync"
	"time"
)

// DecisionCache provides near-O(1) repeat lookups for policy decisions so
// the hot path stays sub-millisecond once warm (spec.md §5). It is the
// access-vector-cache pattern: first call pays for full evaluation,
// repeat calls for the same (scope, target kind, operation, target) pay
// only a map lookup until the entry's TTL expires or is invalidated.
type DecisionCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration

	statsMu sync.Mutex
	hits    uint64
	misses  uint64
}

type cacheEntry struct {
	decision  Decision
	expiresAt time.Time
}

// NewDecisionCache creates a cache with the given TTL. The engine uses a
// 60s TTL, per spec.md §4.1; the command allowlist (internal/allowlist)
// does not use this type and refreshes on its own 30s ReloadInterval.
func NewDecisionCache(ttl time.Duration) *DecisionCache {
	return &DecisionCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// Key builds a deterministic cache key from the scope, target kind, and
// normalised target string.
func Key(scope Scope, kind TargetKind, operation, target string) string {
	var b strings.Builder
	b.WriteString(scope.ProfileID)
	b.WriteByte('/')
	b.WriteString(scope.User)
	b.WriteByte('|')
	b.WriteString(string(kind))
	b.WriteByte('|')
	b.WriteString(operation)
	b.WriteByte('|')
	b.WriteString(target)
	return b.String()
}

// Get returns a cached decision and true on a live hit.
func (c *DecisionCache) Get(key string) (Decision, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		if ok {
			c.mu.Lock()
			delete(c.entries, key)
			c.mu.Unlock()
		}
		c.recordMiss()
		return Decision{}, false
	}
	c.recordHit()
	d := entry.decision
	d.Cached = true
	return d, true
}

// Set stores a decision for the cache's configured TTL.
func (c *DecisionCache) Set(key string, d Decision) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{decision: d, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// InvalidateAll clears every cached decision. Called whenever a write
// bumps the store's version counter (spec.md §4.1).
func (c *DecisionCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// InvalidateScope clears cached decisions for one scope prefix.
func (c *DecisionCache) InvalidateScope(scope Scope) {
	prefix := scope.ProfileID + "/" + scope.User + "|"
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Stats reports cache hit/miss counters and the resulting hit rate as a
// fraction in [0,1].
func (c *DecisionCache) Stats() (hits, misses uint64, hitRate float64) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	hits, misses = c.hits, c.misses
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}

func (c *DecisionCache) recordHit() {
	c.statsMu.Lock()
	c.hits++
	c.statsMu.Unlock()
}

func (c *DecisionCache) recordMiss() {
	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
}
