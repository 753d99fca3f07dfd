// Package cache memoizes ranked and filtered query results between
// rebuilds. Keys embed the snapshot version, and Purge runs on every
// publish, so a stale entry can never be served even if one survived.
package cache

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nutridex/nutridex/internal/metrics"
)

// QueryCache is an LRU over canonical query keys. A nil *QueryCache and a
// zero-capacity cache both behave as a pass-through, so callers never
// branch on whether caching is on.
type QueryCache struct {
	lru *lru.Cache[string, any]
	m   *metrics.Metrics
}

// New builds a cache with the given entry capacity. Capacity <= 0
// disables caching.
func New(capacity int, m *metrics.Metrics) (*QueryCache, error) {
	if capacity <= 0 {
		return &QueryCache{m: m}, nil
	}
	l, err := lru.New[string, any](capacity)
	if err != nil {
		return nil, err
	}
	return &QueryCache{lru: l, m: m}, nil
}

// Key builds the canonical cache key for a query against one snapshot
// version. Parts must already be in canonical form (trimmed, normalized
// numbers) so that equal queries collide.
func Key(version uint64, op string, parts ...string) string {
	var b strings.Builder
	b.WriteString("v")
	b.WriteString(strconv.FormatUint(version, 10))
	b.WriteString("\x1f")
	b.WriteString(op)
	for _, p := range parts {
		b.WriteString("\x1f")
		b.WriteString(p)
	}
	return b.String()
}

// Get returns the cached value for key, if any.
func (c *QueryCache) Get(key string) (any, bool) {
	if c == nil || c.lru == nil {
		return nil, false
	}
	v, ok := c.lru.Get(key)
	if c.m != nil {
		if ok {
			c.m.CacheHits.Inc()
		} else {
			c.m.CacheMisses.Inc()
		}
	}
	return v, ok
}

// Put stores a computed result under key.
func (c *QueryCache) Put(key string, v any) {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Add(key, v)
}

// Purge drops every entry. Called on each snapshot publish.
func (c *QueryCache) Purge() {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Purge()
}
