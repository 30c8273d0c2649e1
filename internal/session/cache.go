package session

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ClientCache holds constructed authority clients for a short window so that
// every request does not re-load trust material and re-derive origin-scoped
// configuration. Keys combine session id and request origin: the same
// session served from a different deployment origin must never reuse a
// client built against the wrong metadata URLs. Misses are only a
// performance cost, so the cache being cold on any given request is fine.
type ClientCache struct {
	lru *expirable.LRU[string, AuthorityClient]
}

const (
	DefaultCacheSize = 512
	DefaultCacheTTL  = 5 * time.Minute
)

// NewClientCache builds a capped, TTL-bounded cache. A zero ttl disables
// expiry-by-time, which tests use; a zero size falls back to the default cap.
func NewClientCache(size int, ttl time.Duration) *ClientCache {
	if size <= 0 {
		size = DefaultCacheSize
	}

	return &ClientCache{
		lru: expirable.NewLRU[string, AuthorityClient](size, nil, ttl),
	}
}

func (c *ClientCache) Get(sessionID, origin string) (AuthorityClient, bool) {
	return c.lru.Get(cacheKey(sessionID, origin))
}

func (c *ClientCache) Set(sessionID, origin string, client AuthorityClient) {
	c.lru.Add(cacheKey(sessionID, origin), client)
}

func (c *ClientCache) Invalidate(sessionID, origin string) {
	c.lru.Remove(cacheKey(sessionID, origin))
}

// InvalidateSession drops every cached client for a session id, across all
// origins. Used on logout.
func (c *ClientCache) InvalidateSession(sessionID string) {
	prefix := sessionID + "\n"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

func cacheKey(sessionID, origin string) string {
	return sessionID + "\n" + origin
}
