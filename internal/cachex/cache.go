// Package cachex provides the cache abstraction injected into components
// that would otherwise reach for process-wide mutable state. Two kinds
// exist: a request-scoped map with no expiry, and a TTL store for
// cross-request remote lookups that tolerate staleness.
package cachex

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Default lifetimes for cross-request remote lookups. Callers must tolerate
// staleness within these windows; there is no cross-node read-after-write
// consistency.
const (
	RemoteObjectTTL  = 10 * time.Minute
	RemoteListingTTL = time.Hour
)

// Cache is the minimal get/set/invalidate surface components depend on.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
}

// Request is an in-memory cache covering a single request. No expiry, no
// size bound; it is discarded with the request.
type Request struct {
	mu sync.RWMutex
	m  map[string]any
}

// NewRequest returns an empty request-scoped cache.
func NewRequest() *Request {
	return &Request{m: make(map[string]any)}
}

func (c *Request) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *Request) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func (c *Request) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

// TTL is a keyed store with per-entry expiration, backed by go-cache.
// Used for remote catalog and content lookups that outlive one request.
type TTL struct {
	c   *gocache.Cache
	ttl time.Duration
}

// NewTTL returns a TTL cache whose entries expire after ttl.
func NewTTL(ttl time.Duration) *TTL {
	return &TTL{c: gocache.New(ttl, 2*ttl), ttl: ttl}
}

func (c *TTL) Get(key string) (any, bool) {
	return c.c.Get(key)
}

func (c *TTL) Set(key string, value any) {
	c.c.Set(key, value, c.ttl)
}

func (c *TTL) Delete(key string) {
	c.c.Delete(key)
}
