// Package memo provides keyed, TTL-bounded memoization with
// singleflight semantics: concurrent callers computing the same
// fingerprint share one in-flight computation.
package memo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// Fingerprint derives a deterministic cache key from an operation's
// input parts.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(strings.TrimSpace(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Cache memoizes values of type V keyed by fingerprint.
type Cache[V any] struct {
	cache *ttlcache.Cache[string, V]
	group singleflight.Group
}

// NewCache creates a memoization cache with the given default TTL.
func NewCache[V any](defaultTTL time.Duration) *Cache[V] {
	c := ttlcache.New[string, V](
		ttlcache.WithTTL[string, V](defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, V](),
	)
	go c.Start()
	return &Cache[V]{cache: c}
}

// Get returns the cached value for the fingerprint.
func (c *Cache[V]) Get(fingerprint string) (V, bool) {
	item := c.cache.Get(fingerprint)
	if item == nil {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

// Put stores a value under the fingerprint. A zero ttl uses the cache
// default.
func (c *Cache[V]) Put(fingerprint string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	c.cache.Set(fingerprint, value, ttl)
}

// Delete removes the fingerprint from the cache.
func (c *Cache[V]) Delete(fingerprint string) {
	c.cache.Delete(fingerprint)
}

// DeleteAll empties the cache.
func (c *Cache[V]) DeleteAll() {
	c.cache.DeleteAll()
}

// GetOrCompute returns the cached value, or computes it exactly once
// across concurrent callers and caches the result. Errors are not
// cached; every caller of a failed computation sees the same error.
func (c *Cache[V]) GetOrCompute(ctx context.Context, fingerprint string, ttl time.Duration, compute func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(fingerprint); ok {
		return v, nil
	}

	result, err, _ := c.group.Do(fingerprint, func() (any, error) {
		// Another flight may have populated the cache while this caller
		// waited on the group lock.
		if v, ok := c.Get(fingerprint); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(fingerprint, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.cache.Len()
}

// Stop halts the background expiration loop.
func (c *Cache[V]) Stop() {
	c.cache.Stop()
}
