package rangesync

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// FailedChainCache is a time-expiring set of chain target roots that
// must not be retried immediately, keyed by target_head_root per spec
// §3. Expiry is insertion-time based (spec §9): an entry that is merely
// looked up does not have its clock reset, unlike a typical LRU's
// access-time eviction — so the cache wraps golang-lru purely for its
// bounded capacity and stores the insertion time itself.
type FailedChainCache struct {
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewFailedChainCache creates a cache with the given capacity and TTL.
// now is injectable for tests; production callers pass time.Now.
func NewFailedChainCache(capacity int, ttl time.Duration, now func() time.Time) *FailedChainCache {
	c, _ := lru.New(capacity)
	return &FailedChainCache{cache: c, ttl: ttl, now: now}
}

// Insert denylists root for the cache's TTL, starting from now.
func (f *FailedChainCache) Insert(root Root) {
	f.cache.Add(root, f.now())
}

// Contains reports whether root is still denylisted. Expired entries
// are evicted as a side effect.
func (f *FailedChainCache) Contains(root Root) bool {
	v, ok := f.cache.Peek(root)
	if !ok {
		return false
	}
	insertedAt := v.(time.Time)
	if f.now().Sub(insertedAt) >= f.ttl {
		f.cache.Remove(root)
		return false
	}
	return true
}
