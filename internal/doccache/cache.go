// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package doccache is a generic in-memory keyed cache that separates
// "present" from "fresh": entries never expire on their own, but each one
// carries a freshness mark that lapses after the TTL so callers can decide
// to refresh while still serving the cached value.
package doccache

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Entry is a cached value with the time it was last written or refreshed.
// Version increases on every write to the cache and lets callers detect
// concurrent modification.
type Entry[V any] struct {
	Value       V
	RefreshedAt time.Time
	Version     uint64
}

// Cache maps keys to entries. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]Entry[V]
	version uint64
	// epoch is the version reported for absent keys. Reset advances it so
	// versions read before a Reset never match afterwards.
	epoch uint64

	// fresh holds one item per key written within the TTL. nil when the
	// TTL is disabled, in which case every entry is always fresh.
	fresh *ttlcache.Cache[K, time.Time]
}

// New creates a cache whose entries go stale ttl after their last write.
// A ttl of zero or less disables staleness.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	c := &Cache[K, V]{
		entries: make(map[K]Entry[V]),
	}
	if ttl > 0 {
		c.fresh = ttlcache.New(
			ttlcache.WithTTL[K, time.Time](ttl),
			ttlcache.WithDisableTouchOnHit[K, time.Time](),
		)
		go c.fresh.Start()
	}
	return c
}

// Stop releases the background expiry goroutine.
func (c *Cache[K, V]) Stop() {
	if c.fresh != nil {
		c.fresh.Stop()
	}
}

// Get returns the entry for key, stale or not.
func (c *Cache[K, V]) Get(key K) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Fresh reports whether key was written within the TTL.
func (c *Cache[K, V]) Fresh(key K) bool {
	if c.fresh == nil {
		return true
	}
	return c.fresh.Has(key)
}

// Version returns the version of key's entry. An absent key reports the
// cache's current epoch, which is zero until the first Reset.
func (c *Cache[K, V]) Version(key K) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.versionLocked(key)
}

func (c *Cache[K, V]) versionLocked(key K) uint64 {
	if e, ok := c.entries[key]; ok {
		return e.Version
	}
	return c.epoch
}

// Set stores value under key and marks it fresh.
func (c *Cache[K, V]) Set(key K, value V) Entry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(key, value)
}

// SetIfVersion stores value only when key's current version, as reported
// by Version, equals version. It reports whether the write happened.
func (c *Cache[K, V]) SetIfVersion(key K, value V, version uint64) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versionLocked(key) != version {
		return Entry[V]{}, false
	}
	return c.setLocked(key, value), true
}

// Update replaces key's value with the result of fn, which receives the
// current value and whether it was present. When fn fails the entry is
// left untouched. fn runs under the cache lock and must not call back
// into the cache.
func (c *Cache[K, V]) Update(key K, fn func(current V, ok bool) (V, error)) (Entry[V], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.entries[key]
	next, err := fn(cur.Value, ok)
	if err != nil {
		return cur, err
	}
	return c.setLocked(key, next), nil
}

func (c *Cache[K, V]) setLocked(key K, value V) Entry[V] {
	c.version++
	now := time.Now()
	e := Entry[V]{
		Value:       value,
		RefreshedAt: now,
		Version:     c.version,
	}
	c.entries[key] = e
	if c.fresh != nil {
		c.fresh.Set(key, now, ttlcache.DefaultTTL)
	}
	return e
}

// Reset removes every entry and starts a new epoch, so SetIfVersion calls
// holding a version read before the Reset are refused.
func (c *Cache[K, V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.epoch = c.version
	c.entries = make(map[K]Entry[V])
	if c.fresh != nil {
		c.fresh.DeleteAll()
	}
}

// Keys returns the cached keys in no particular order.
func (c *Cache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]K, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}
