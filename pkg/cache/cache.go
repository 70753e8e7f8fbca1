// Package cache provides a bounded TTL cache used for derived values such as
// computed batch prices. It is constructed once at process start and passed
// into the components that need it; there is no package-level instance.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a fixed-size LRU with per-entry expiry.
type Cache[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// New creates a cache holding at most size entries, each expiring after ttl.
func New[K comparable, V any](size int, ttl time.Duration) *Cache[K, V] {
	if size <= 0 {
		size = 128
	}
	return &Cache[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Set stores a value under key.
func (c *Cache[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// Remove invalidates key.
func (c *Cache[K, V]) Remove(key K) {
	c.lru.Remove(key)
}

// Len reports the number of live entries.
func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}
