// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

// Package feedcache caches generated feeds per user. An entry is served only
// while it is inside its TTL and was generated against the user's current
// profile version, so a reader always sees a feed at least as fresh as their
// last acknowledged embedding update.
package feedcache

import (
	"sync"
	"time"

	"github.com/feedloom/feedloom/internal/metrics"
	"github.com/feedloom/feedloom/internal/ranker"
)

const cacheType = "feed"

type entry struct {
	generatedAt    time.Time
	profileVersion int64
	items          []ranker.RankedItem
}

// Cache is a bounded in-memory feed cache.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int

	now func() time.Time // test hook
}

// New creates a cache with the given TTL and capacity.
func New(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached feed for a user if it is still inside its TTL and
// was generated at the given profile version. Any other state is a miss.
func (c *Cache) Get(userID string, profileVersion int64) ([]ranker.RankedItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		metrics.CacheMisses.WithLabelValues(cacheType).Inc()
		return nil, false
	}
	if c.now().After(e.generatedAt.Add(c.ttl)) || e.profileVersion != profileVersion {
		delete(c.entries, userID)
		metrics.CacheMisses.WithLabelValues(cacheType).Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues(cacheType).Inc()
	out := make([]ranker.RankedItem, len(e.items))
	copy(out, e.items)
	return out, true
}

// Put stores a freshly generated feed stamped with the profile version it was
// built against.
func (c *Cache) Put(userID string, profileVersion int64, items []ranker.RankedItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[userID]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}

	stored := make([]ranker.RankedItem, len(items))
	copy(stored, items)
	c.entries[userID] = entry{
		generatedAt:    c.now(),
		profileVersion: profileVersion,
		items:          stored,
	}
}

// Invalidate drops a user's cached feed, typically right after a merge.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// Len returns the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked frees room: expired entries first, then the oldest live entry.
func (c *Cache) evictLocked() {
	now := c.now()
	evicted := 0
	for id, e := range c.entries {
		if now.After(e.generatedAt.Add(c.ttl)) {
			delete(c.entries, id)
			evicted++
		}
	}

	if evicted == 0 {
		var oldestID string
		var oldestAt time.Time
		for id, e := range c.entries {
			if oldestID == "" || e.generatedAt.Before(oldestAt) {
				oldestID = id
				oldestAt = e.generatedAt
			}
		}
		if oldestID != "" {
			delete(c.entries, oldestID)
			evicted++
		}
	}

	metrics.CacheEvictions.WithLabelValues(cacheType).Add(float64(evicted))
}
