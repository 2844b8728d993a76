// Package dedup tracks inbound message identifiers that have already been
// accepted for processing.
//
// Records expire by age only. There is no size-triggered bulk clear, so an
// accepted identifier is remembered for the full TTL.
package dedup

import (
	"sync"
	"time"
)

// DefaultTTL is how long an accepted message identifier is remembered.
const DefaultTTL = 24 * time.Hour

// Cache is a concurrency-safe set of accepted message identifiers.
type Cache struct {
	mu       sync.RWMutex
	accepted map[string]time.Time
	now      func() time.Time
}

// New returns an empty cache. A nil clock defaults to time.Now.
func New(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		accepted: make(map[string]time.Time),
		now:      now,
	}
}

// IsDuplicate reports whether messageID was previously accepted.
func (c *Cache) IsDuplicate(messageID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.accepted[messageID]
	return ok
}

// MarkAccepted records messageID as accepted. Marking an identifier twice
// keeps the original acceptance time.
func (c *Cache) MarkAccepted(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.accepted[messageID]; ok {
		return
	}
	c.accepted[messageID] = c.now()
}

// SweepExpired evicts identifiers accepted before now-ttl and returns how
// many were evicted.
func (c *Cache) SweepExpired(ttl time.Duration, now time.Time) int {
	cutoff := now.Add(-ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, at := range c.accepted {
		if at.Before(cutoff) {
			delete(c.accepted, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered identifiers.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.accepted)
}
