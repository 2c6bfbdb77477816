package engine

import (
	"sync"
	"time"
)

// DedupeCache remembers event keys for a sliding window. A key seen again
// inside the window is a duplicate and does not refresh its timestamp.
// Expired keys are swept at most once per half window.
type DedupeCache struct {
	mu        sync.Mutex
	items     map[string]time.Time
	lastSweep time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time)}
}

func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastSweep.IsZero() {
		d.lastSweep = now
	}
	if ts, ok := d.items[key]; ok {
		if now.Sub(ts) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if now.Sub(d.lastSweep) > ttl/2 {
		d.compact(now, ttl)
		d.lastSweep = now
	}
	return false
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *DedupeCache) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = make(map[string]time.Time)
	d.lastSweep = time.Time{}
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}
