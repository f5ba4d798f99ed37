// Package cache holds resampled volumes keyed by the series pair and the
// interpolation kernel that produced them, so a kernel change can never
// serve a stale volume.
//
// The cache is an explicit, injectable object: the fusion engine takes one
// at construction, and tests can substitute a fresh instance or run with
// caching disabled.
package cache

import (
	"sync"

	"fusionalign/pkg/resample"
	"fusionalign/pkg/volume"
)

// Key identifies one cached resample result.
type Key struct {
	OverlayUID string
	BaseUID    string
	Kernel     resample.Kernel
}

// Stats counts cache traffic; useful for observing rebuilds in tests.
type Stats struct {
	Hits   int64
	Misses int64
}

// VolumeCache is a thread-safe map of resampled volumes. A single mutex
// guards all access; there are no size or ordering guarantees.
type VolumeCache struct {
	mu      sync.Mutex
	entries map[Key]*volume.Volume
	stats   Stats
}

// New returns an empty cache.
func New() *VolumeCache {
	return &VolumeCache{entries: make(map[Key]*volume.Volume)}
}

// Get returns the cached volume for the key, or (nil, false).
func (c *VolumeCache) Get(key Key) (*volume.Volume, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return v, ok
}

// Put stores the volume under the key, replacing any previous entry.
func (c *VolumeCache) Put(key Key, v *volume.Volume) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = v
}

// ClearSeries removes every entry whose overlay or base series matches the
// identifier and returns the number removed.
func (c *VolumeCache) ClearSeries(seriesUID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.entries {
		if key.OverlayUID == seriesUID || key.BaseUID == seriesUID {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// ClearAll empties the cache and returns the number of entries removed.
func (c *VolumeCache) ClearAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := len(c.entries)
	c.entries = make(map[Key]*volume.Volume)
	return removed
}

// Len returns the number of live entries.
func (c *VolumeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the hit/miss counters.
func (c *VolumeCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
