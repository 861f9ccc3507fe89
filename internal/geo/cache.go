package geo

import (
	"context"
	"sync"
	"time"

	"carerounds/internal/model"
)

type pairKey struct {
	fromLat, fromLng, toLat, toLng float64
}

// RunCache memoizes lookups so the same ordered pair hits the underlying
// provider at most once per scheduling run. Travel time is directional, so
// (a,b) and (b,a) are distinct keys.
type RunCache struct {
	next Provider

	mu      sync.Mutex
	entries map[pairKey]time.Duration
	hits    int
	misses  int
}

func NewRunCache(next Provider) *RunCache {
	return &RunCache{next: next, entries: map[pairKey]time.Duration{}}
}

func (c *RunCache) TravelTime(ctx context.Context, from, to model.GeoPoint) (time.Duration, error) {
	k := pairKey{from.Lat, from.Lng, to.Lat, to.Lng}
	c.mu.Lock()
	if d, ok := c.entries[k]; ok {
		c.hits++
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()
	d, err := c.next.TravelTime(ctx, from, to)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.entries[k] = d
	c.misses++
	c.mu.Unlock()
	return d, nil
}

// Stats returns cache hit/miss counts for metrics.
func (c *RunCache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
