package geo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carerounds/internal/model"
)

var (
	london = model.GeoPoint{Lat: 51.5074, Lng: -0.1278}
	camden = model.GeoPoint{Lat: 51.5390, Lng: -0.1426}
)

func TestHaversineZeroDistance(t *testing.T) {
	d, err := NewHaversine(30).TravelTime(context.Background(), london, london)
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestHaversinePlausibleCityHop(t *testing.T) {
	// about 3.7 km; at 30 km/h that is 7-8 minutes
	d, err := NewHaversine(30).TravelTime(context.Background(), london, camden)
	require.NoError(t, err)
	assert.Greater(t, d, 5*time.Minute)
	assert.Less(t, d, 10*time.Minute)
}

func TestHaversineSpeedScales(t *testing.T) {
	slow, err := NewHaversine(15).TravelTime(context.Background(), london, camden)
	require.NoError(t, err)
	fast, err := NewHaversine(60).TravelTime(context.Background(), london, camden)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, float64(slow)/float64(fast), 0.01)
}

func TestHaversineDefaultSpeed(t *testing.T) {
	h := NewHaversine(0)
	assert.Equal(t, 30.0, h.SpeedKph)
}

// countingProvider counts calls per ordered pair.
type countingProvider struct {
	mu    sync.Mutex
	calls map[[4]float64]int
	err   error
}

func newCounting() *countingProvider {
	return &countingProvider{calls: map[[4]float64]int{}}
}

func (p *countingProvider) TravelTime(_ context.Context, from, to model.GeoPoint) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.calls[[4]float64{from.Lat, from.Lng, to.Lat, to.Lng}]++
	return time.Minute, nil
}

func TestRunCacheSingleLookupPerPair(t *testing.T) {
	inner := newCounting()
	c := NewRunCache(inner)

	for i := 0; i < 5; i++ {
		_, err := c.TravelTime(context.Background(), london, camden)
		require.NoError(t, err)
	}
	// reverse direction is a distinct key
	_, err := c.TravelTime(context.Background(), camden, london)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls[[4]float64{london.Lat, london.Lng, camden.Lat, camden.Lng}])
	assert.Equal(t, 1, inner.calls[[4]float64{camden.Lat, camden.Lng, london.Lat, london.Lng}])

	hits, misses := c.Stats()
	assert.Equal(t, 4, hits)
	assert.Equal(t, 2, misses)
}

func TestRunCacheDoesNotCacheErrors(t *testing.T) {
	inner := newCounting()
	inner.err = errors.New("boom")
	c := NewRunCache(inner)

	_, err := c.TravelTime(context.Background(), london, camden)
	require.Error(t, err)

	inner.mu.Lock()
	inner.err = nil
	inner.mu.Unlock()

	d, err := c.TravelTime(context.Background(), london, camden)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

func TestRateLimitedCancelledContext(t *testing.T) {
	// burst 1: the first call drains the bucket, the second must wait and the
	// cancelled context surfaces as ErrUnavailable
	r := NewRateLimited(newCounting(), 0.001, 1)
	_, err := r.TravelTime(context.Background(), london, camden)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.TravelTime(ctx, london, camden)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRateLimitedPassesThrough(t *testing.T) {
	inner := newCounting()
	r := NewRateLimited(inner, 100, 10)
	d, err := r.TravelTime(context.Background(), london, camden)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}
