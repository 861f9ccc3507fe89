// Package geo provides travel time lookup between coordinates. In production
// the provider wraps an external mapping API; the scheduler only depends on
// the Provider interface.
package geo

import (
	"context"
	"errors"
	"math"
	"time"

	"carerounds/internal/model"
)

// ErrUnavailable signals a transient provider failure. Callers must propagate
// it; the optimizer never degrades to a zero-travel-time assumption.
var ErrUnavailable = errors.New("geo provider unavailable")

// Provider returns the travel time between two points. Implementations must
// be deterministic within a scheduling run.
type Provider interface {
	TravelTime(ctx context.Context, from, to model.GeoPoint) (time.Duration, error)
}

// Haversine estimates travel time from great-circle distance at a fixed
// average speed. It is the default provider when no mapping API is configured.
type Haversine struct {
	SpeedKph float64
}

func NewHaversine(speedKph float64) *Haversine {
	if speedKph <= 0 {
		speedKph = 30 // urban domiciliary rounds average
	}
	return &Haversine{SpeedKph: speedKph}
}

func (h *Haversine) TravelTime(_ context.Context, from, to model.GeoPoint) (time.Duration, error) {
	meters := haversineMeters(from.Lat, from.Lng, to.Lat, to.Lng)
	sec := meters / (h.SpeedKph / 3.6)
	return time.Duration(sec * float64(time.Second)), nil
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
