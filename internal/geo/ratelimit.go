package geo

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"carerounds/internal/model"
)

// RateLimited throttles calls to an external mapping provider. Waits respect
// the caller's context; a cancelled wait surfaces as ErrUnavailable so the
// scheduling operation aborts instead of guessing travel times.
type RateLimited struct {
	next    Provider
	limiter *rate.Limiter
}

func NewRateLimited(next Provider, rps float64, burst int) *RateLimited {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps)
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) TravelTime(ctx context.Context, from, to model.GeoPoint) (time.Duration, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return 0, ErrUnavailable
	}
	return r.next.TravelTime(ctx, from, to)
}
