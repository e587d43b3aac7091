package enrich

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces out external calls.
type Throttle interface {
	Wait(ctx context.Context) error
}

// IntervalThrottle enforces a minimum interval between calls. A burst of one
// means no two calls are ever closer than the interval.
type IntervalThrottle struct {
	limiter *rate.Limiter
}

// NewIntervalThrottle creates a throttle with the given minimum interval.
func NewIntervalThrottle(interval time.Duration) *IntervalThrottle {
	if interval <= 0 {
		return &IntervalThrottle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &IntervalThrottle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next call is allowed or ctx is done.
func (t *IntervalThrottle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// NoThrottle never waits.
type NoThrottle struct{}

// Wait returns immediately unless ctx is already done.
func (NoThrottle) Wait(ctx context.Context) error {
	return ctx.Err()
}
