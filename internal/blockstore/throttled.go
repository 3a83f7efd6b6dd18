package blockstore

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled caps the rate of fetches reaching the wrapped Store.
type Throttled struct {
	inner   Store
	limiter *rate.Limiter
}

// NewThrottled allows perSecond fetches per second with a burst of the same
// size. A non-positive perSecond disables limiting.
func NewThrottled(inner Store, perSecond float64) *Throttled {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &Throttled{inner: inner, limiter: limiter}
}

func (t *Throttled) Fetch(ctx context.Context, blockID uint64) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for fetch slot: %w", err)
	}
	return t.inner.Fetch(ctx, blockID)
}
