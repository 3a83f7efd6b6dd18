package blockstore

import (
	"context"
	"fmt"
	"time"

	"github.com/fschiettecatte/mps-sub006/pkg/metrics"
	"github.com/fschiettecatte/mps-sub006/pkg/resilience"
)

type ResilientConfig struct {
	Retry          resilience.RetryConfig
	CircuitBreaker resilience.CircuitBreakerConfig
	// Timeout bounds each fetch attempt. Zero means no bound.
	Timeout time.Duration
}

// Resilient guards a remote Store with a per-attempt timeout, retries with
// backoff, and a circuit breaker. Missing blocks are never retried and never
// trip the breaker.
type Resilient struct {
	inner   Store
	name    string
	cfg     ResilientConfig
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
}

func NewResilient(inner Store, name string, cfg ResilientConfig, m *metrics.Metrics) *Resilient {
	return &Resilient{
		inner:   inner,
		name:    name,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker(name, cfg.CircuitBreaker),
		metrics: m,
	}
}

func (r *Resilient) Fetch(ctx context.Context, blockID uint64) ([]byte, error) {
	start := time.Now()
	var block []byte
	op := fmt.Sprintf("%s fetch %d", r.name, blockID)
	err := r.breaker.Execute(func() error {
		return resilience.Retry(ctx, op, r.cfg.Retry, func() error {
			return resilience.WithTimeout(ctx, r.cfg.Timeout, op, func(ctx context.Context) error {
				b, err := r.inner.Fetch(ctx, blockID)
				if IsNotFound(err) {
					return resilience.Permanent(err)
				}
				if err != nil {
					return err
				}
				block = b
				return nil
			})
		})
	})
	r.metrics.ObserveBlockFetch(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return block, nil
}

func (r *Resilient) BreakerState() resilience.State {
	return r.breaker.State()
}
