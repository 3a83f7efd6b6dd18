// Package metrics defines the Prometheus collectors used by the term-search
// core and exposes an HTTP handler for scraping. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the search core.
type Metrics struct {
	TermLookupsTotal             *prometheus.CounterVec
	TermEvaluationDuration       *prometheus.HistogramVec
	PostingsDecodedTotal         *prometheus.CounterVec
	BlockFetchDuration           prometheus.Histogram
	BlockFetchErrorsTotal        prometheus.Counter
	BlockCacheHitsTotal          prometheus.Counter
	BlockCacheMissesTotal        prometheus.Counter
	BlockCacheInvalidationsTotal prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TermLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "term_lookups_total",
				Help: "Term evaluations by outcome (regular, stop, frequent, unknown, error).",
			},
			[]string{"outcome"},
		),
		TermEvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "term_evaluation_seconds",
				Help:    "Latency of a single term evaluation in seconds.",
				Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"evaluator"},
		),
		PostingsDecodedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postings_decoded_total",
				Help: "Postings block entries decoded, by evaluator.",
			},
			[]string{"evaluator"},
		),
		BlockFetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "block_fetch_seconds",
				Help:    "Latency of postings block fetches from the block store.",
				Buckets: []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		BlockFetchErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "block_fetch_errors_total",
				Help: "Total postings block fetches that failed.",
			},
		),
		BlockCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "block_cache_hits_total",
				Help: "Total block cache hits.",
			},
		),
		BlockCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "block_cache_misses_total",
				Help: "Total block cache misses.",
			},
		),
		BlockCacheInvalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "block_cache_invalidations_total",
				Help: "Total block cache invalidations.",
			},
		),
	}

	reg.MustRegister(
		m.TermLookupsTotal,
		m.TermEvaluationDuration,
		m.PostingsDecodedTotal,
		m.BlockFetchDuration,
		m.BlockFetchErrorsTotal,
		m.BlockCacheHitsTotal,
		m.BlockCacheMissesTotal,
		m.BlockCacheInvalidationsTotal,
	)

	return m
}

// ObserveEvaluation records one finished term evaluation.
func (m *Metrics) ObserveEvaluation(evaluator, outcome string, decoded int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TermLookupsTotal.WithLabelValues(outcome).Inc()
	m.TermEvaluationDuration.WithLabelValues(evaluator).Observe(elapsed.Seconds())
	if decoded > 0 {
		m.PostingsDecodedTotal.WithLabelValues(evaluator).Add(float64(decoded))
	}
}

func (m *Metrics) ObserveBlockFetch(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.BlockFetchDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.BlockFetchErrorsTotal.Inc()
	}
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.BlockCacheHitsTotal.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.BlockCacheMissesTotal.Inc()
	}
}

func (m *Metrics) CacheInvalidated() {
	if m != nil {
		m.BlockCacheInvalidationsTotal.Inc()
	}
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
