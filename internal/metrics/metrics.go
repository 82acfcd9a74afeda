// Package metrics registers the Prometheus collectors shared across the core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RawFetchCalls counts outbound batched quote requests to the broker.
	RawFetchCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskcore_raw_fetch_calls_total",
		Help: "Number of batched raw_fetch invocations against the broker",
	})

	// RawFetchFailures counts raw_fetch calls that returned an error.
	RawFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskcore_raw_fetch_failures_total",
		Help: "Number of raw_fetch invocations that failed",
	})

	// QuoteCacheHits counts quote lookups served from cache.
	QuoteCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskcore_quote_cache_hits_total",
		Help: "Quote lookups satisfied by the TTL cache",
	})

	// QuoteCacheMisses counts quote lookups that required a fetch.
	QuoteCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskcore_quote_cache_misses_total",
		Help: "Quote lookups that missed the TTL cache",
	})

	// QuotesUnavailable counts symbols returned as unavailable for a cycle.
	QuotesUnavailable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskcore_quotes_unavailable_total",
		Help: "Symbols marked unavailable instead of priced",
	})

	// BreakerState reports the quote-path circuit breaker state (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskcore_breaker_state",
		Help: "Circuit breaker state: 0=closed 1=half-open 2=open",
	})

	// OpenPositions reports the current number of open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskcore_open_positions",
		Help: "Open positions in the ledger",
	})

	// RealizedPnL reports cumulative realized profit and loss.
	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskcore_realized_pnl",
		Help: "Cumulative realized PnL",
	})

	// CyclesTotal counts completed monitoring cycles.
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskcore_cycles_total",
		Help: "Completed monitoring cycles",
	})

	// CycleDuration observes per-cycle wall-clock duration.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskcore_cycle_duration_seconds",
		Help:    "Monitoring cycle duration",
		Buckets: prometheus.DefBuckets,
	})

	// ExitsApplied counts positions closed by the exit engine.
	ExitsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskcore_exits_applied_total",
		Help: "Positions closed by exit decisions",
	})
)
