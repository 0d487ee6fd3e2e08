// Package metrics defines Prometheus metrics for the execution
// pipeline and serves them alongside health probes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "execpipe"

// Pipeline flow metrics.
var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Orders submitted to the pipeline by terminal status.",
	}, []string{"symbol", "side", "status"})

	RiskRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "risk_rejections_total",
		Help:      "Orders refused by the risk gate.",
	})

	SlicesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "slices_total",
		Help:      "Slices scheduled by execution algorithm.",
	}, []string{"symbol", "algorithm"})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Venue executions by outcome.",
	}, []string{"venue", "status"})

	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Retry attempts by venue and failure reason.",
	}, []string{"venue", "reason"})

	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fills_total",
		Help:      "Fills applied to the position ledger.",
	}, []string{"symbol", "side"})
)

// Latency metrics.
var (
	RiskCheckLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_check_seconds",
		Help:      "Risk gate admission check latency.",
		Buckets:   prometheus.ExponentialBuckets(1e-7, 2, 12),
	})

	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_seconds",
		Help:      "Per-stage pipeline latency.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
	}, []string{"stage"})

	VenueLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "venue_seconds",
		Help:      "Venue round-trip latency per attempt.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"venue"})
)

// Risk and account state metrics.
var (
	EquityCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "equity_current_usd",
		Help:      "Current account equity.",
	})

	EquityPeak = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "equity_peak_usd",
		Help:      "Peak account equity.",
	})

	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daily_pnl_usd",
		Help:      "Realized profit and loss since the daily reset.",
	})

	DrawdownPct = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "drawdown_pct",
		Help:      "Drawdown from peak equity, in percent.",
	})

	ExposureTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "exposure_total_usd",
		Help:      "Gross exposure across all symbols.",
	})

	CircuitBreakerActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_active",
		Help:      "1 while the circuit breaker refuses all orders.",
	})

	PositionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "position_count",
		Help:      "Symbols with an open position at the risk gate.",
	})
)

// Market structure metrics.
var (
	BookDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "book_depth_levels",
		Help:      "Price levels per book side.",
	}, []string{"symbol", "side"})

	VenueTrust = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "venue_trust_score",
		Help:      "Trust score per venue in [0,1].",
	}, []string{"venue"})
)

// Operational metrics.
var (
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Internal errors by type.",
	}, []string{"type"})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix time of the last pipeline heartbeat.",
	})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata, value fixed at 1.",
	}, []string{"version", "commit", "date"})
)

// SetBuildInfo publishes build metadata.
func SetBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}
