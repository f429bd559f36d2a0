package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus metrics for the mirror execution core.
type Metrics struct {
	registry        *prometheus.Registry
	mirrorCreated   *prometheus.CounterVec
	mirrorOutcome   *prometheus.CounterVec
	sizingRejected  *prometheus.CounterVec
	venueRetries    prometheus.Counter
	lowFundSkips    prometheus.Counter
	executeLatency  prometheus.Histogram
	activeFollowers prometheus.Gauge
	pnlSettled      prometheus.Counter
}

// New creates a metrics registry and registers mirror metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	mirrorCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_created_total",
		Help: "Total number of mirror trade records created.",
	}, []string{"pair", "side"})

	mirrorOutcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_outcome_total",
		Help: "Total number of mirror executions by terminal status.",
	}, []string{"status"})

	sizingRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sizing_rejected_total",
		Help: "Total number of sizing rejections.",
	}, []string{"reason"})

	venueRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "venue_retries_total",
		Help: "Total number of retried venue order calls.",
	})

	lowFundSkips := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "low_fund_skips_total",
		Help: "Total number of executions skipped for low-fund followers.",
	})

	executeLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mirror_execute_seconds",
		Help:    "End-to-end latency of one follower execution in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	activeFollowers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_followers_count",
		Help: "Number of active followers seen by the last fan-out.",
	})

	pnlSettled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pnl_settled_total",
		Help: "Total number of mirror trades settled with a reconciled P&L.",
	})

	registry.MustRegister(mirrorCreated, mirrorOutcome, sizingRejected, venueRetries, lowFundSkips, executeLatency, activeFollowers, pnlSettled)

	return &Metrics{
		registry:        registry,
		mirrorCreated:   mirrorCreated,
		mirrorOutcome:   mirrorOutcome,
		sizingRejected:  sizingRejected,
		venueRetries:    venueRetries,
		lowFundSkips:    lowFundSkips,
		executeLatency:  executeLatency,
		activeFollowers: activeFollowers,
		pnlSettled:      pnlSettled,
	}
}

// Handler exposes the metrics registry via HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncMirrorCreated increments the created mirror counter.
func (m *Metrics) IncMirrorCreated(pair, side string) {
	if m == nil {
		return
	}
	m.mirrorCreated.WithLabelValues(pair, side).Inc()
}

// IncMirrorOutcome increments the terminal outcome counter.
func (m *Metrics) IncMirrorOutcome(status string) {
	if m == nil {
		return
	}
	m.mirrorOutcome.WithLabelValues(status).Inc()
}

// IncSizingRejected increments the sizing rejection counter.
func (m *Metrics) IncSizingRejected(reason string) {
	if m == nil {
		return
	}
	m.sizingRejected.WithLabelValues(reason).Inc()
}

// IncVenueRetry increments the retry counter.
func (m *Metrics) IncVenueRetry() {
	if m == nil {
		return
	}
	m.venueRetries.Inc()
}

// IncLowFundSkip increments the low-fund skip counter.
func (m *Metrics) IncLowFundSkip() {
	if m == nil {
		return
	}
	m.lowFundSkips.Inc()
}

// ObserveExecuteLatency records one follower execution latency.
func (m *Metrics) ObserveExecuteLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.executeLatency.Observe(d.Seconds())
}

// SetActiveFollowers sets the active followers gauge.
func (m *Metrics) SetActiveFollowers(count int) {
	if m == nil {
		return
	}
	m.activeFollowers.Set(float64(count))
}

// IncPnLSettled increments the settled P&L counter.
func (m *Metrics) IncPnLSettled() {
	if m == nil {
		return
	}
	m.pnlSettled.Inc()
}
