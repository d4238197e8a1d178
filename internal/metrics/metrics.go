package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcilerMetrics groups the collectors updated by the poller, claims and refunds.
type ReconcilerMetrics struct {
	pollCycles       *prometheus.CounterVec
	pollDuration     prometheus.Histogram
	references       *prometheus.CounterVec
	pendingMatches   prometheus.Gauge
	creditedLamports prometheus.Counter
	claims           *prometheus.CounterVec
	conversions      *prometheus.CounterVec
	refunds          *prometheus.CounterVec
	refundedLamports prometheus.Counter
}

var (
	reconcilerOnce     sync.Once
	reconcilerRegistry *ReconcilerMetrics
)

// Reconciler returns the lazily-initialised metrics registered on the default registry.
func Reconciler() *ReconcilerMetrics {
	reconcilerOnce.Do(func() {
		reconcilerRegistry = &ReconcilerMetrics{
			pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deposits",
				Subsystem: "poller",
				Name:      "cycles_total",
				Help:      "Poll cycles segmented by outcome.",
			}, []string{"outcome"}),
			pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "deposits",
				Subsystem: "poller",
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of a complete poll cycle.",
				Buckets:   prometheus.DefBuckets,
			}),
			references: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deposits",
				Subsystem: "reconciler",
				Name:      "references_total",
				Help:      "Chain references handled by the reconciler segmented by result.",
			}, []string{"result"}),
			pendingMatches: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "deposits",
				Subsystem: "reconciler",
				Name:      "pending_matches",
				Help:      "Matched references still waiting for conversion or credit.",
			}),
			creditedLamports: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "deposits",
				Subsystem: "reconciler",
				Name:      "credited_lamports_total",
				Help:      "Lamports credited to owners.",
			}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deposits",
				Subsystem: "claims",
				Name:      "total",
				Help:      "Manual claims segmented by reason (success for accepted claims).",
			}, []string{"reason"}),
			conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deposits",
				Subsystem: "conversion",
				Name:      "swaps_total",
				Help:      "Token to SOL conversions segmented by outcome.",
			}, []string{"outcome"}),
			refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deposits",
				Subsystem: "refunds",
				Name:      "total",
				Help:      "Inactivity refunds segmented by outcome.",
			}, []string{"outcome"}),
			refundedLamports: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "deposits",
				Subsystem: "refunds",
				Name:      "lamports_total",
				Help:      "Lamports returned to owners by inactivity refunds.",
			}),
		}
		prometheus.MustRegister(
			reconcilerRegistry.pollCycles,
			reconcilerRegistry.pollDuration,
			reconcilerRegistry.references,
			reconcilerRegistry.pendingMatches,
			reconcilerRegistry.creditedLamports,
			reconcilerRegistry.claims,
			reconcilerRegistry.conversions,
			reconcilerRegistry.refunds,
			reconcilerRegistry.refundedLamports,
		)
	})
	return reconcilerRegistry
}

func (m *ReconcilerMetrics) ObservePollCycle(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(outcome).Inc()
	m.pollDuration.Observe(duration.Seconds())
}

func (m *ReconcilerMetrics) RecordReference(result string) {
	if m == nil {
		return
	}
	m.references.WithLabelValues(result).Inc()
}

func (m *ReconcilerMetrics) RecordCredit(lamports int64) {
	if m == nil || lamports <= 0 {
		return
	}
	m.creditedLamports.Add(float64(lamports))
}

func (m *ReconcilerMetrics) SetPendingMatches(n int) {
	if m == nil {
		return
	}
	m.pendingMatches.Set(float64(n))
}

func (m *ReconcilerMetrics) RecordClaim(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "success"
	}
	m.claims.WithLabelValues(reason).Inc()
}

func (m *ReconcilerMetrics) RecordConversion(outcome string) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(outcome).Inc()
}

func (m *ReconcilerMetrics) RecordRefund(outcome string, lamports int64) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(outcome).Inc()
	if outcome == "sent" && lamports > 0 {
		m.refundedLamports.Add(float64(lamports))
	}
}
