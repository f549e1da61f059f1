package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconcile outcomes recorded per request.
const (
	OutcomeNewPrimary   = "new_primary"
	OutcomeNewSecondary = "new_secondary"
	OutcomeMerged       = "merged"
	OutcomeNoop         = "noop"
)

// Metrics holds Prometheus metrics for contact reconciliation.
type Metrics struct {
	ReconcileOutcomes  *prometheus.CounterVec
	PrimariesAbsorbed  prometheus.Counter
	ReconcileDuration  prometheus.Histogram
	InvariantViolation prometheus.Counter
}

// New creates and registers reconciliation metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		ReconcileOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contact_reconcile_total",
			Help: "Reconciliation requests by outcome.",
		}, []string{"outcome"}),
		PrimariesAbsorbed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "contact_primaries_absorbed_total",
			Help: "Primary contacts demoted to secondary by cluster merges.",
		}),
		ReconcileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "contact_reconcile_duration_seconds",
			Help:    "End-to-end reconciliation latency including the storage transaction.",
			Buckets: prometheus.DefBuckets,
		}),
		InvariantViolation: promauto.NewCounter(prometheus.CounterOpts{
			Name: "contact_invariant_violations_total",
			Help: "Reconciliations aborted because stored data broke a cluster invariant.",
		}),
	}
}

// RecordOutcome counts one finished reconciliation.
func (m *Metrics) RecordOutcome(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ReconcileOutcomes.WithLabelValues(outcome).Inc()
	m.ReconcileDuration.Observe(seconds)
}

// RecordAbsorbed counts primaries demoted during a merge.
func (m *Metrics) RecordAbsorbed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PrimariesAbsorbed.Add(float64(n))
}

// RecordInvariantViolation counts a corrupt-data abort.
func (m *Metrics) RecordInvariantViolation() {
	if m == nil {
		return
	}
	m.InvariantViolation.Inc()
}
