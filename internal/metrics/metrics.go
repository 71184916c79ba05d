// Package metrics defines the Prometheus instruments exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "warden"

// Metrics groups every instrument. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Lifecycle operations by operation (open, reopen, migrate, close, rename) and outcome.
	lifecycleOps *prometheus.CounterVec

	// Thread member adds and removes by direction and status (ok, failed).
	memberOps *prometheus.CounterVec

	// Number of records in the registry.
	reviews prometheus.Gauge

	// Reconciliation cycle duration and skips.
	cycleDuration prometheus.Histogram
	cycleSkips    prometheus.Counter

	// Name lookups by result (found, unset, failed, cached).
	nameLookups *prometheus.CounterVec

	// Attachment parity mismatches after migration.
	parityMismatches prometheus.Counter
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		lifecycleOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Review lifecycle operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		memberOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "member_operations_total",
			Help:      "Thread membership changes issued by the reconciler",
		}, []string{"direction", "status"}),
		reviews: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reviews",
			Help:      "Reviews currently tracked in the registry",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of periodic reconciliation cycles",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		cycleSkips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "cycle_skips_total",
			Help:      "Cycles skipped because the previous one was still running",
		}),
		nameLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "lookups_total",
			Help:      "Display-name lookups by result",
		}, []string{"result"}),
		parityMismatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "attachment_parity_mismatches_total",
			Help:      "Migrations whose attachment count differed between source and destination",
		}),
	}
}

func (m *Metrics) LifecycleOp(operation, outcome string) {
	if m == nil {
		return
	}
	m.lifecycleOps.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) MemberOp(direction string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.memberOps.WithLabelValues(direction, status).Inc()
}

func (m *Metrics) SetReviews(n int) {
	if m == nil {
		return
	}
	m.reviews.Set(float64(n))
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) CycleSkipped() {
	if m == nil {
		return
	}
	m.cycleSkips.Inc()
}

func (m *Metrics) NameLookup(result string) {
	if m == nil {
		return
	}
	m.nameLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ParityMismatch() {
	if m == nil {
		return
	}
	m.parityMismatches.Inc()
}
