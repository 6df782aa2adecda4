// Package metrics exposes Prometheus collectors for the reminder subsystem
// and an optional HTTP endpoint serving them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clubbot"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	reconcileOps      *prometheus.CounterVec
	reconcileFailures *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	timersFired       *prometheus.CounterVec
	timersFailed      *prometheus.CounterVec
	timersSkipped     *prometheus.CounterVec
	timersDeleted     *prometheus.CounterVec
	tickDuration      prometheus.Histogram
	activeTimers      *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		reconcileOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "operations_total",
			Help: "Timer writes issued by the reconciler, by operation.",
		}, []string{"guild", "op"}),
		reconcileFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "failures_total",
			Help: "Reconcile passes that failed for a tenant.",
		}, []string{"guild"}),
		reconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "duration_seconds",
			Help: "Duration of one tenant reconcile pass.", Buckets: prometheus.DefBuckets,
		}, []string{"guild"}),
		timersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "timers", Name: "fired_total",
			Help: "Timers delivered and marked fired.",
		}, []string{"guild", "type"}),
		timersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "timers", Name: "failed_total",
			Help: "Timers whose delivery failed and were marked failed.",
		}, []string{"guild", "type"}),
		timersSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "timers", Name: "skipped_total",
			Help: "Malformed timer records skipped by the firing scheduler.",
		}, []string{"guild"}),
		timersDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "timers", Name: "deleted_total",
			Help: "Terminal timers removed by cleanup.",
		}, []string{"guild"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "firing", Name: "tick_duration_seconds",
			Help: "Duration of one firing tick across all tenants.", Buckets: prometheus.DefBuckets,
		}),
		activeTimers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "timers", Name: "active",
			Help: "Active timers seen at the last firing tick.",
		}, []string{"guild"}),
	}
	reg.MustRegister(
		m.reconcileOps, m.reconcileFailures, m.reconcileDuration,
		m.timersFired, m.timersFailed, m.timersSkipped, m.timersDeleted,
		m.tickDuration, m.activeTimers,
	)
	return m
}

// Gatherer returns the registry backing m.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.reg
}

func (m *Metrics) ReconcileOp(guild, op string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconcileOps.WithLabelValues(guild, op).Add(float64(n))
}

func (m *Metrics) ReconcileFailed(guild string) {
	if m == nil {
		return
	}
	m.reconcileFailures.WithLabelValues(guild).Inc()
}

func (m *Metrics) ObserveReconcile(guild string, d time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDuration.WithLabelValues(guild).Observe(d.Seconds())
}

func (m *Metrics) TimerFired(guild, typ string) {
	if m == nil {
		return
	}
	m.timersFired.WithLabelValues(guild, typ).Inc()
}

func (m *Metrics) TimerFailed(guild, typ string) {
	if m == nil {
		return
	}
	m.timersFailed.WithLabelValues(guild, typ).Inc()
}

func (m *Metrics) TimerSkipped(guild string) {
	if m == nil {
		return
	}
	m.timersSkipped.WithLabelValues(guild).Inc()
}

func (m *Metrics) TimersDeleted(guild string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.timersDeleted.WithLabelValues(guild).Add(float64(n))
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) SetActive(guild string, n int) {
	if m == nil {
		return
	}
	m.activeTimers.WithLabelValues(guild).Set(float64(n))
}
