package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GraceMetrics observes the grace engine's retry loop and enforcement
// state. Implementations must be safe for concurrent use.
type GraceMetrics interface {
	// RecordOperation records one engine call (create, start, join,
	// lift, done, ...) and its outcome: "committed", "error",
	// "corruption", or (create only) "already_exists". Version-mismatch
	// retries are not an outcome; they are counted by RecordRetries.
	RecordOperation(operation, outcome string)

	// RecordRetries records how many version-mismatch retries a single
	// engine call needed before committing.
	RecordRetries(operation string, retries int)

	// SetEnforcing reports whether this node currently has its
	// enforcing flag set.
	SetEnforcing(enforcing bool)
}

// NewGraceMetrics returns a Prometheus-backed GraceMetrics, or a no-op
// implementation if InitRegistry has not been called.
func NewGraceMetrics() GraceMetrics {
	if !IsEnabled() {
		return noopGraceMetrics{}
	}

	reg := GetRegistry()
	return &graceMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfsgrace_operations_total",
				Help: "Total grace engine operations by name and outcome",
			},
			[]string{"operation", "outcome"},
		),
		retries: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nfsgrace_operation_retries",
				Help:    "Number of version-assertion retries per engine call",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
			},
			[]string{"operation"},
		),
		enforcing: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "nfsgrace_enforcing",
				Help: "1 if this node is currently enforcing grace, 0 otherwise",
			},
		),
	}
}

type graceMetrics struct {
	operationsTotal *prometheus.CounterVec
	retries         *prometheus.HistogramVec
	enforcing       prometheus.Gauge
}

func (m *graceMetrics) RecordOperation(operation, outcome string) {
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *graceMetrics) RecordRetries(operation string, retries int) {
	m.retries.WithLabelValues(operation).Observe(float64(retries))
}

func (m *graceMetrics) SetEnforcing(enforcing bool) {
	if enforcing {
		m.enforcing.Set(1)
		return
	}
	m.enforcing.Set(0)
}

type noopGraceMetrics struct{}

func (noopGraceMetrics) RecordOperation(string, string) {}
func (noopGraceMetrics) RecordRetries(string, int)      {}
func (noopGraceMetrics) SetEnforcing(bool)              {}
