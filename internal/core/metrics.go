package core

import (
	"context"
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// MetricsRecorder observes service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// CommitFailureRecorder is optionally implemented by recorders that track
// per-store commit failures.
type CommitFailureRecorder interface {
	CommitFailed(store string)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// PrometheusMetrics records operations on a private prometheus registry.
type PrometheusMetrics struct {
	registry       *prometheus.Registry
	operations     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	commitFailures *prometheus.CounterVec
}

// NewPrometheusMetrics registers the tomscore collectors on a fresh registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tomscore",
			Name:      "operations_total",
			Help:      "Total number of service operations by result.",
		}, []string{"operation", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tomscore",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for service operations.",
			Buckets: []float64{
				0.001, 0.005, 0.01,
				0.05, 0.1, 0.5,
				1, 5,
			},
		}, []string{"operation"}),
		commitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tomscore",
			Name:      "commit_failures_total",
			Help:      "Total number of store commits that failed.",
		}, []string{"store"}),
	}
	m.registry.MustRegister(m.operations, m.latency, m.commitFailures)
	return m
}

// Registry exposes the collectors for scraping or tests.
func (m *PrometheusMetrics) Registry() *prometheus.Registry { return m.registry }

// WriteText writes the gathered families in the Prometheus text format.
func (m *PrometheusMetrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrap(err, "write metrics")
		}
	}
	return nil
}

// Observe implements MetricsRecorder.
func (m *PrometheusMetrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// CommitFailed implements CommitFailureRecorder.
func (m *PrometheusMetrics) CommitFailed(store string) {
	m.commitFailures.WithLabelValues(store).Inc()
}
