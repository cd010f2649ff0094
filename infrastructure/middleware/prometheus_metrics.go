// Package middleware provides cross-cutting concerns for the gateway that
// sit outside the request path, such as exporting metrics.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xalo2100/alfatechflow-sub001/infrastructure/llm"
	"github.com/xalo2100/alfatechflow-sub001/internal/application"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// Known gateway and attempt metrics get dedicated vectors; anything else is
// routed to generic operation vectors so new call sites never panic.
type PrometheusMetrics struct {
	invocations       *prometheus.CounterVec
	invocationLatency *prometheus.HistogramVec
	candidates        *prometheus.GaugeVec

	attempts       *prometheus.CounterVec
	attemptLatency *prometheus.HistogramVec
	tokens         *prometheus.CounterVec

	operations       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	gauges           *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance and registers
// all required metrics in the global Prometheus registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWith(prometheus.DefaultRegisterer)
}

// NewPrometheusMetricsWith registers the metrics with reg.
func NewPrometheusMetricsWith(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: application.MetricInvocationsTotal,
				Help: "Gateway invocations by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		invocationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_invocation_duration_seconds",
				Help:    "End-to-end duration of gateway invocations.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
			},
			[]string{"provider", "outcome"},
		),
		candidates: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: application.MetricCandidates,
				Help: "Size of the most recent candidate list per provider.",
			},
			[]string{"provider"},
		),

		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: llm.MetricAttemptsTotal,
				Help: "Executor attempts by provider, model and outcome.",
			},
			[]string{"provider", "model", "outcome", "status"},
		),
		attemptLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    llm.MetricAttemptLatency,
				Help:    "Duration of single executor attempts.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model", "outcome"},
		),
		tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: llm.MetricTokensTotal,
				Help: "Tokens consumed by successful attempts.",
			},
			[]string{"provider", "model", "token_type"},
		),

		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_operations_total",
				Help: "Counters recorded under names without a dedicated metric.",
			},
			[]string{"metric", "provider"},
		),
		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_operation_duration_seconds",
				Help:    "Latencies and histograms recorded under names without a dedicated metric.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "provider"},
		),
		gauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_state",
				Help: "Gauges recorded under names without a dedicated metric.",
			},
			[]string{"metric", "provider"},
		),
	}
}

func label(labels map[string]string, name string) string {
	if v := labels[name]; v != "" {
		return v
	}
	return "unknown"
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	if operation == application.MetricInvocationLatency {
		pm.invocationLatency.WithLabelValues(label(labels, "provider"), label(labels, "outcome")).
			Observe(duration.Seconds())
		return
	}
	pm.operationLatency.WithLabelValues(operation, label(labels, "provider")).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case application.MetricInvocationsTotal:
		pm.invocations.WithLabelValues(label(labels, "provider"), label(labels, "outcome")).Add(value)
	case llm.MetricAttemptsTotal:
		pm.attempts.WithLabelValues(
			label(labels, "provider"),
			label(labels, "model"),
			label(labels, "outcome"),
			label(labels, "status"),
		).Add(value)
	case llm.MetricTokensTotal:
		pm.tokens.WithLabelValues(
			label(labels, "provider"),
			label(labels, "model"),
			label(labels, "token_type"),
		).Add(value)
	default:
		pm.operations.WithLabelValues(metric, label(labels, "provider")).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	if metric == application.MetricCandidates {
		pm.candidates.WithLabelValues(label(labels, "provider")).Set(value)
		return
	}
	pm.gauges.WithLabelValues(metric, label(labels, "provider")).Set(value)
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	if metric == llm.MetricAttemptLatency {
		pm.attemptLatency.WithLabelValues(
			label(labels, "provider"),
			label(labels, "model"),
			label(labels, "outcome"),
		).Observe(value)
		return
	}
	pm.operationLatency.WithLabelValues(metric, label(labels, "provider")).Observe(value)
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
