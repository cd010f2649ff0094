package llm

import (
	"context"
	"strconv"
	"time"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// Metric names recorded by MetricsMiddleware.
const (
	MetricAttemptLatency = "gateway_attempt_latency_seconds"
	MetricAttemptsTotal  = "gateway_attempts_total"
	MetricTokensTotal    = "gateway_tokens_total"
)

// ExplicitModelLabel replaces the model label of caller-pinned models the
// catalog does not know, keeping the label set bounded.
const ExplicitModelLabel = "explicit"

// ModelCatalog reports whether a model name belongs to the known catalog
// of a provider.
type ModelCatalog interface {
	Known(ctx context.Context, target domain.ProviderIdentity, model string) bool
}

// MetricsOption configures MetricsMiddleware.
type MetricsOption func(*metricsExecutor)

// WithModelCatalog lets pinned models that the catalog knows keep their
// own model label.
func WithModelCatalog(catalog ModelCatalog) MetricsOption {
	return func(m *metricsExecutor) { m.catalog = catalog }
}

// metricsExecutor records one latency sample and one counter per attempt,
// plus token counters for successful attempts.
type metricsExecutor struct {
	next      ports.Executor
	collector ports.MetricsCollector
	catalog   ModelCatalog
}

// MetricsMiddleware creates middleware that records attempt metrics.
// A nil collector disables recording.
func MetricsMiddleware(collector ports.MetricsCollector, opts ...MetricsOption) Middleware {
	return func(next ports.Executor) ports.Executor {
		m := &metricsExecutor{
			next:      next,
			collector: collector,
		}
		for _, opt := range opts {
			opt(m)
		}
		return m
	}
}

// Invoke executes the call and records its outcome.
func (m *metricsExecutor) Invoke(ctx context.Context, call ports.ExecutorCall) (domain.InvocationResult, error) {
	start := time.Now()
	result, err := m.next.Invoke(ctx, call)
	if m.collector == nil {
		return result, err
	}

	model := m.modelLabel(ctx, call)
	labels := map[string]string{
		"provider": string(call.Target.Kind),
		"model":    model,
		"outcome":  outcomeLabel(err),
		"status":   statusLabel(err),
	}
	m.collector.RecordHistogram(MetricAttemptLatency, time.Since(start).Seconds(), labels)
	m.collector.RecordCounter(MetricAttemptsTotal, 1, labels)

	if err == nil {
		m.collector.RecordCounter(MetricTokensTotal, float64(result.Usage.PromptTokens), map[string]string{
			"provider": string(call.Target.Kind), "model": model, "token_type": "input",
		})
		m.collector.RecordCounter(MetricTokensTotal, float64(result.Usage.CompletionTokens), map[string]string{
			"provider": string(call.Target.Kind), "model": model, "token_type": "output",
		})
	}
	return result, err
}

// modelLabel is the candidate's model name unless the caller chose it and
// the catalog cannot vouch for it.
func (m *metricsExecutor) modelLabel(ctx context.Context, call ports.ExecutorCall) string {
	c := call.Candidate
	if c.Origin != domain.OriginExplicit {
		return c.ModelName
	}
	if m.catalog != nil && m.catalog.Known(ctx, call.Target, c.ModelName) {
		return c.ModelName
	}
	return ExplicitModelLabel
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return domain.AsRawFailure(err).Kind.String()
}

func statusLabel(err error) string {
	if err == nil {
		return "200"
	}
	if f := domain.AsRawFailure(err); f.StatusCode != 0 {
		return strconv.Itoa(f.StatusCode)
	}
	return "none"
}
