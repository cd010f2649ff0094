package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// TestMetricsMiddleware_RecordsSuccessfulAttempts tests that the metrics
// middleware records latency, attempt and token counters on success.
func TestMetricsMiddleware_RecordsSuccessfulAttempts(t *testing.T) {
	mock := NewMockExecutor()
	metrics := newMockMetricsCollector()
	wrapped := MetricsMiddleware(metrics)(mock)

	result, err := wrapped.Invoke(context.Background(), testCall(domain.ProviderCloud, "https://api.example", "gemini-pro"))

	require.NoError(t, err, "request should succeed")
	assert.Equal(t, "test response", result.Content)

	assert.Contains(t, metrics.histograms, MetricAttemptLatency+":cloud", "should record latency")
	assert.Equal(t, 1.0, metrics.counters[MetricAttemptsTotal+":cloud"], "should count the attempt")
	assert.Equal(t, 30.0, metrics.counters[MetricTokensTotal+":cloud"], "should record input and output tokens")
	assert.Equal(t, "success", metrics.labels[0]["outcome"])
}

// TestMetricsMiddleware_RecordsFailedAttempts tests that failures are
// labelled by kind and status and record no tokens.
func TestMetricsMiddleware_RecordsFailedAttempts(t *testing.T) {
	mock := NewMockExecutor()
	mock.Error = domain.NewHTTPFailure(http.StatusTooManyRequests, "quota")
	metrics := newMockMetricsCollector()
	wrapped := MetricsMiddleware(metrics)(mock)

	_, err := wrapped.Invoke(context.Background(), testCall(domain.ProviderCloud, "https://api.example", "gemini-pro"))

	require.Error(t, err)
	assert.Equal(t, mock.Error, err, "should return the original error")
	assert.Equal(t, 1.0, metrics.counters[MetricAttemptsTotal+":cloud"])
	assert.NotContains(t, metrics.counters, MetricTokensTotal+":cloud", "no tokens for failed attempts")
	require.Len(t, metrics.labels, 1)
	assert.Equal(t, "http", metrics.labels[0]["outcome"])
	assert.Equal(t, "429", metrics.labels[0]["status"])
}

type catalogFunc func(model string) bool

func (f catalogFunc) Known(_ context.Context, _ domain.ProviderIdentity, model string) bool {
	return f(model)
}

// TestMetricsMiddleware_BoundsPinnedModelLabels tests that caller-chosen
// model names only reach the model label when the catalog knows them.
func TestMetricsMiddleware_BoundsPinnedModelLabels(t *testing.T) {
	known := catalogFunc(func(model string) bool { return model == "gemini-1.5-pro" })

	tests := []struct {
		name   string
		origin domain.CandidateOrigin
		model  string
		opts   []MetricsOption
		want   string
	}{
		{name: "static keeps its name", origin: domain.OriginStatic, model: "gemini-pro", want: "gemini-pro"},
		{name: "discovered keeps its name", origin: domain.OriginDiscovered, model: "gemini-2.5-flash", want: "gemini-2.5-flash"},
		{name: "pinned without catalog", origin: domain.OriginExplicit, model: "gemini-1.5-pro", want: ExplicitModelLabel},
		{name: "pinned and known", origin: domain.OriginExplicit, model: "gemini-1.5-pro", opts: []MetricsOption{WithModelCatalog(known)}, want: "gemini-1.5-pro"},
		{name: "pinned and unknown", origin: domain.OriginExplicit, model: "anything-a-client-sends-0001", opts: []MetricsOption{WithModelCatalog(known)}, want: ExplicitModelLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := newMockMetricsCollector()
			wrapped := MetricsMiddleware(metrics, tt.opts...)(NewMockExecutor())
			call := testCall(domain.ProviderCloud, "https://api.example", tt.model)
			call.Candidate.Origin = tt.origin

			_, err := wrapped.Invoke(context.Background(), call)

			require.NoError(t, err)
			require.NotEmpty(t, metrics.labels)
			for _, labels := range metrics.labels {
				assert.Equal(t, tt.want, labels["model"], "model label for %v", labels)
			}
		})
	}
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	wrapped := MetricsMiddleware(nil)(NewMockExecutor())

	_, err := wrapped.Invoke(context.Background(), testCall(domain.ProviderLocal, "http://localhost", "m"))
	assert.NoError(t, err, "a nil collector only disables recording")
}

func newRecordingTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	return recorder, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// TestTracingMiddleware_RecordsAttemptSpan tests that each attempt produces
// one span carrying the candidate and token counts.
func TestTracingMiddleware_RecordsAttemptSpan(t *testing.T) {
	recorder, tp := newRecordingTracer()
	wrapped := TracingMiddleware(tp.Tracer("test"))(NewMockExecutor())

	ctx := context.WithValue(context.Background(), testContextKey, "test-value")
	_, err := wrapped.Invoke(ctx, testCall(domain.ProviderCloud, "https://api.example", "gemini-pro"))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1, "one span per attempt")
	assert.Equal(t, "llm.attempt", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	model, ok := spanAttr(spans[0], "llm.model")
	require.True(t, ok)
	assert.Equal(t, "gemini-pro", model.AsString())
	tokens, ok := spanAttr(spans[0], "llm.tokens.output")
	require.True(t, ok)
	assert.Equal(t, int64(20), tokens.AsInt64())
}

// TestTracingMiddleware_RecordsFailure tests that failed attempts mark the
// span as an error with the failure kind and status.
func TestTracingMiddleware_RecordsFailure(t *testing.T) {
	recorder, tp := newRecordingTracer()
	mock := NewMockExecutor()
	mock.Error = domain.NewHTTPFailure(http.StatusNotFound, "no such model")
	wrapped := TracingMiddleware(tp.Tracer("test"))(mock)

	_, err := wrapped.Invoke(context.Background(), testCall(domain.ProviderCloud, "https://api.example", "gemini-x"))
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	status, ok := spanAttr(spans[0], "http.response.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(404), status.AsInt64())
	for _, kv := range spans[0].Attributes() {
		assert.NotContains(t, kv.Value.Emit(), "secret-key", "spans must not carry credentials")
	}
}

func TestTracingMiddleware_PreservesContext(t *testing.T) {
	mock := NewMockExecutor()
	wrapped := TracingMiddleware(nil)(mock)

	ctx := context.WithValue(context.Background(), testContextKey, "test-value")
	_, err := wrapped.Invoke(ctx, testCall(domain.ProviderLocal, "http://localhost", "m"))

	require.NoError(t, err)
	assert.Equal(t, "test-value", mock.LastContext.Value(testContextKey), "context values should pass through")
}

// TestRateLimitMiddleware_SharedBucket tests that executors wrapped by the
// same middleware draw from one bucket.
func TestRateLimitMiddleware_SharedBucket(t *testing.T) {
	mw := RateLimitMiddleware(rate.Every(time.Hour), 1)
	first := mw(NewMockExecutor())
	second := mw(NewMockExecutor())

	_, err := first.Invoke(context.Background(), testCall(domain.ProviderCloud, "https://api.example", "a"))
	require.NoError(t, err, "burst admits the first call")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = second.Invoke(ctx, testCall(domain.ProviderCloud, "https://api.example", "b"))

	require.Error(t, err, "the bucket is empty for the second executor")
	assert.Equal(t, domain.FailureTimeout, domain.AsRawFailure(err).Kind)
}

func TestRateLimitMiddleware_Cancelled(t *testing.T) {
	mock := NewMockExecutor()
	wrapped := RateLimitMiddleware(rate.Every(time.Hour), 1)(mock)
	_, _ = wrapped.Invoke(context.Background(), ports.ExecutorCall{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := wrapped.Invoke(ctx, ports.ExecutorCall{})

	require.Error(t, err)
	assert.Equal(t, domain.FailureCanceled, domain.AsRawFailure(err).Kind)
	assert.Equal(t, 1, mock.CallCount(), "a rejected call never reaches the provider")
}

// TestBudgetMiddleware tests budget defaults, clamping and expiry.
func TestBudgetMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		defaultB   time.Duration
		maxB       time.Duration
		budget     time.Duration
		wantBudget time.Duration
	}{
		{"explicit budget", time.Minute, 0, 3 * time.Second, 3 * time.Second},
		{"zero uses default", 7 * time.Second, 0, 0, 7 * time.Second},
		{"clamped to max", time.Minute, 5 * time.Second, 10 * time.Second, 5 * time.Second},
		{"no default falls back", 0, 0, 0, DefaultBudget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen time.Duration
			var deadline time.Time
			inner := ExecutorFunc(func(ctx context.Context, call ports.ExecutorCall) (domain.InvocationResult, error) {
				seen = call.Budget
				deadline, _ = ctx.Deadline()
				return domain.InvocationResult{}, nil
			})

			start := time.Now()
			_, err := BudgetMiddleware(tt.defaultB, tt.maxB)(inner).Invoke(context.Background(), ports.ExecutorCall{Budget: tt.budget})

			require.NoError(t, err)
			assert.Equal(t, tt.wantBudget, seen)
			assert.WithinDuration(t, start.Add(tt.wantBudget), deadline, 100*time.Millisecond)
		})
	}
}

func TestBudgetMiddleware_NormalizesErrors(t *testing.T) {
	inner := ExecutorFunc(func(ctx context.Context, call ports.ExecutorCall) (domain.InvocationResult, error) {
		return domain.InvocationResult{}, errors.New("socket closed")
	})

	_, err := BudgetMiddleware(time.Second, 0)(inner).Invoke(context.Background(), ports.ExecutorCall{})

	var f *domain.RawFailure
	require.ErrorAs(t, err, &f, "every executor error becomes a RawFailure")
	assert.Equal(t, domain.FailureTransport, f.Kind)
}

func TestBudgetMiddleware_Expiry(t *testing.T) {
	mock := NewMockExecutor()
	mock.ResponseDelay = time.Second

	start := time.Now()
	_, err := BudgetMiddleware(0, 0)(mock).Invoke(context.Background(), ports.ExecutorCall{Budget: 30 * time.Millisecond})

	require.Error(t, err)
	assert.Equal(t, domain.FailureTimeout, domain.AsRawFailure(err).Kind)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
