package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

const tracerName = "github.com/xalo2100/alfatechflow-sub001/infrastructure/llm"

// tracedExecutor opens one span per attempt.
type tracedExecutor struct {
	next   ports.Executor
	tracer trace.Tracer
}

// TracingMiddleware creates middleware that wraps each attempt in a span.
// A nil tracer uses the global provider.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return func(next ports.Executor) ports.Executor {
		return &tracedExecutor{next: next, tracer: tracer}
	}
}

// Invoke runs the call inside an "llm.attempt" span. Credentials and URLs
// are never recorded.
func (t *tracedExecutor) Invoke(ctx context.Context, call ports.ExecutorCall) (domain.InvocationResult, error) {
	ctx, span := t.tracer.Start(ctx, "llm.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", string(call.Target.Kind)),
			attribute.String("llm.model", call.Candidate.ModelName),
			attribute.String("llm.api_version", call.Candidate.APIVersion),
			attribute.String("llm.candidate.origin", call.Candidate.Origin.String()),
			attribute.Int("llm.messages", len(call.Request.Messages)),
			attribute.Bool("llm.json_mode", call.Request.JSONMode),
			attribute.Int64("llm.budget_ms", call.Budget.Milliseconds()),
		),
	)
	defer span.End()

	result, err := t.next.Invoke(ctx, call)
	if err != nil {
		f := domain.AsRawFailure(err)
		span.SetAttributes(attribute.String("llm.failure.kind", f.Kind.String()))
		if f.StatusCode != 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", f.StatusCode))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, f.Kind.String())
		return result, err
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", result.Usage.PromptTokens),
		attribute.Int("llm.tokens.output", result.Usage.CompletionTokens),
	)
	span.SetStatus(codes.Ok, "")
	return result, nil
}
