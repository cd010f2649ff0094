// Package application wires the gateway's components into the single
// caller-facing entry point and holds the rules that do not depend on any
// particular provider: the fallback loop, error classification and
// configuration.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// Metric names recorded by the gateway.
const (
	MetricInvocationsTotal  = "gateway_invocations_total"
	MetricInvocationLatency = "gateway_invoke"
	MetricCandidates        = "gateway_candidates"
)

// ProviderEndpoint is the static part of a provider identity.
type ProviderEndpoint struct {
	// BaseURL is the vendor host for cloud providers and the full
	// completion URL for local providers.
	BaseURL       string
	CredentialKey string
}

// ModelSuggester offers a close known model name for an unknown one.
type ModelSuggester interface {
	Suggest(ctx context.Context, target domain.ProviderIdentity, model string) string
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	Endpoints map[domain.ProviderKind]ProviderEndpoint
	// AttemptBudget is the per-candidate deadline.
	AttemptBudget time.Duration
	// OverallDeadline wraps one invocation. Zero selects Deadline.Compute.
	OverallDeadline time.Duration
	// Deadline holds the inputs of a computed overall deadline.
	Deadline DeadlineInputs
}

// DeadlineInputs are the suspension points bounded by a computed overall
// deadline.
type DeadlineInputs struct {
	CredentialTimeout time.Duration
	APIVersions       int
	DiscoveryTimeout  time.Duration
	MaxCandidates     int
	Slack             time.Duration
}

// Compute returns credential timeout + versions × discovery timeout +
// candidates × attempt budget × 2 + slack. The factor of two covers the
// local alternate-path sub-attempt.
func (d DeadlineInputs) Compute(attemptBudget time.Duration) time.Duration {
	return d.CredentialTimeout +
		time.Duration(d.APIVersions)*d.DiscoveryTimeout +
		time.Duration(d.MaxCandidates)*attemptBudget*2 +
		d.Slack
}

// Dependencies are the collaborators of a Gateway.
type Dependencies struct {
	Resolver   ports.CredentialResolver
	Planner    ports.CandidatePlanner
	Executor   ports.Executor
	Classifier ports.ErrorClassifier
	// Suggester is optional. When set, an explicit model that ends in
	// NoUsableModel gets a "did you mean" hint.
	Suggester ModelSuggester
	// Metrics is optional.
	Metrics ports.MetricsCollector
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

// Gateway is the caller-facing facade. It validates the request, resolves
// the credential, plans candidates and hands them to the orchestrator,
// driving one InvocationState per call. A Gateway holds no per-request
// state and is safe for concurrent use.
type Gateway struct {
	endpoints    map[domain.ProviderKind]ProviderEndpoint
	budget       time.Duration
	deadline     time.Duration
	resolver     ports.CredentialResolver
	planner      ports.CandidatePlanner
	orchestrator *Orchestrator
	suggester    ModelSuggester
	metrics      ports.MetricsCollector
	tracer       trace.Tracer
	logger       *slog.Logger
}

// NewGateway validates its inputs and returns a Gateway.
func NewGateway(opts GatewayOptions, deps Dependencies) (*Gateway, error) {
	if deps.Resolver == nil || deps.Planner == nil || deps.Executor == nil {
		return nil, fmt.Errorf("%w: gateway requires a resolver, a planner and an executor",
			domain.ErrInvalidConfiguration)
	}
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: no provider endpoints configured", domain.ErrInvalidConfiguration)
	}
	for kind, ep := range opts.Endpoints {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: unknown provider kind %q", domain.ErrInvalidConfiguration, kind)
		}
		if ep.BaseURL == "" || ep.CredentialKey == "" {
			return nil, fmt.Errorf("%w: provider %s needs a base URL and a credential key",
				domain.ErrInvalidConfiguration, kind)
		}
	}
	if opts.AttemptBudget <= 0 {
		opts.AttemptBudget = 30 * time.Second
	}
	deadline := opts.OverallDeadline
	if deadline <= 0 {
		deadline = opts.Deadline.Compute(opts.AttemptBudget)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/xalo2100/alfatechflow-sub001/internal/application")
	}

	endpoints := make(map[domain.ProviderKind]ProviderEndpoint, len(opts.Endpoints))
	for k, v := range opts.Endpoints {
		endpoints[k] = v
	}
	return &Gateway{
		endpoints:    endpoints,
		budget:       opts.AttemptBudget,
		deadline:     deadline,
		resolver:     deps.Resolver,
		planner:      deps.Planner,
		orchestrator: NewOrchestrator(deps.Executor, deps.Classifier, deps.Logger),
		suggester:    deps.Suggester,
		metrics:      deps.Metrics,
		tracer:       deps.Tracer,
		logger:       deps.Logger,
	}, nil
}

// Deadline returns the overall deadline applied to each invocation.
func (g *Gateway) Deadline() time.Duration { return g.deadline }

// Invoke implements ports.Gateway.
func (g *Gateway) Invoke(ctx context.Context, req domain.InvocationRequest) (domain.InvocationResult, error) {
	ctx, requestID := ensureRequestID(ctx)
	logger := g.logger.With(slog.String("request_id", requestID), slog.String("provider", string(req.Provider)))

	if err := req.Validate(); err != nil {
		logger.InfoContext(ctx, "invocation rejected", "error", err)
		return domain.InvocationResult{}, err
	}
	endpoint, ok := g.endpoints[req.Provider]
	if !ok {
		verr := domain.NewValidationError("InvocationRequest")
		verr.AddError(fmt.Sprintf("provider %q is not configured", req.Provider))
		return domain.InvocationResult{}, verr
	}

	ctx, cancel := context.WithTimeout(ctx, g.deadline)
	defer cancel()

	ctx, span := g.tracer.Start(ctx, "gateway.Invoke",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("gateway.request_id", requestID),
			attribute.String("gateway.provider", string(req.Provider)),
			attribute.Bool("gateway.explicit_model", req.HasExplicitModel()),
			attribute.Int("gateway.messages", len(req.Messages)),
		))
	defer span.End()

	start := time.Now()
	result, cerr := g.invoke(ctx, logger, endpoint, req)
	g.record(req.Provider, cerr, time.Since(start))

	if cerr != nil {
		span.SetAttributes(attribute.String("gateway.error_kind", cerr.Kind.String()),
			attribute.Int("gateway.attempts", len(cerr.Attempts)))
		span.RecordError(cerr)
		span.SetStatus(codes.Error, cerr.Kind.String())
		logger.WarnContext(ctx, "invocation failed",
			slog.String("kind", cerr.Kind.String()),
			slog.Int("attempts", len(cerr.Attempts)),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("detail", cerr.RawDetail))
		return domain.InvocationResult{}, cerr
	}

	span.SetAttributes(attribute.String("gateway.model_used", result.ModelUsed),
		attribute.Int("gateway.tokens.total", result.Usage.TotalTokens))
	span.SetStatus(codes.Ok, "")
	logger.InfoContext(ctx, "invocation succeeded",
		slog.String("model", result.ModelUsed),
		slog.Int("total_tokens", result.Usage.TotalTokens),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (g *Gateway) invoke(
	ctx context.Context,
	logger *slog.Logger,
	endpoint ProviderEndpoint,
	req domain.InvocationRequest,
) (domain.InvocationResult, *domain.ClassifiedError) {
	state := domain.NewInvocationState()
	fail := func(cerr *domain.ClassifiedError) (domain.InvocationResult, *domain.ClassifiedError) {
		g.transition(ctx, logger, state, domain.PhaseFailed)
		return domain.InvocationResult{}, cerr
	}

	g.transition(ctx, logger, state, domain.PhaseResolvingCredential)
	target, cerr := g.resolve(ctx, logger, endpoint, req.Provider)
	if cerr != nil {
		return fail(cerr)
	}

	g.transition(ctx, logger, state, domain.PhaseDiscovering)
	candidates := g.planner.Plan(ctx, target, req)
	if g.metrics != nil {
		g.metrics.RecordGauge(MetricCandidates, float64(len(candidates)),
			map[string]string{"provider": string(req.Provider)})
	}
	logger.DebugContext(ctx, "candidates planned",
		slog.Int("count", len(candidates)), slog.Any("candidates", candidateNames(candidates)))
	trace.SpanFromContext(ctx).AddEvent("candidates planned",
		trace.WithAttributes(attribute.StringSlice("candidates", candidateNames(candidates))))

	result, cerr := g.orchestrator.Run(ctx, Invocation{
		Target:     target,
		Candidates: candidates,
		Request:    req,
		Budget:     g.budget,
		State:      state,
		Logger:     logger,
	})
	if cerr != nil {
		if cerr.Kind == domain.KindNoUsableModel && req.HasExplicitModel() {
			cerr = g.withSuggestion(ctx, target, req.Model, cerr)
		}
		return fail(cerr)
	}

	g.transition(ctx, logger, state, domain.PhaseSucceeded)
	return result, nil
}

// resolve builds the provider identity. A cloud provider without a
// credential fails fast; a local provider may run without one.
func (g *Gateway) resolve(
	ctx context.Context,
	logger *slog.Logger,
	endpoint ProviderEndpoint,
	kind domain.ProviderKind,
) (domain.ProviderIdentity, *domain.ClassifiedError) {
	target := domain.ProviderIdentity{Kind: kind, BaseURL: endpoint.BaseURL, CredentialSource: domain.SourceNone}

	cred, err := g.resolver.Resolve(ctx, endpoint.CredentialKey)
	if err != nil {
		var cerr *domain.ClassifiedError
		if !errors.As(err, &cerr) {
			cerr = domain.NewClassifiedError(domain.KindUnknown, "", err.Error(), nil, err)
		}
		if cerr.Kind == domain.KindMissingCredential && !target.RequiresCredential() {
			logger.DebugContext(ctx, "no credential for provider, continuing without one")
			return target, nil
		}
		return target, cerr
	}

	target.Credential = cred.Value
	target.CredentialSource = cred.Source
	logger.DebugContext(ctx, "credential selected", slog.String("source", string(cred.Source)))
	if !target.Invokable() {
		return target, domain.NewClassifiedError(domain.KindMissingCredential, "",
			fmt.Sprintf("provider %s has no usable credential", target), nil, nil)
	}
	return target, nil
}

func (g *Gateway) withSuggestion(
	ctx context.Context,
	target domain.ProviderIdentity,
	model string,
	cerr *domain.ClassifiedError,
) *domain.ClassifiedError {
	if g.suggester == nil {
		return cerr
	}
	hint := g.suggester.Suggest(ctx, target, model)
	if hint == "" {
		return cerr
	}
	msg := fmt.Sprintf("%s Did you mean %q?", cerr.Message, hint)
	return domain.NewClassifiedError(cerr.Kind, msg, cerr.RawDetail, cerr.Attempts, cerr.Cause)
}

// transition logs illegal moves; they indicate a bug in the facade, never
// a provider problem, so the invocation itself is not failed for them.
func (g *Gateway) transition(ctx context.Context, logger *slog.Logger, state *domain.InvocationState, to domain.Phase) {
	if err := state.Transition(to); err != nil {
		logger.ErrorContext(ctx, "invocation state machine violated", "error", err)
	}
}

func (g *Gateway) record(kind domain.ProviderKind, cerr *domain.ClassifiedError, elapsed time.Duration) {
	if g.metrics == nil {
		return
	}
	outcome := "success"
	if cerr != nil {
		outcome = cerr.Kind.String()
	}
	labels := map[string]string{"provider": string(kind), "outcome": outcome}
	g.metrics.RecordCounter(MetricInvocationsTotal, 1, labels)
	g.metrics.RecordLatency(MetricInvocationLatency, elapsed, labels)
}

// Plan returns the candidates an invocation of kind would try, without
// invoking any of them. Discovery may run; credential problems are
// returned as *domain.ClassifiedError.
func (g *Gateway) Plan(ctx context.Context, kind domain.ProviderKind, model string) ([]domain.ModelCandidate, error) {
	endpoint, ok := g.endpoints[kind]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q is not configured", domain.ErrInvalidConfiguration, kind)
	}
	ctx, requestID := ensureRequestID(ctx)
	logger := g.logger.With(slog.String("request_id", requestID), slog.String("provider", string(kind)))

	ctx, cancel := context.WithTimeout(ctx, g.deadline)
	defer cancel()

	target, cerr := g.resolve(ctx, logger, endpoint, kind)
	if cerr != nil {
		return nil, cerr
	}
	return g.planner.Plan(ctx, target, domain.InvocationRequest{Provider: kind, Model: model}), nil
}

func candidateNames(candidates []domain.ModelCandidate) []string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.String()
	}
	return names
}

type requestIDKey struct{}

// ContextWithRequestID attaches id to ctx. The gateway reuses it instead of
// generating a new one.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID attached to ctx, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

func ensureRequestID(ctx context.Context) (context.Context, string) {
	if id, ok := RequestIDFromContext(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return ContextWithRequestID(ctx, id), id
}

var _ ports.Gateway = (*Gateway)(nil)
