package application

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xalo2100/alfatechflow-sub001/infrastructure/catalog"
	"github.com/xalo2100/alfatechflow-sub001/infrastructure/llm"
	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// stubResolver returns a fixed credential or error and counts calls.
type stubResolver struct {
	mu    sync.Mutex
	cred  domain.Credential
	err   error
	calls int
	keys  []string
}

func (s *stubResolver) Resolve(_ context.Context, key string) (domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.keys = append(s.keys, key)
	return s.cred, s.err
}

type emptyPlanner struct{}

func (emptyPlanner) Plan(context.Context, domain.ProviderIdentity, domain.InvocationRequest) []domain.ModelCandidate {
	return nil
}

// countingDiscoverer records Discover calls and returns a fixed list.
type countingDiscoverer struct {
	mu     sync.Mutex
	result []domain.ModelCandidate
	calls  int
}

func (c *countingDiscoverer) Discover(_ context.Context, _ domain.ProviderIdentity) []domain.ModelCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.result
}

// recordingCollector is a minimal ports.MetricsCollector.
type recordingCollector struct {
	mu       sync.Mutex
	counters map[string][]map[string]string
	latency  []string
	gauges   map[string]float64
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{counters: map[string][]map[string]string{}, gauges: map[string]float64{}}
}

func (r *recordingCollector) RecordLatency(op string, _ time.Duration, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latency = append(r.latency, op)
}

func (r *recordingCollector) RecordCounter(metric string, _ float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[metric] = append(r.counters[metric], labels)
}

func (r *recordingCollector) RecordGauge(metric string, v float64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[metric] = v
}

func (r *recordingCollector) RecordHistogram(string, float64, map[string]string) {}

var _ ports.MetricsCollector = (*recordingCollector)(nil)

type gatewayFixture struct {
	gateway    *Gateway
	resolver   *stubResolver
	discoverer *countingDiscoverer
	exec       *llm.MockExecutor
	metrics    *recordingCollector
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	f := &gatewayFixture{
		resolver:   &stubResolver{cred: domain.Credential{Value: "secret", Source: domain.SourceEncryptedStore}},
		discoverer: &countingDiscoverer{},
		exec:       llm.NewMockExecutor(),
		metrics:    newRecordingCollector(),
	}
	planner := catalog.NewPlanner(catalog.PlannerConfig{Discoverer: f.discoverer})
	gw, err := NewGateway(GatewayOptions{
		Endpoints: map[domain.ProviderKind]ProviderEndpoint{
			domain.ProviderCloud: {BaseURL: "https://cloud.example", CredentialKey: "gemini_api_key"},
			domain.ProviderLocal: {BaseURL: "http://localhost:1234/api/chat", CredentialKey: "local_ai_api_key"},
		},
		AttemptBudget:   time.Second,
		OverallDeadline: 5 * time.Second,
	}, Dependencies{
		Resolver:  f.resolver,
		Planner:   planner,
		Executor:  f.exec,
		Suggester: planner,
		Metrics:   f.metrics,
	})
	require.NoError(t, err)
	f.gateway = gw
	return f
}

func TestNewGateway_Validation(t *testing.T) {
	exec := llm.NewMockExecutor()
	planner := catalog.NewPlanner(catalog.PlannerConfig{})
	endpoints := map[domain.ProviderKind]ProviderEndpoint{
		domain.ProviderCloud: {BaseURL: "https://cloud.example", CredentialKey: "gemini_api_key"},
	}

	tests := []struct {
		name string
		opts GatewayOptions
		deps Dependencies
	}{
		{"missing resolver", GatewayOptions{Endpoints: endpoints}, Dependencies{Planner: planner, Executor: exec}},
		{"missing executor", GatewayOptions{Endpoints: endpoints}, Dependencies{Resolver: &stubResolver{}, Planner: planner}},
		{"no endpoints", GatewayOptions{}, Dependencies{Resolver: &stubResolver{}, Planner: planner, Executor: exec}},
		{"unknown kind", GatewayOptions{Endpoints: map[domain.ProviderKind]ProviderEndpoint{
			"azure": {BaseURL: "https://x", CredentialKey: "k"},
		}}, Dependencies{Resolver: &stubResolver{}, Planner: planner, Executor: exec}},
		{"endpoint without key", GatewayOptions{Endpoints: map[domain.ProviderKind]ProviderEndpoint{
			domain.ProviderCloud: {BaseURL: "https://x"},
		}}, Dependencies{Resolver: &stubResolver{}, Planner: planner, Executor: exec}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGateway(tt.opts, tt.deps)
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}

func TestDeadlineInputs_Compute(t *testing.T) {
	d := DeadlineInputs{
		CredentialTimeout: 5 * time.Second,
		APIVersions:       2,
		DiscoveryTimeout:  8 * time.Second,
		MaxCandidates:     8,
		Slack:             2 * time.Second,
	}

	assert.Equal(t, 503*time.Second, d.Compute(30*time.Second),
		"5s + 2×8s + 8×30s×2 + 2s")
}

func TestGateway_ComputedDeadline(t *testing.T) {
	gw, err := NewGateway(GatewayOptions{
		Endpoints: map[domain.ProviderKind]ProviderEndpoint{
			domain.ProviderCloud: {BaseURL: "https://cloud.example", CredentialKey: "gemini_api_key"},
		},
		AttemptBudget: 10 * time.Second,
		Deadline:      DeadlineInputs{CredentialTimeout: time.Second, APIVersions: 1, DiscoveryTimeout: time.Second, MaxCandidates: 2},
	}, Dependencies{Resolver: &stubResolver{}, Planner: catalog.NewPlanner(catalog.PlannerConfig{}), Executor: llm.NewMockExecutor()})
	require.NoError(t, err)

	assert.Equal(t, 42*time.Second, gw.Deadline())
}

func TestGateway_RejectsInvalidRequestsBeforeNetwork(t *testing.T) {
	tests := []struct {
		name string
		req  domain.InvocationRequest
	}{
		{"empty messages", domain.InvocationRequest{Provider: domain.ProviderCloud}},
		{"temperature above range", domain.InvocationRequest{
			Provider: domain.ProviderCloud, Temperature: 1.5,
			Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		}},
		{"negative temperature", domain.InvocationRequest{
			Provider: domain.ProviderCloud, Temperature: -0.1,
			Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		}},
		{"unknown provider", domain.InvocationRequest{
			Provider: "azure",
			Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGatewayFixture(t)

			_, err := f.gateway.Invoke(context.Background(), tt.req)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Zero(t, f.resolver.calls, "validation must precede credential resolution")
			assert.Zero(t, f.discoverer.calls)
			assert.Zero(t, f.exec.CallCount())
		})
	}
}

func TestGateway_UnconfiguredProvider(t *testing.T) {
	gw, err := NewGateway(GatewayOptions{
		Endpoints: map[domain.ProviderKind]ProviderEndpoint{
			domain.ProviderCloud: {BaseURL: "https://cloud.example", CredentialKey: "gemini_api_key"},
		},
	}, Dependencies{Resolver: &stubResolver{}, Planner: catalog.NewPlanner(catalog.PlannerConfig{}), Executor: llm.NewMockExecutor()})
	require.NoError(t, err)

	_, err = gw.Invoke(context.Background(), domain.InvocationRequest{
		Provider: domain.ProviderLocal,
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), `provider "local" is not configured`)
}

func TestGateway_Success(t *testing.T) {
	f := newGatewayFixture(t)

	result, err := f.gateway.Invoke(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, "test response", result.Content)
	assert.Equal(t, "gemini-2.0-flash", result.ModelUsed, "first static candidate wins")
	assert.Equal(t, []string{"gemini_api_key"}, f.resolver.keys)
	assert.Equal(t, 1, f.discoverer.calls)

	call := f.exec.Calls[0]
	assert.Equal(t, "secret", call.Target.Credential)
	assert.Equal(t, domain.SourceEncryptedStore, call.Target.CredentialSource)
	assert.Equal(t, time.Second, call.Budget)

	require.Len(t, f.metrics.counters[MetricInvocationsTotal], 1)
	assert.Equal(t, "success", f.metrics.counters[MetricInvocationsTotal][0]["outcome"])
	assert.Equal(t, []string{MetricInvocationLatency}, f.metrics.latency)
	assert.Equal(t, float64(4), f.metrics.gauges[MetricCandidates])
}

func TestGateway_EmptyDiscoveryTriesStaticList(t *testing.T) {
	f := newGatewayFixture(t)
	f.exec.Error = domain.NewHTTPFailure(404, "model not found")

	_, err := f.gateway.Invoke(context.Background(), testRequest())

	var cerr *domain.ClassifiedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, domain.KindNoUsableModel, cerr.Kind)
	assert.Equal(t,
		[]string{"gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro", "gemini-pro"},
		f.exec.CalledModels())
	assert.Len(t, cerr.Attempts, 4)
	for _, a := range cerr.Attempts {
		assert.Equal(t, "v1beta", a.Candidate.APIVersion)
		assert.Equal(t, domain.OriginStatic, a.Candidate.Origin)
	}
	assert.Equal(t, "no_usable_model", f.metrics.counters[MetricInvocationsTotal][0]["outcome"])
}

func TestGateway_DiscoveredCandidatesFirst(t *testing.T) {
	f := newGatewayFixture(t)
	f.discoverer.result = []domain.ModelCandidate{
		{APIVersion: "v1", ModelName: "gemini-1.5-pro", Origin: domain.OriginDiscovered},
	}
	f.exec.Error = domain.NewHTTPFailure(404, "model not found")

	_, err := f.gateway.Invoke(context.Background(), testRequest())

	require.Error(t, err)
	keys := make([]string, len(f.exec.Calls))
	for i, c := range f.exec.Calls {
		keys[i] = c.Candidate.Key()
	}
	assert.Equal(t, []string{
		"v1/gemini-1.5-pro",
		"v1beta/gemini-2.0-flash",
		"v1beta/gemini-1.5-flash",
		"v1beta/gemini-pro",
	}, keys, "the discovered model is tried first and its static guess is dropped")
	assert.Equal(t, domain.OriginDiscovered, f.exec.Calls[0].Candidate.Origin)
}

func TestGateway_ExplicitModelSingleAttempt(t *testing.T) {
	f := newGatewayFixture(t)
	f.exec.Error = domain.NewHTTPFailure(404, "model not found")
	req := testRequest()
	req.Model = "gemini-1.5-flsh"

	_, err := f.gateway.Invoke(context.Background(), req)

	var cerr *domain.ClassifiedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 1, f.exec.CallCount(), "an explicit model is never followed by fallback")
	assert.Zero(t, f.discoverer.calls, "an explicit model skips discovery")
	assert.Equal(t, domain.KindNoUsableModel, cerr.Kind)
	assert.Equal(t, domain.OriginExplicit, cerr.Attempts[0].Candidate.Origin)
	assert.Contains(t, cerr.Message, `Did you mean "gemini-1.5-flash"?`)
}

func TestGateway_ExplicitModelFailureReportedImmediately(t *testing.T) {
	f := newGatewayFixture(t)
	f.exec.Error = domain.NewHTTPFailure(429, "quota exceeded")
	req := testRequest()
	req.Model = "gemini-2.0-flash"

	_, err := f.gateway.Invoke(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Equal(t, 1, f.exec.CallCount())
}

func TestGateway_CloudCredentialFailuresShortCircuit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing", domain.NewClassifiedError(domain.KindMissingCredential, "", "", nil, nil), domain.ErrMissingCredential},
		{"decryption", domain.NewClassifiedError(domain.KindDecryptionFailed, "", "", nil, errors.New("cipher: message authentication failed")), domain.ErrDecryptionFailed},
		{"unclassified", errors.New("resolver exploded"), domain.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGatewayFixture(t)
			f.resolver.cred = domain.Credential{Source: domain.SourceNone}
			f.resolver.err = tt.err

			_, err := f.gateway.Invoke(context.Background(), testRequest())

			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, f.discoverer.calls, "credential errors bypass discovery")
			assert.Zero(t, f.exec.CallCount(), "credential errors bypass invocation")
		})
	}
}

func TestGateway_EmptyCloudCredentialIsMissing(t *testing.T) {
	f := newGatewayFixture(t)
	f.resolver.cred = domain.Credential{Source: domain.SourceEnvironment}

	_, err := f.gateway.Invoke(context.Background(), testRequest())

	assert.ErrorIs(t, err, domain.ErrMissingCredential)
	assert.Zero(t, f.exec.CallCount())
}

func TestGateway_LocalRunsWithoutCredential(t *testing.T) {
	f := newGatewayFixture(t)
	f.resolver.cred = domain.Credential{Source: domain.SourceNone}
	f.resolver.err = domain.NewClassifiedError(domain.KindMissingCredential, "", "", nil, nil)
	req := testRequest()
	req.Provider = domain.ProviderLocal

	result, err := f.gateway.Invoke(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, catalog.DefaultLocalModel, result.ModelUsed)
	assert.Equal(t, []string{"local_ai_api_key"}, f.resolver.keys)
	require.Len(t, f.exec.Calls, 1)
	call := f.exec.Calls[0]
	assert.Empty(t, call.Target.Credential)
	assert.Equal(t, "http://localhost:1234/api/chat", call.Target.BaseURL)
	assert.Equal(t, domain.OriginFixed, call.Candidate.Origin)
}

func TestGateway_LocalDecryptionFailureStillFails(t *testing.T) {
	f := newGatewayFixture(t)
	f.resolver.err = domain.NewClassifiedError(domain.KindDecryptionFailed, "", "", nil, nil)
	req := testRequest()
	req.Provider = domain.ProviderLocal

	_, err := f.gateway.Invoke(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
	assert.Zero(t, f.exec.CallCount())
}

func TestGateway_OverallDeadline(t *testing.T) {
	exec := llm.NewMockExecutor()
	exec.ResponseDelay = time.Second
	gw, err := NewGateway(GatewayOptions{
		Endpoints: map[domain.ProviderKind]ProviderEndpoint{
			domain.ProviderCloud: {BaseURL: "https://cloud.example", CredentialKey: "gemini_api_key"},
		},
		AttemptBudget:   time.Second,
		OverallDeadline: 50 * time.Millisecond,
	}, Dependencies{
		Resolver: &stubResolver{cred: domain.Credential{Value: "secret", Source: domain.SourceEnvironment}},
		Planner:  catalog.NewPlanner(catalog.PlannerConfig{}),
		Executor: exec,
	})
	require.NoError(t, err)

	_, err = gw.Invoke(context.Background(), testRequest())

	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, 1, exec.CallCount(), "the deadline stops the candidate loop")
}

func TestGateway_EmptyPlanFailsCleanly(t *testing.T) {
	var logs bytes.Buffer
	exec := llm.NewMockExecutor()
	gw, err := NewGateway(GatewayOptions{
		Endpoints: map[domain.ProviderKind]ProviderEndpoint{
			domain.ProviderCloud: {BaseURL: "https://cloud.example", CredentialKey: "gemini_api_key"},
		},
		AttemptBudget: time.Second,
	}, Dependencies{
		Resolver: &stubResolver{cred: domain.Credential{Value: "secret", Source: domain.SourceEnvironment}},
		Planner:  emptyPlanner{},
		Executor: exec,
		Logger:   slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	require.NoError(t, err)

	_, err = gw.Invoke(context.Background(), testRequest())

	var cerr *domain.ClassifiedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, domain.KindNoUsableModel, cerr.Kind)
	assert.Empty(t, cerr.Attempts)
	assert.Zero(t, exec.CallCount())
	assert.NotContains(t, logs.String(), "state machine violated")
	assert.NotContains(t, logs.String(), "level=ERROR")
}

func TestGateway_RequestID(t *testing.T) {
	f := newGatewayFixture(t)

	ctx := ContextWithRequestID(context.Background(), "req-123")
	_, err := f.gateway.Invoke(ctx, testRequest())
	require.NoError(t, err)

	id, ok := RequestIDFromContext(f.exec.LastContext)
	require.True(t, ok)
	assert.Equal(t, "req-123", id, "an incoming request ID is reused")

	_, err = f.gateway.Invoke(context.Background(), testRequest())
	require.NoError(t, err)
	id, ok = RequestIDFromContext(f.exec.LastContext)
	require.True(t, ok)
	_, err = uuid.Parse(id)
	assert.NoError(t, err, "a missing request ID is generated")
}

func TestGateway_Plan(t *testing.T) {
	f := newGatewayFixture(t)

	cands, err := f.gateway.Plan(context.Background(), domain.ProviderCloud, "")
	require.NoError(t, err)
	assert.Len(t, cands, 4)
	assert.Zero(t, f.exec.CallCount(), "planning never invokes")

	cands, err = f.gateway.Plan(context.Background(), domain.ProviderCloud, "models/gemini-exp")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "gemini-exp", cands[0].ModelName)

	_, err = f.gateway.Plan(context.Background(), "azure", "")
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestGateway_ConcurrentInvocations(t *testing.T) {
	f := newGatewayFixture(t)
	f.exec.FailModel("gemini-2.0-flash", domain.NewHTTPFailure(404, "not found"))

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.gateway.Invoke(context.Background(), testRequest())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 32, f.exec.CallCount(), "each invocation tries two candidates")
}
