// Package llm performs single, bounded calls against the gateway's AI
// providers and normalizes their answers into domain results.
//
// Executors never retry in place and never pick another model: trying the
// next candidate is the orchestrator's decision. Each call runs under the
// budget carried by its ports.ExecutorCall, and every failure is returned as
// a *domain.RawFailure so the error classifier sees one shape regardless of
// provider.
//
// Cross-cutting concerns are added with the middleware pattern:
//
//	exec, err := llm.NewExecutor(domain.ProviderCloud, llm.ExecutorConfig{
//	    DefaultBudget: 20 * time.Second,
//	    Middleware: []llm.Middleware{
//	        llm.TracingMiddleware(tracer),
//	        llm.MetricsMiddleware(collector),
//	    },
//	})
//	result, err := exec.Invoke(ctx, ports.ExecutorCall{...})
//
// A Registry holds one executor per provider kind and dispatches each call
// by the kind of its target.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// TokenEstimator approximates token counts for providers that omit usage
// data from their responses.
type TokenEstimator interface {
	// EstimateTokens returns an approximate token count for text.
	EstimateTokens(text string) int
}

// ExecutorConfig holds the options shared by all executors.
type ExecutorConfig struct {
	// HTTPClient performs the provider calls. Request deadlines come from
	// call budgets, so the client should not set its own Timeout.
	HTTPClient *http.Client

	// DefaultBudget applies to calls that carry no budget.
	DefaultBudget time.Duration

	// MaxBudget caps every call budget. Zero means no cap.
	MaxBudget time.Duration

	// AlternatePath is the path the local executor retries once when the
	// configured completion URL answers 404.
	AlternatePath string

	// TokenEstimator fills in usage when a provider omits it.
	// If nil, a character-based estimator is used.
	TokenEstimator TokenEstimator

	Logger *slog.Logger

	// Middleware wraps the executor. The first entry is the outermost.
	Middleware []Middleware
}

// Middleware wraps an executor to add cross-cutting behavior such as
// metrics or tracing without touching provider code.
type Middleware func(ports.Executor) ports.Executor

// ExecutorFunc adapts a function to ports.Executor.
type ExecutorFunc func(ctx context.Context, call ports.ExecutorCall) (domain.InvocationResult, error)

// Invoke calls f.
func (f ExecutorFunc) Invoke(ctx context.Context, call ports.ExecutorCall) (domain.InvocationResult, error) {
	return f(ctx, call)
}

// ExecutorFactory creates the core executor for one provider kind.
type ExecutorFactory func(ExecutorConfig) (ports.Executor, error)

var (
	factoriesMu       sync.RWMutex
	executorFactories = map[domain.ProviderKind]ExecutorFactory{}
)

// RegisterExecutorFactory registers the factory used by NewExecutor for
// kind. Registering a kind twice replaces the earlier factory.
func RegisterExecutorFactory(kind domain.ProviderKind, factory ExecutorFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	executorFactories[kind] = factory
}

func executorFactory(kind domain.ProviderKind) (ExecutorFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := executorFactories[kind]
	return f, ok
}

// NewExecutor builds the executor for kind, wrapped in the configured
// middleware. Budget enforcement is always the outermost layer so that time
// spent in middleware, such as waiting on a rate limiter, counts against the
// call budget.
func NewExecutor(kind domain.ProviderKind, config ExecutorConfig) (ports.Executor, error) {
	factory, ok := executorFactory(kind)
	if !ok {
		return nil, fmt.Errorf("%w: no executor for provider kind %q", domain.ErrInvalidConfiguration, kind)
	}

	config = config.withDefaults()
	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s executor: %w", kind, err)
	}

	// Apply middleware in reverse order so the first middleware is the outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}
	return BudgetMiddleware(config.DefaultBudget, config.MaxBudget)(core), nil
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.DefaultBudget <= 0 {
		c.DefaultBudget = DefaultBudget
	}
	if c.AlternatePath == "" {
		c.AlternatePath = DefaultAlternatePath
	}
	if c.TokenEstimator == nil {
		c.TokenEstimator = NewCharacterBasedTokenEstimator(DefaultCharsPerToken)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
