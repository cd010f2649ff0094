package llm

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// Registry holds one executor per provider kind and routes each call by
// the kind of its target. It implements ports.Executor, so the
// orchestrator stays provider-agnostic.
type Registry struct {
	mu        sync.RWMutex
	executors map[domain.ProviderKind]ports.Executor
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Kinds lists the provider kinds to build executors for. Empty means
	// every kind with a registered factory.
	Kinds []domain.ProviderKind

	// Executor is shared by every executor the registry builds.
	Executor ExecutorConfig

	// Overrides replaces the per-kind config entirely for the given kinds.
	Overrides map[domain.ProviderKind]ExecutorConfig
}

// NewRegistry builds an executor for each configured kind.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	kinds := config.Kinds
	if len(kinds) == 0 {
		kinds = RegisteredKinds()
	}

	r := &Registry{executors: make(map[domain.ProviderKind]ports.Executor, len(kinds))}
	for _, kind := range kinds {
		cfg := config.Executor
		if override, ok := config.Overrides[kind]; ok {
			cfg = override
		}
		exec, err := NewExecutor(kind, cfg)
		if err != nil {
			return nil, err
		}
		r.executors[kind] = exec
	}
	return r, nil
}

// Register installs exec for kind, replacing any existing executor. It is
// mainly useful for tests that substitute a mock.
func (r *Registry) Register(kind domain.ProviderKind, exec ports.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[kind] = exec
}

// Executor returns the executor for kind.
func (r *Registry) Executor(kind domain.ProviderKind) (ports.Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[kind]
	return exec, ok
}

// Kinds returns the provider kinds the registry can serve, sorted.
func (r *Registry) Kinds() []domain.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]domain.ProviderKind, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Invoke implements ports.Executor by delegating to the executor for the
// call's target kind.
func (r *Registry) Invoke(ctx context.Context, call ports.ExecutorCall) (domain.InvocationResult, error) {
	exec, ok := r.Executor(call.Target.Kind)
	if !ok {
		err := fmt.Errorf("%w: no executor for provider kind %q", domain.ErrInvalidConfiguration, call.Target.Kind)
		return domain.InvocationResult{}, &domain.RawFailure{Kind: domain.FailureUnknown, Message: err.Error(), Err: err}
	}
	return exec.Invoke(ctx, call)
}

// RegisteredKinds returns the kinds with a registered factory, sorted.
func RegisteredKinds() []domain.ProviderKind {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	kinds := make([]domain.ProviderKind, 0, len(executorFactories))
	for k := range executorFactories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

var _ ports.Executor = (*Registry)(nil)
