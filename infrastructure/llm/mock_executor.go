package llm

import (
	"context"
	"sync"
	"time"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// MockExecutor is a configurable ports.Executor for tests. Outcomes can be
// scripted per model name; calls are recorded in order.
type MockExecutor struct {
	mu sync.Mutex

	// Result is returned for models without a scripted outcome.
	Result domain.InvocationResult
	// Error, when set, is returned for models without a scripted outcome.
	Error error
	// Outcomes maps a model name to the error it fails with. A nil entry
	// means success with Result.
	Outcomes map[string]error
	// ResponseDelay delays each call unless ctx ends first.
	ResponseDelay time.Duration

	// Calls records every call in invocation order.
	Calls       []ports.ExecutorCall
	LastContext context.Context
}

// NewMockExecutor returns a mock that succeeds with a fixed result.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		Result: domain.InvocationResult{
			Content: "test response",
			Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		},
		Outcomes: make(map[string]error),
	}
}

// FailModel scripts model to fail with err.
func (m *MockExecutor) FailModel(model string, err error) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outcomes[model] = err
	return m
}

// Invoke implements ports.Executor.
func (m *MockExecutor) Invoke(ctx context.Context, call ports.ExecutorCall) (domain.InvocationResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	m.LastContext = ctx
	delay := m.ResponseDelay
	scripted, hasScript := m.Outcomes[call.Candidate.ModelName]
	result, fallbackErr := m.Result, m.Error
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return domain.InvocationResult{}, domain.NewTransportFailure(ctx.Err())
		}
	}

	err := fallbackErr
	if hasScript {
		err = scripted
	}
	if err != nil {
		return domain.InvocationResult{}, err
	}
	if result.ModelUsed == "" {
		result.ModelUsed = call.Candidate.ModelName
	}
	return result, nil
}

// CallCount returns the number of calls made so far.
func (m *MockExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// CalledModels returns the model names in invocation order.
func (m *MockExecutor) CalledModels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.Candidate.ModelName
	}
	return out
}

// Reset clears recorded calls while keeping the configuration.
func (m *MockExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.LastContext = nil
}

var _ ports.Executor = (*MockExecutor)(nil)
