package llm

import (
	"context"
	"time"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// DefaultBudget applies to calls that carry no budget of their own.
const DefaultBudget = 30 * time.Second

// budgetExecutor enforces the per-call budget. On expiry the in-flight
// request is cancelled through its context and reported as a timeout.
type budgetExecutor struct {
	next          ports.Executor
	defaultBudget time.Duration
	maxBudget     time.Duration
}

// BudgetMiddleware bounds every call by its budget. Calls without a budget
// get defaultBudget; budgets above maxBudget are clamped when maxBudget is
// positive.
func BudgetMiddleware(defaultBudget, maxBudget time.Duration) Middleware {
	return func(next ports.Executor) ports.Executor {
		return &budgetExecutor{
			next:          next,
			defaultBudget: defaultBudget,
			maxBudget:     maxBudget,
		}
	}
}

// Invoke runs the wrapped executor under a context that expires with the
// call budget.
func (b *budgetExecutor) Invoke(ctx context.Context, call ports.ExecutorCall) (domain.InvocationResult, error) {
	call.Budget = b.effective(call.Budget)

	ctx, cancel := context.WithTimeout(ctx, call.Budget)
	defer cancel()

	result, err := b.next.Invoke(ctx, call)
	if err != nil {
		return result, domain.AsRawFailure(err)
	}
	return result, nil
}

func (b *budgetExecutor) effective(budget time.Duration) time.Duration {
	if budget <= 0 {
		budget = b.defaultBudget
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	if b.maxBudget > 0 && budget > b.maxBudget {
		budget = b.maxBudget
	}
	return budget
}
