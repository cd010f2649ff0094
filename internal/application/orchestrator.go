package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// Invocation is one run of the fallback loop.
type Invocation struct {
	Target     domain.ProviderIdentity
	Candidates []domain.ModelCandidate
	Request    domain.InvocationRequest
	// Budget is the per-attempt deadline handed to the executor.
	Budget time.Duration
	// State, when set, is advanced to Invoking(i) before attempt i.
	State *domain.InvocationState
	// Logger, when set, replaces the orchestrator's logger for this run.
	Logger *slog.Logger
}

// Orchestrator tries candidates strictly in order until one succeeds. It is
// provider-agnostic: the executor decides how a candidate is addressed.
type Orchestrator struct {
	executor   ports.Executor
	classifier ports.ErrorClassifier
	logger     *slog.Logger
}

// NewOrchestrator returns an orchestrator. A nil classifier selects the
// default Classifier.
func NewOrchestrator(executor ports.Executor, classifier ports.ErrorClassifier, logger *slog.Logger) *Orchestrator {
	if classifier == nil {
		classifier = NewClassifier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{executor: executor, classifier: classifier, logger: logger}
}

// Run invokes candidates sequentially. The first success is returned
// immediately; every failure before it is recorded against its candidate.
// When the list is exhausted, or the context ends, the record is handed to
// the classifier. A cancelled or expired context never starts another
// candidate.
func (o *Orchestrator) Run(ctx context.Context, inv Invocation) (domain.InvocationResult, *domain.ClassifiedError) {
	logger := inv.Logger
	if logger == nil {
		logger = o.logger
	}
	if len(inv.Candidates) == 0 {
		return domain.InvocationResult{}, domain.NewClassifiedError(
			domain.KindNoUsableModel, "", "candidate list is empty", nil, nil)
	}

	attempts := make([]domain.Attempt, 0, len(inv.Candidates))
	for i, cand := range inv.Candidates {
		if err := ctx.Err(); err != nil {
			if len(attempts) == 0 {
				return domain.InvocationResult{}, domain.NewClassifiedError(domain.KindUnavailable, "",
					"request ended before any candidate was invoked: "+err.Error(), nil, err)
			}
			break
		}
		if inv.State != nil {
			if err := inv.State.Invoke(i); err != nil {
				return domain.InvocationResult{}, domain.NewClassifiedError(
					domain.KindUnknown, "", err.Error(), attempts, err)
			}
		}

		start := time.Now()
		result, err := o.executor.Invoke(ctx, ports.ExecutorCall{
			Target:    inv.Target,
			Candidate: cand,
			Request:   inv.Request,
			Budget:    inv.Budget,
		})
		if err == nil {
			logger.DebugContext(ctx, "candidate succeeded",
				slog.Int("index", i),
				slog.String("candidate", cand.String()),
				slog.Duration("elapsed", time.Since(start)))
			return result, nil
		}

		failure := domain.AsRawFailure(err)
		attempts = append(attempts, domain.Attempt{Candidate: cand, Failure: failure})
		logger.WarnContext(ctx, "candidate failed",
			slog.Int("index", i),
			slog.Int("of", len(inv.Candidates)),
			slog.String("candidate", cand.String()),
			slog.String("origin", cand.Origin.String()),
			slog.String("failure", failure.Kind.String()),
			slog.Int("status", failure.StatusCode),
			slog.Duration("elapsed", time.Since(start)),
			"error", failure)

		if ctx.Err() != nil {
			break
		}
	}

	cerr := o.classifier.Classify(attempts)
	if cerr == nil {
		cerr = domain.NewClassifiedError(domain.KindUnknown, "",
			fmt.Sprintf("%d candidate(s) failed", len(attempts)), attempts, nil)
	}
	return domain.InvocationResult{}, cerr
}
