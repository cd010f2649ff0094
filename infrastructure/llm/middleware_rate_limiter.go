package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// rateLimitedExecutor paces calls with a token bucket shared by every
// executor the middleware wraps.
type rateLimitedExecutor struct {
	next    ports.Executor
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that waits for a token before each
// call. The limit is requests per second and burst allows short spikes. A
// wait that cannot finish within the call's deadline fails the attempt as a
// timeout without reaching the provider.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)

	return func(next ports.Executor) ports.Executor {
		return &rateLimitedExecutor{
			next:    next,
			limiter: limiter,
		}
	}
}

// Invoke blocks until the limiter admits the call or ctx ends.
func (r *rateLimitedExecutor) Invoke(ctx context.Context, call ports.ExecutorCall) (domain.InvocationResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() == context.Canceled {
			return domain.InvocationResult{}, domain.NewTransportFailure(ctx.Err())
		}
		// Wait also fails early when the deadline leaves no room for a token.
		return domain.InvocationResult{}, &domain.RawFailure{
			Kind:    domain.FailureTimeout,
			Message: "rate limit wait exceeds deadline",
			Err:     err,
		}
	}
	return r.next.Invoke(ctx, call)
}
