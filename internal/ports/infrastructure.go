package ports

import (
	"context"
	"time"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
)

// Gateway is the single caller-facing entry point.
type Gateway interface {
	// Invoke runs one invocation end to end. On failure the error is a
	// *domain.ClassifiedError, or a *domain.ValidationError when the
	// request was rejected before any network activity.
	Invoke(ctx context.Context, req domain.InvocationRequest) (domain.InvocationResult, error)
}

// CredentialStore is a read-through view of the encrypted configuration
// store. Implementations return the stored blob untouched; decryption is
// the resolver's job.
type CredentialStore interface {
	// Lookup returns the encrypted blob stored under key.
	// found is false when the store has no row for key; err is non-nil
	// only when the store itself could not be queried.
	Lookup(ctx context.Context, key string) (blob string, found bool, err error)

	// Name identifies the backend in logs.
	Name() string
}

// CredentialResolver obtains a provider secret through the ordered
// fallback chain of encrypted store, environment, absent.
type CredentialResolver interface {
	// Resolve returns the normalized secret and where it came from.
	// It fails with a *domain.ClassifiedError of kind MissingCredential or
	// DecryptionFailed.
	Resolve(ctx context.Context, key string) (domain.Credential, error)
}

// ExecutorCall describes one bounded call against one candidate.
type ExecutorCall struct {
	Target    domain.ProviderIdentity
	Candidate domain.ModelCandidate
	Request   domain.InvocationRequest
	// Budget is the hard deadline for this call, including any
	// provider-specific sub-attempt.
	Budget time.Duration
}

// Executor performs a single provider call. It never retries in place.
type Executor interface {
	// Invoke returns the normalized result or an error that
	// domain.AsRawFailure can convert into a *domain.RawFailure.
	Invoke(ctx context.Context, call ExecutorCall) (domain.InvocationResult, error)
}

// Discoverer queries a provider for the models it currently serves.
type Discoverer interface {
	// Discover never fails; any discovery problem yields an empty slice,
	// which callers treat as "use the static fallback list".
	Discover(ctx context.Context, target domain.ProviderIdentity) []domain.ModelCandidate
}

// CandidatePlanner builds the ordered candidate list for one request.
type CandidatePlanner interface {
	// Plan returns at least one candidate for a valid request.
	Plan(ctx context.Context, target domain.ProviderIdentity, req domain.InvocationRequest) []domain.ModelCandidate
}

// ErrorClassifier maps the failures of an exhausted candidate list onto
// the stable error taxonomy. Matching rules are isolated here so they can
// be hardened without touching the orchestrator.
type ErrorClassifier interface {
	// Classify never fails and always returns a non-nil error value.
	Classify(attempts []domain.Attempt) *domain.ClassifiedError
}

// CacheStore defines the interface for short-lived caches such as
// discovery results.
// Entries are never authoritative: a miss simply re-triggers the work.
type CacheStore interface {
	// Get retrieves a cached value by key.
	// Returns the value and true if found, or nil and false if not found
	// or expired.
	Get(ctx context.Context, key string) (any, bool, error)

	// Set stores a value in the cache with an expiration time.
	// A zero duration means the item doesn't expire.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error

	// Delete removes a value from the cache.
	// Returns nil if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus,
// OpenTelemetry, or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like attempts, failures, tokens.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
