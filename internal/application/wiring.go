package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/xalo2100/alfatechflow-sub001/infrastructure/cache"
	"github.com/xalo2100/alfatechflow-sub001/infrastructure/catalog"
	"github.com/xalo2100/alfatechflow-sub001/infrastructure/credentials"
	"github.com/xalo2100/alfatechflow-sub001/infrastructure/llm"
	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// WritableStore is a credential store that can be provisioned.
type WritableStore interface {
	ports.CredentialStore
	Put(ctx context.Context, key, blob string) error
}

// BuildOptions carries the process-level inputs that never live in the
// configuration file.
type BuildOptions struct {
	// EncryptionSecret keys the credential cipher. Required unless the
	// backend is none.
	EncryptionSecret string
	// DSN opens the sql backend.
	DSN string
	// Store replaces the configured backend, typically with a
	// credentials.MemoryStore.
	Store ports.CredentialStore
	// Lookup replaces os.LookupEnv for the environment fallback.
	Lookup credentials.LookupFunc

	HTTPClient *http.Client
	Metrics    ports.MetricsCollector
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Runtime is a fully wired gateway together with the components the CLI and
// HTTP API reach into directly.
type Runtime struct {
	Config   GatewayConfig
	Gateway  *Gateway
	Planner  *catalog.Planner
	Registry *llm.Registry
	Resolver *credentials.Resolver
	Cipher   *credentials.Cipher
	Store    ports.CredentialStore

	closers []func() error
}

// Build wires every component described by cfg. The returned Runtime must
// be closed to release the credential store.
func Build(ctx context.Context, cfg GatewayConfig, opts BuildOptions) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	rt := &Runtime{Config: cfg}

	store := opts.Store
	if store == nil {
		opened, closeFn, err := OpenCredentialStore(ctx, cfg.Credentials, opts.DSN)
		if err != nil {
			return nil, err
		}
		if opened != nil {
			store = opened
			rt.closers = append(rt.closers, closeFn)
		}
	}
	rt.Store = store

	if store != nil {
		cipher, err := NewCipher(cfg.Credentials, opts.EncryptionSecret)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Cipher = cipher
	}

	resolver, err := credentials.NewResolver(credentials.ResolverConfig{
		Store:        store,
		Cipher:       rt.Cipher,
		Env:          credentials.NewEnvSource(cfg.EnvVars(), opts.Lookup),
		StoreTimeout: cfg.Credentials.StoreTimeout,
		Logger:       opts.Logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Resolver = resolver

	var discoverer ports.Discoverer
	if cfg.Discovery.Enabled {
		var discoveryCache ports.CacheStore
		if cfg.Discovery.CacheTTL > 0 {
			discoveryCache = cache.NewMemoryCache()
		}
		discoverer = catalog.NewHTTPDiscoverer(catalog.DiscovererConfig{
			APIVersions: cfg.Cloud.APIVersions,
			Include:     cfg.Discovery.Include,
			Exclude:     cfg.Discovery.Exclude,
			Timeout:     cfg.Discovery.Timeout,
			Cache:       discoveryCache,
			CacheTTL:    cfg.Discovery.CacheTTL,
			HTTPClient:  opts.HTTPClient,
			Logger:      opts.Logger,
			Tracer:      opts.Tracer,
		})
	}
	rt.Planner = catalog.NewPlanner(catalog.PlannerConfig{
		Discoverer:    discoverer,
		StaticModels:  cfg.Cloud.StaticModels,
		APIVersions:   cfg.Cloud.APIVersions,
		LocalModel:    cfg.Local.Model,
		MaxCandidates: cfg.Cloud.MaxCandidates,
	})

	estimator, err := llm.NewTokenEstimator(cfg.Invocation.TokenEstimator)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	middleware := []llm.Middleware{llm.TracingMiddleware(opts.Tracer)}
	if opts.Metrics != nil {
		middleware = append(middleware, llm.MetricsMiddleware(opts.Metrics, llm.WithModelCatalog(rt.Planner)))
	}
	if cfg.Invocation.RateLimit > 0 {
		middleware = append(middleware, llm.RateLimitMiddleware(rate.Limit(cfg.Invocation.RateLimit), cfg.Invocation.RateBurst))
	}
	rt.Registry, err = llm.NewRegistry(llm.RegistryConfig{
		Executor: llm.ExecutorConfig{
			HTTPClient:     opts.HTTPClient,
			DefaultBudget:  cfg.Invocation.AttemptBudget,
			MaxBudget:      cfg.Invocation.MaxAttemptBudget,
			AlternatePath:  cfg.Local.AlternatePath,
			TokenEstimator: estimator,
			Logger:         opts.Logger,
			Middleware:     middleware,
		},
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Gateway, err = NewGateway(GatewayOptions{
		Endpoints:       cfg.Endpoints(),
		AttemptBudget:   cfg.Invocation.AttemptBudget,
		OverallDeadline: cfg.Invocation.OverallDeadline,
		Deadline: DeadlineInputs{
			CredentialTimeout: cfg.Credentials.StoreTimeout,
			APIVersions:       len(cfg.Cloud.APIVersions),
			DiscoveryTimeout:  cfg.Discovery.Timeout,
			MaxCandidates:     cfg.Cloud.MaxCandidates,
			Slack:             cfg.Invocation.DeadlineSlack,
		},
	}, Dependencies{
		Resolver:   resolver,
		Planner:    rt.Planner,
		Executor:   rt.Registry,
		Classifier: NewClassifier(),
		Suggester:  rt.Planner,
		Metrics:    opts.Metrics,
		Tracer:     opts.Tracer,
		Logger:     opts.Logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close releases the credential store.
func (r *Runtime) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// OpenCredentialStore opens the configured backend. It returns a nil store
// for the none backend. The close function is never nil.
func OpenCredentialStore(ctx context.Context, cfg CredentialsConfig, dsn string) (WritableStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "none", "":
		return nil, noop, nil
	case "memory":
		return credentials.NewMemoryStore(), noop, nil
	case "keyring":
		return credentials.NewKeyringStore(cfg.KeyringService), noop, nil
	case "sql":
		if dsn == "" {
			return nil, noop, ports.NewConfigError(cfg.DSNEnv, ports.ErrConfigNotFound)
		}
		store, err := credentials.OpenSQLStore(ctx, cfg.Driver, dsn, cfg.Table)
		if err != nil {
			return nil, noop, err
		}
		if cfg.Driver == credentials.DriverSQLite {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, noop, err
			}
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: unknown credential backend %q", domain.ErrInvalidConfiguration, cfg.Backend)
	}
}

// NewCipher builds the credential cipher from the configured salt and the
// secret read from the environment.
func NewCipher(cfg CredentialsConfig, secret string) (*credentials.Cipher, error) {
	if secret == "" {
		return nil, ports.NewConfigError(cfg.SecretEnv, credentials.ErrEmptySecret)
	}
	var salt []byte
	if cfg.Salt != "" {
		salt = []byte(cfg.Salt)
	}
	return credentials.NewCipher(secret, salt)
}
