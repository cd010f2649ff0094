package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// DefaultStoreTimeout bounds a single credential store read.
const DefaultStoreTimeout = 5 * time.Second

// ResolverConfig holds the sources consulted by a Resolver.
type ResolverConfig struct {
	// Store is the encrypted configuration store. Nil skips straight to
	// the environment.
	Store ports.CredentialStore
	// Cipher decrypts store blobs. Required when Store is set.
	Cipher *Cipher
	// Env is the environment fallback. Nil reads upper-cased keys from the
	// process environment.
	Env *EnvSource
	// StoreTimeout bounds each store read. Zero selects DefaultStoreTimeout.
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// Resolver walks the encrypted store, then the environment. It holds no
// mutable state and is safe for concurrent use.
type Resolver struct {
	store   ports.CredentialStore
	cipher  *Cipher
	env     *EnvSource
	timeout time.Duration
	logger  *slog.Logger
}

// NewResolver validates cfg and returns a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store != nil && cfg.Cipher == nil {
		return nil, fmt.Errorf("%w: credential store %s configured without a cipher",
			domain.ErrInvalidConfiguration, cfg.Store.Name())
	}
	if cfg.Env == nil {
		cfg.Env = NewEnvSource(nil, nil)
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		store:   cfg.Store,
		cipher:  cfg.Cipher,
		env:     cfg.Env,
		timeout: cfg.StoreTimeout,
		logger:  cfg.Logger,
	}, nil
}

// Resolve returns the secret stored under key.
//
// A stored row that fails to decrypt is reported as DecryptionFailed and
// never falls through to the environment: a rotated encryption key must
// not silently select a stale environment value. An unreachable store is
// logged and the environment is consulted instead.
func (r *Resolver) Resolve(ctx context.Context, key string) (domain.Credential, error) {
	if r.store != nil {
		cred, done, err := r.fromStore(ctx, key)
		if done {
			return cred, err
		}
	}

	if raw, ok := r.env.Get(key); ok {
		if v := Normalize(raw); v != "" {
			r.logger.DebugContext(ctx, "credential resolved",
				slog.String("key", key), slog.String("source", string(domain.SourceEnvironment)))
			return domain.Credential{Value: v, Source: domain.SourceEnvironment}, nil
		}
	}

	detail := fmt.Sprintf("key %q not found in store and $%s is unset", key, r.env.VarName(key))
	return domain.Credential{Source: domain.SourceNone},
		domain.NewClassifiedError(domain.KindMissingCredential, "", detail, nil, ports.ErrCredentialNotFound)
}

// fromStore reports done=false when resolution should continue with the
// environment.
func (r *Resolver) fromStore(ctx context.Context, key string) (domain.Credential, bool, error) {
	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	blob, found, err := r.store.Lookup(sctx, key)
	if err != nil {
		if ctx.Err() != nil {
			// Caller gave up; do not keep resolving on its behalf.
			return domain.Credential{Source: domain.SourceNone}, true,
				domain.NewClassifiedError(domain.KindUnavailable, "", "credential lookup aborted", nil, ctx.Err())
		}
		r.logger.WarnContext(ctx, "credential store unreachable, falling back to environment",
			slog.String("store", r.store.Name()), slog.String("key", key), "error", err)
		return domain.Credential{}, false, nil
	}
	if !found {
		return domain.Credential{}, false, nil
	}

	plain, err := r.cipher.Decrypt(blob)
	if err != nil {
		r.logger.WarnContext(ctx, "stored credential could not be decrypted; encryption key may have been rotated",
			slog.String("store", r.store.Name()), slog.String("key", key), "error", err)
		return domain.Credential{Source: domain.SourceNone}, true,
			domain.NewClassifiedError(domain.KindDecryptionFailed, "", fmt.Sprintf("key %q", key), nil, err)
	}

	v := Normalize(plain)
	if v == "" {
		r.logger.WarnContext(ctx, "stored credential is empty, falling back to environment",
			slog.String("store", r.store.Name()), slog.String("key", key))
		return domain.Credential{}, false, nil
	}

	r.logger.DebugContext(ctx, "credential resolved",
		slog.String("key", key), slog.String("source", string(domain.SourceEncryptedStore)))
	return domain.Credential{Value: v, Source: domain.SourceEncryptedStore}, true, nil
}

// IsMissing reports whether err means no source held the key.
func IsMissing(err error) bool {
	return errors.Is(err, domain.ErrMissingCredential)
}

var _ ports.CredentialResolver = (*Resolver)(nil)
