package application

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/xalo2100/alfatechflow-sub001/infrastructure/catalog"
	"github.com/xalo2100/alfatechflow-sub001/infrastructure/credentials"
	"github.com/xalo2100/alfatechflow-sub001/infrastructure/llm"
	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
)

// GatewayConfig is the complete, file-backed configuration of a gateway
// deployment. Secrets never appear in it: the encryption secret and the
// database DSN are read from the environment variables it names.
type GatewayConfig struct {
	// Cloud configures the hosted generateContent API.
	Cloud CloudConfig `yaml:"cloud"`
	// Local configures the self-hosted chat-completions server.
	Local LocalConfig `yaml:"local"`
	// Credentials selects the encrypted store consulted before the
	// environment.
	Credentials CredentialsConfig `yaml:"credentials"`
	// Discovery configures live model listing for the cloud provider.
	Discovery DiscoveryConfig `yaml:"discovery"`
	// Invocation bounds the latency of a single gateway call.
	Invocation InvocationConfig `yaml:"invocation"`
	// Server configures the HTTP API served by gatewayctl serve.
	Server ServerConfig `yaml:"server"`
}

// CloudConfig describes the cloud provider.
type CloudConfig struct {
	// BaseURL is the vendor host without API version.
	BaseURL string `yaml:"base_url" validate:"required,httpurl"`
	// CredentialKey is the store key holding the encrypted API key.
	CredentialKey string `yaml:"credential_key" validate:"required,credkey"`
	// EnvVar is consulted when the store has no row for CredentialKey.
	EnvVar string `yaml:"env_var" validate:"omitempty,max=128"`
	// APIVersions are tried newest first.
	APIVersions []string `yaml:"api_versions" validate:"required,min=1,unique,dive,apiversion"`
	// StaticModels is the fallback list and the preference ranking.
	StaticModels  []string `yaml:"static_models" validate:"required,min=1,unique,dive,required,max=200"`
	MaxCandidates int      `yaml:"max_candidates" validate:"min=1,max=32"`
}

// LocalConfig describes the local model server.
type LocalConfig struct {
	// URL is the full completion URL.
	URL string `yaml:"url" validate:"required,httpurl"`
	// AlternatePath is retried once when URL answers 404.
	AlternatePath string `yaml:"alternate_path" validate:"required,startswith=/"`
	// Model is the fixed model name sent in every request.
	Model         string `yaml:"model" validate:"required,max=200"`
	CredentialKey string `yaml:"credential_key" validate:"required,credkey"`
	EnvVar        string `yaml:"env_var" validate:"omitempty,max=128"`
}

// CredentialsConfig selects the encrypted credential store.
type CredentialsConfig struct {
	// Backend is one of none, memory, sql or keyring. none resolves from
	// the environment only.
	Backend string `yaml:"backend" validate:"required,oneof=none memory sql keyring"`
	// Driver is the database/sql driver for the sql backend.
	Driver string `yaml:"driver" validate:"omitempty,oneof=pgx sqlite3"`
	// Table holds key/value rows for the sql backend.
	Table string `yaml:"table" validate:"omitempty,credkey"`
	// KeyringService is the OS keychain service for the keyring backend.
	KeyringService string `yaml:"keyring_service" validate:"omitempty,max=128"`
	// DSNEnv names the variable holding the database DSN.
	DSNEnv string `yaml:"dsn_env" validate:"omitempty,max=128"`
	// SecretEnv names the variable holding the encryption secret.
	SecretEnv string `yaml:"secret_env" validate:"required,max=128"`
	// Salt overrides the key-derivation salt. It must stay stable for the
	// lifetime of the stored blobs.
	Salt         string        `yaml:"salt" validate:"omitempty,max=256"`
	StoreTimeout time.Duration `yaml:"store_timeout" validate:"gt=0"`
}

// DiscoveryConfig configures cloud model discovery.
type DiscoveryConfig struct {
	Enabled bool     `yaml:"enabled"`
	Include []string `yaml:"include" validate:"dive,required"`
	Exclude []string `yaml:"exclude" validate:"dive,required"`
	// Timeout bounds each per-version list call.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	// CacheTTL is how long a non-empty discovery is reused. Zero disables
	// caching.
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// InvocationConfig bounds one gateway call.
type InvocationConfig struct {
	// AttemptBudget is the deadline of each candidate attempt.
	AttemptBudget time.Duration `yaml:"attempt_budget" validate:"gt=0"`
	// MaxAttemptBudget caps AttemptBudget. Zero means no cap.
	MaxAttemptBudget time.Duration `yaml:"max_attempt_budget" validate:"gte=0"`
	// OverallDeadline wraps the whole chain. Zero computes it from the
	// other timeouts.
	OverallDeadline time.Duration `yaml:"overall_deadline" validate:"gte=0"`
	// DeadlineSlack is added to a computed overall deadline.
	DeadlineSlack time.Duration `yaml:"deadline_slack" validate:"gte=0"`
	// RateLimit is the shared client-side request rate per second. Zero
	// disables the limiter.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`
	// TokenEstimator fills in usage omitted by a provider.
	TokenEstimator string `yaml:"token_estimator" validate:"oneof=chars words"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string        `yaml:"addr" validate:"required,hostname_port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// DefaultGatewayConfig returns the configuration used when no file is
// given. LoadConfig decodes files over these values.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Cloud: CloudConfig{
			BaseURL:       "https://generativelanguage.googleapis.com",
			CredentialKey: "gemini_api_key",
			EnvVar:        "GEMINI_API_KEY",
			APIVersions:   slices.Clone(catalog.DefaultAPIVersions),
			StaticModels:  slices.Clone(catalog.DefaultStaticModels),
			MaxCandidates: catalog.DefaultMaxCandidates,
		},
		Local: LocalConfig{
			URL:           "http://localhost:1234/api/v0/chat/completions",
			AlternatePath: llm.DefaultAlternatePath,
			Model:         catalog.DefaultLocalModel,
			CredentialKey: "local_ai_api_key",
			EnvVar:        "LOCAL_AI_API_KEY",
		},
		Credentials: CredentialsConfig{
			Backend:        "none",
			Driver:         "pgx",
			Table:          credentials.DefaultTable,
			KeyringService: credentials.DefaultKeyringService,
			DSNEnv:         "DATABASE_URL",
			SecretEnv:      "ENCRYPTION_KEY",
			StoreTimeout:   credentials.DefaultStoreTimeout,
		},
		Discovery: DiscoveryConfig{
			Enabled:  true,
			Include:  slices.Clone(catalog.DefaultInclude),
			Exclude:  slices.Clone(catalog.DefaultExclude),
			Timeout:  catalog.DefaultDiscoveryTimeout,
			CacheTTL: catalog.DefaultCacheTTL,
		},
		Invocation: InvocationConfig{
			AttemptBudget:    llm.DefaultBudget,
			MaxAttemptBudget: 2 * time.Minute,
			DeadlineSlack:    2 * time.Second,
			RateBurst:        1,
			TokenEstimator:   llm.EstimatorCharacters,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
	}
}

// LoadConfig reads the YAML file at path over DefaultGatewayConfig and
// validates the result.
func LoadConfig(path string) (GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultGatewayConfig. Decoding is strict:
// unknown fields are rejected so typos are not silently ignored. Empty
// input yields the defaults.
func ParseConfig(data []byte) (GatewayConfig, error) {
	cfg := DefaultGatewayConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return GatewayConfig{}, fmt.Errorf("YAML decode failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return GatewayConfig{}, err
	}
	return cfg, nil
}

// Validate checks struct tags and the rules that span fields.
func (c GatewayConfig) Validate() error {
	v, err := configValidator()
	if err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: struct validation failed: %w", domain.ErrInvalidConfiguration, err)
	}
	if err := c.validateSemantics(); err != nil {
		return fmt.Errorf("%w: semantic validation failed: %w", domain.ErrInvalidConfiguration, err)
	}
	return nil
}

func (c GatewayConfig) validateSemantics() error {
	inv := c.Invocation
	if inv.MaxAttemptBudget > 0 && inv.AttemptBudget > inv.MaxAttemptBudget {
		return fmt.Errorf("invocation.attempt_budget %s exceeds max_attempt_budget %s",
			inv.AttemptBudget, inv.MaxAttemptBudget)
	}
	if inv.RateLimit > 0 && inv.RateBurst < 1 {
		return fmt.Errorf("invocation.rate_burst must be at least 1 when rate_limit is set")
	}
	if c.Credentials.Backend == "sql" && c.Credentials.Driver == "" {
		return fmt.Errorf("credentials.driver is required for the sql backend")
	}
	if c.Discovery.Enabled && len(c.Discovery.Include) == 0 {
		return fmt.Errorf("discovery.include must name at least one model family")
	}
	if c.Cloud.CredentialKey == c.Local.CredentialKey {
		return fmt.Errorf("cloud and local providers share credential key %q", c.Cloud.CredentialKey)
	}
	return nil
}

// EnvVars maps each provider's credential key to its environment variable.
func (c GatewayConfig) EnvVars() map[string]string {
	return map[string]string{
		c.Cloud.CredentialKey: c.Cloud.EnvVar,
		c.Local.CredentialKey: c.Local.EnvVar,
	}
}

// CredentialKey returns the store key for the given provider.
func (c GatewayConfig) CredentialKey(kind domain.ProviderKind) string {
	if kind == domain.ProviderLocal {
		return c.Local.CredentialKey
	}
	return c.Cloud.CredentialKey
}

// Endpoints returns the provider endpoints handed to the gateway.
func (c GatewayConfig) Endpoints() map[domain.ProviderKind]ProviderEndpoint {
	return map[domain.ProviderKind]ProviderEndpoint{
		domain.ProviderCloud: {BaseURL: c.Cloud.BaseURL, CredentialKey: c.Cloud.CredentialKey},
		domain.ProviderLocal: {BaseURL: c.Local.URL, CredentialKey: c.Local.CredentialKey},
	}
}

var (
	apiVersionPattern    = regexp.MustCompile(`^v[0-9]+((alpha|beta)[0-9]*)?$`)
	credentialKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)
)

var configValidator = sync.OnceValues(func() (*validator.Validate, error) {
	v := validator.New()
	if err := registerConfigValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	return v, nil
})

// registerConfigValidators registers the gateway-specific struct tags.
func registerConfigValidators(v *validator.Validate) error {
	validators := map[string]validator.Func{
		"httpurl":    validateHTTPURL,
		"apiversion": validateAPIVersion,
		"credkey":    validateCredentialKey,
	}
	for tag, fn := range validators {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateHTTPURL accepts absolute http(s) URLs without query or fragment.
func validateHTTPURL(fl validator.FieldLevel) bool {
	_, err := llm.ValidateBaseURL(fl.Field().String())
	return err == nil
}

// validateAPIVersion accepts versions such as v1, v1beta and v2alpha1.
func validateAPIVersion(fl validator.FieldLevel) bool {
	return apiVersionPattern.MatchString(fl.Field().String())
}

func validateCredentialKey(fl validator.FieldLevel) bool {
	return credentialKeyPattern.MatchString(fl.Field().String())
}
