package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"google.golang.org/genai"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

const (
	// DefaultDiscoveryTimeout bounds each list-models call.
	DefaultDiscoveryTimeout = 8 * time.Second
	// DefaultCacheTTL is how long a successful discovery is reused.
	DefaultCacheTTL = 5 * time.Minute

	maxListBody = 4 << 20
)

// DiscovererConfig configures an HTTPDiscoverer.
type DiscovererConfig struct {
	// APIVersions are tried in order; the first non-empty result wins.
	APIVersions []string
	// Include keeps names containing any of these substrings.
	Include []string
	// Exclude drops names containing any of these substrings.
	Exclude []string
	// Timeout bounds each per-version call.
	Timeout time.Duration
	// Cache, when set, stores non-empty results for CacheTTL.
	Cache    ports.CacheStore
	CacheTTL time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// HTTPDiscoverer lists models through GET <host>/<version>/models?key=.
// It is safe for concurrent use; concurrent misses for the same identity
// share one discovery run.
type HTTPDiscoverer struct {
	versions []string
	include  []string
	exclude  []string
	timeout  time.Duration
	cache    ports.CacheStore
	ttl      time.Duration
	client   *http.Client
	logger   *slog.Logger
	tracer   trace.Tracer
	group    singleflight.Group
}

// NewHTTPDiscoverer applies defaults to cfg and returns a discoverer.
func NewHTTPDiscoverer(cfg DiscovererConfig) *HTTPDiscoverer {
	if len(cfg.APIVersions) == 0 {
		cfg.APIVersions = DefaultAPIVersions
	}
	if len(cfg.Include) == 0 {
		cfg.Include = DefaultInclude
	}
	if cfg.Exclude == nil {
		cfg.Exclude = DefaultExclude
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDiscoveryTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/xalo2100/alfatechflow-sub001/infrastructure/catalog")
	}
	return &HTTPDiscoverer{
		versions: slices.Clone(cfg.APIVersions),
		include:  foldAll(cfg.Include),
		exclude:  foldAll(cfg.Exclude),
		timeout:  cfg.Timeout,
		cache:    cfg.Cache,
		ttl:      cfg.CacheTTL,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
	}
}

// Discover implements ports.Discoverer. Local providers are never
// discovered. Failures degrade to an empty slice.
func (d *HTTPDiscoverer) Discover(ctx context.Context, target domain.ProviderIdentity) []domain.ModelCandidate {
	if target.Kind != domain.ProviderCloud || !target.Invokable() {
		return nil
	}

	key := target.CacheKey()
	if cached, ok := d.fromCache(ctx, key); ok {
		return cached
	}

	// The shared run must outlive any single caller; each caller still
	// stops waiting when its own context ends.
	ch := d.group.DoChan(key, func() (any, error) {
		shared := context.WithoutCancel(ctx)
		found := d.discover(shared, target)
		if len(found) > 0 && d.cache != nil {
			if err := d.cache.Set(shared, key, found, d.ttl); err != nil {
				d.logger.WarnContext(shared, "caching discovery result failed", "error", err)
			}
		}
		return found, nil
	})

	select {
	case res := <-ch:
		found, _ := res.Val.([]domain.ModelCandidate)
		return slices.Clone(found)
	case <-ctx.Done():
		return nil
	}
}

// Cached returns the last cached discovery for target without any network
// activity.
func (d *HTTPDiscoverer) Cached(ctx context.Context, target domain.ProviderIdentity) []domain.ModelCandidate {
	found, _ := d.fromCache(ctx, target.CacheKey())
	return found
}

func (d *HTTPDiscoverer) fromCache(ctx context.Context, key string) ([]domain.ModelCandidate, bool) {
	if d.cache == nil {
		return nil, false
	}
	v, ok, err := d.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	found, ok := v.([]domain.ModelCandidate)
	if !ok || len(found) == 0 {
		return nil, false
	}
	return slices.Clone(found), true
}

func (d *HTTPDiscoverer) discover(ctx context.Context, target domain.ProviderIdentity) []domain.ModelCandidate {
	ctx, span := d.tracer.Start(ctx, "catalog.Discover",
		trace.WithAttributes(attribute.String("provider.kind", string(target.Kind))))
	defer span.End()

	for _, version := range d.versions {
		found, err := d.listVersion(ctx, target, version)
		if err != nil {
			span.AddEvent("version_failed", trace.WithAttributes(
				attribute.String("api_version", version),
				attribute.String("error", err.Error()),
			))
			d.logger.DebugContext(ctx, "model discovery failed for version",
				slog.String("api_version", version), "error", err)
			continue
		}
		if len(found) == 0 {
			d.logger.DebugContext(ctx, "model discovery returned no usable models",
				slog.String("api_version", version))
			continue
		}
		span.SetAttributes(
			attribute.String("api_version", version),
			attribute.Int("models", len(found)),
		)
		d.logger.DebugContext(ctx, "model discovery succeeded",
			slog.String("api_version", version), slog.Int("models", len(found)))
		return found
	}

	d.logger.InfoContext(ctx, "model discovery exhausted all API versions; using static list",
		slog.Int("versions", len(d.versions)))
	return nil
}

func (d *HTTPDiscoverer) listVersion(ctx context.Context, target domain.ProviderIdentity, version string) ([]domain.ModelCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s/models?key=%s",
		strings.TrimRight(target.BaseURL, "/"), url.PathEscape(version), url.QueryEscape(target.Credential))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building list request: %w", domain.NewTransportFailure(err))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, domain.NewTransportFailure(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBody))
	if err != nil {
		return nil, domain.NewTransportFailure(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewHTTPFailure(resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var list genai.ListModelsResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, domain.NewMalformedFailure("decoding model list: " + err.Error())
	}
	return d.filter(list.Models, version), nil
}

func (d *HTTPDiscoverer) filter(models []*genai.Model, version string) []domain.ModelCandidate {
	seen := make(map[string]bool, len(models))
	out := make([]domain.ModelCandidate, 0, len(models))
	for _, m := range models {
		if m == nil {
			continue
		}
		name := StripModelPrefix(m.Name)
		if name == "" || seen[name] || !d.matches(name) {
			continue
		}
		seen[name] = true
		out = append(out, domain.ModelCandidate{APIVersion: version, ModelName: name, Origin: domain.OriginDiscovered})
	}
	return out
}

func (d *HTTPDiscoverer) matches(name string) bool {
	folded := cases.Fold().String(name)
	for _, ex := range d.exclude {
		if strings.Contains(folded, ex) {
			return false
		}
	}
	for _, in := range d.include {
		if strings.Contains(folded, in) {
			return true
		}
	}
	return false
}

// StripModelPrefix turns "models/gemini-pro" into "gemini-pro".
func StripModelPrefix(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "models/")
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, cases.Fold().String(s))
		}
	}
	return out
}

var _ ports.Discoverer = (*HTTPDiscoverer)(nil)
