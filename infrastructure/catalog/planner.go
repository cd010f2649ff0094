package catalog

import (
	"context"
	"slices"
	"strings"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// DefaultLocalModel is the fixed model name sent to local model servers.
const DefaultLocalModel = "local-model"

// PlannerConfig configures a Planner.
type PlannerConfig struct {
	Discoverer ports.Discoverer
	// StaticModels is the fallback list and the preference ranking.
	StaticModels []string
	// APIVersions are in preference order; the first one addresses static
	// and explicit candidates.
	APIVersions   []string
	LocalModel    string
	MaxCandidates int
}

// Planner implements ports.CandidatePlanner.
type Planner struct {
	discoverer ports.Discoverer
	static     []string
	versions   []string
	localModel string
	max        int
}

// NewPlanner applies defaults to cfg. A nil Discoverer plans from the
// static list only.
func NewPlanner(cfg PlannerConfig) *Planner {
	if len(cfg.StaticModels) == 0 {
		cfg.StaticModels = DefaultStaticModels
	}
	if len(cfg.APIVersions) == 0 {
		cfg.APIVersions = DefaultAPIVersions
	}
	if cfg.LocalModel == "" {
		cfg.LocalModel = DefaultLocalModel
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	return &Planner{
		discoverer: cfg.Discoverer,
		static:     slices.Clone(cfg.StaticModels),
		versions:   slices.Clone(cfg.APIVersions),
		localModel: cfg.LocalModel,
		max:        cfg.MaxCandidates,
	}
}

// PreferredVersion is the API version used for candidates that were not
// confirmed by discovery.
func (p *Planner) PreferredVersion() string { return p.versions[0] }

// StaticModels returns a copy of the fallback list.
func (p *Planner) StaticModels() []string { return slices.Clone(p.static) }

// Plan implements ports.CandidatePlanner.
func (p *Planner) Plan(ctx context.Context, target domain.ProviderIdentity, req domain.InvocationRequest) []domain.ModelCandidate {
	if req.HasExplicitModel() {
		version := p.PreferredVersion()
		if target.Kind == domain.ProviderLocal {
			version = ""
		}
		return []domain.ModelCandidate{{
			APIVersion: version,
			ModelName:  StripModelPrefix(req.Model),
			Origin:     domain.OriginExplicit,
		}}
	}

	if target.Kind == domain.ProviderLocal {
		return []domain.ModelCandidate{{ModelName: p.localModel, Origin: domain.OriginFixed}}
	}

	var discovered []domain.ModelCandidate
	if p.discoverer != nil {
		discovered = p.discoverer.Discover(ctx, target)
	}
	return p.merge(discovered)
}

type ranked struct {
	candidate domain.ModelCandidate
	rank      int
}

// merge orders discovered candidates by preference rank, keeping the
// provider's order among unranked ones. Static guesses follow, and only
// for models discovery did not list under any version.
func (p *Planner) merge(discovered []domain.ModelCandidate) []domain.ModelCandidate {
	live := make([]ranked, 0, len(discovered))
	for _, c := range discovered {
		c.Origin = domain.OriginDiscovered
		live = append(live, ranked{candidate: c, rank: p.rank(c.ModelName)})
	}
	slices.SortStableFunc(live, func(a, b ranked) int { return a.rank - b.rank })

	covered := make(map[string]bool, len(live))
	all := make([]domain.ModelCandidate, 0, len(live)+len(p.static))
	for _, r := range live {
		covered[strings.ToLower(r.candidate.ModelName)] = true
		all = append(all, r.candidate)
	}
	for _, name := range p.static {
		if covered[strings.ToLower(name)] {
			continue
		}
		all = append(all, domain.ModelCandidate{APIVersion: p.PreferredVersion(), ModelName: name, Origin: domain.OriginStatic})
	}

	seen := make(map[string]bool, len(all))
	out := make([]domain.ModelCandidate, 0, min(len(all), p.max))
	for _, c := range all {
		key := c.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if len(out) == p.max {
			break
		}
	}
	return out
}

func (p *Planner) rank(model string) int {
	for i, name := range p.static {
		if strings.EqualFold(name, model) {
			return i
		}
	}
	return len(p.static)
}

var _ ports.CandidatePlanner = (*Planner)(nil)
