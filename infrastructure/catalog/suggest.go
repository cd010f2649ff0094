package catalog

import (
	"context"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
)

// maxSuggestDistance is the largest edit distance still offered as a hint.
const maxSuggestDistance = 3

type cachedCatalog interface {
	Cached(ctx context.Context, target domain.ProviderIdentity) []domain.ModelCandidate
}

// Suggest returns the known model name closest to model, or "" when
// nothing is close enough or model is itself known. It never performs
// network calls; only cached discoveries and the static list are searched.
func (p *Planner) Suggest(ctx context.Context, target domain.ProviderIdentity, model string) string {
	model = strings.ToLower(StripModelPrefix(model))
	if model == "" {
		return ""
	}

	best, bestDist := "", maxSuggestDistance+1
	for _, name := range p.knownNames(ctx, target) {
		lower := strings.ToLower(name)
		if lower == model {
			return ""
		}
		if d := levenshtein.ComputeDistance(model, lower); d < bestDist {
			best, bestDist = name, d
		}
	}
	return best
}

// Known reports whether model is in the static list or in the cached
// discovery for target. Like Suggest it performs no network calls.
func (p *Planner) Known(ctx context.Context, target domain.ProviderIdentity, model string) bool {
	model = StripModelPrefix(model)
	for _, name := range p.knownNames(ctx, target) {
		if strings.EqualFold(name, model) {
			return true
		}
	}
	return false
}

func (p *Planner) knownNames(ctx context.Context, target domain.ProviderIdentity) []string {
	names := make([]string, 0, len(p.static))
	if c, ok := p.discoverer.(cachedCatalog); ok && target.Kind == domain.ProviderCloud {
		for _, cand := range c.Cached(ctx, target) {
			names = append(names, cand.ModelName)
		}
	}
	return append(names, p.static...)
}
