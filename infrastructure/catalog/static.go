// Package catalog discovers the models a provider currently serves and
// turns them, together with a static fallback list, into the ordered
// candidate list tried for one invocation.
package catalog

// DefaultStaticModels is the fallback list, fastest and cheapest first.
// It doubles as the preference ranking for discovered models.
var DefaultStaticModels = []string{
	"gemini-2.0-flash",
	"gemini-1.5-flash",
	"gemini-1.5-pro",
	"gemini-pro",
}

// DefaultAPIVersions lists cloud API versions in preference order. v1beta
// exposes the newest model generations first.
var DefaultAPIVersions = []string{"v1beta", "v1"}

// DefaultInclude keeps chat-capable models of the family in use.
var DefaultInclude = []string{"gemini"}

// DefaultExclude drops models that cannot serve chat completions.
var DefaultExclude = []string{"embedding", "aqa", "imagen"}

// DefaultMaxCandidates bounds the candidate list, and with it the worst
// case latency of one invocation.
const DefaultMaxCandidates = 8
