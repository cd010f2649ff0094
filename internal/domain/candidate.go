package domain

import "fmt"

// CandidateOrigin records how a ModelCandidate entered the candidate list.
type CandidateOrigin int

const (
	// OriginStatic candidates come from the hard-coded fallback list.
	OriginStatic CandidateOrigin = iota
	// OriginDiscovered candidates were confirmed by a live list-models call.
	OriginDiscovered
	// OriginExplicit is the single candidate built from a caller override.
	OriginExplicit
	// OriginFixed is the single candidate of a local provider.
	OriginFixed
)

var originNames = map[CandidateOrigin]string{
	OriginStatic:     "static",
	OriginDiscovered: "discovered",
	OriginExplicit:   "explicit",
	OriginFixed:      "fixed",
}

func (o CandidateOrigin) String() string {
	if s, ok := originNames[o]; ok {
		return s
	}
	return fmt.Sprintf("origin(%d)", int(o))
}

// MarshalText renders the origin by name in JSON and YAML output.
func (o CandidateOrigin) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// ModelCandidate is one (API version, model) pair eligible for a single
// invocation attempt. Candidates are values and are never modified after
// a candidate list is built.
type ModelCandidate struct {
	APIVersion string          `json:"api_version,omitempty"`
	ModelName  string          `json:"model"`
	Origin     CandidateOrigin `json:"origin"`
}

// Key identifies the candidate for de-duplication. Origin is not part of
// the key: the same pair found by discovery and in the static list is one
// candidate.
func (c ModelCandidate) Key() string {
	return c.APIVersion + "/" + c.ModelName
}

func (c ModelCandidate) String() string {
	if c.APIVersion == "" {
		return c.ModelName
	}
	return c.APIVersion + "/" + c.ModelName
}
