package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// ProviderKind identifies one of the closed set of AI backends the gateway
// can address.
type ProviderKind string

const (
	// ProviderLocal is a self-hosted model server that speaks the
	// OpenAI chat-completions wire format.
	ProviderLocal ProviderKind = "local"
	// ProviderCloud is the hosted vendor API addressed through
	// generateContent endpoints.
	ProviderCloud ProviderKind = "cloud"
)

// Valid reports whether k is one of the known provider kinds.
func (k ProviderKind) Valid() bool {
	return k == ProviderLocal || k == ProviderCloud
}

// ParseProviderKind converts user input into a ProviderKind.
func ParseProviderKind(s string) (ProviderKind, error) {
	k := ProviderKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown provider kind %q", ErrInvalidConfiguration, s)
	}
	return k, nil
}

// CredentialSource records where a credential was found. It is
// diagnostic only and never affects routing.
type CredentialSource string

const (
	SourceEncryptedStore CredentialSource = "encrypted-store"
	SourceEnvironment    CredentialSource = "environment"
	SourceNone           CredentialSource = "none"
)

// Credential is resolved secret material with its provenance.
type Credential struct {
	Value  string
	Source CredentialSource
}

// Empty reports whether no usable secret was resolved.
func (c Credential) Empty() bool { return c.Value == "" }

// ProviderIdentity is a fully resolved provider: its kind, the endpoint to
// address and the credential material obtained for this request.
type ProviderIdentity struct {
	Kind ProviderKind
	// BaseURL is the vendor host for cloud providers and the full
	// completion URL for local providers.
	BaseURL          string
	Credential       string
	CredentialSource CredentialSource
}

// RequiresCredential reports whether the provider cannot be invoked
// without credential material.
func (p ProviderIdentity) RequiresCredential() bool {
	return p.Kind == ProviderCloud
}

// Invokable reports whether the identity carries everything needed for a
// network call.
func (p ProviderIdentity) Invokable() bool {
	if !p.Kind.Valid() || p.BaseURL == "" {
		return false
	}
	return !p.RequiresCredential() || p.Credential != ""
}

// CacheKey returns a stable key for per-identity caches. Credentials are
// reduced to a short fingerprint so distinct keys see distinct catalogs
// without the secret itself being retained.
func (p ProviderIdentity) CacheKey() string {
	fp := "anon"
	if p.Credential != "" {
		sum := sha256.Sum256([]byte(p.Credential))
		fp = hex.EncodeToString(sum[:6])
	}
	return string(p.Kind) + "|" + p.BaseURL + "|" + fp
}

// String never includes the credential.
func (p ProviderIdentity) String() string {
	return fmt.Sprintf("%s(%s)", p.Kind, p.BaseURL)
}

// LogValue implements slog.LogValuer so identities can be logged directly
// without leaking credential material.
func (p ProviderIdentity) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(p.Kind)),
		slog.String("base_url", p.BaseURL),
		slog.String("credential_source", string(p.CredentialSource)),
	)
}
