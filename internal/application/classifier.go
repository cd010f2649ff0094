package application

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// Classifier maps the failures of an exhausted candidate list onto the
// stable error taxonomy.
//
// The last failure is inspected first. Quota and credential signals on it
// are decisive, as is a timeout or transport abort. Otherwise the record
// as a whole is considered: 404 on every candidate means no usable model,
// and a quota or credential signal on any earlier candidate still wins
// over an ambiguous final failure. Remaining mixes of failures are Unknown
// with the raw detail of the last failure kept verbatim.
type Classifier struct{}

// NewClassifier returns the default classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// Classify implements ports.ErrorClassifier. It never returns nil.
func (c *Classifier) Classify(attempts []domain.Attempt) *domain.ClassifiedError {
	if len(attempts) == 0 {
		return domain.NewClassifiedError(domain.KindUnknown, "", "no candidate was attempted", nil, nil)
	}

	last := failureOf(attempts[len(attempts)-1])
	if kind, ok := strongSignal(last); ok {
		return domain.NewClassifiedError(kind, "", last.Error(), attempts, nil)
	}

	switch last.Kind {
	case domain.FailureTimeout, domain.FailureCanceled, domain.FailureTransport:
		return domain.NewClassifiedError(domain.KindUnavailable, "", last.Error(), attempts, nil)
	}

	if allNotFound(attempts) {
		return domain.NewClassifiedError(domain.KindNoUsableModel, "", triedDetail(attempts), attempts, nil)
	}

	for i := len(attempts) - 2; i >= 0; i-- {
		f := failureOf(attempts[i])
		if kind, ok := strongSignal(f); ok {
			return domain.NewClassifiedError(kind, "", f.Error(), attempts, nil)
		}
	}

	if last.Kind == domain.FailureMalformed {
		return domain.NewClassifiedError(domain.KindMalformedResponse, "", last.Error(), attempts, nil)
	}
	for _, a := range attempts {
		switch failureOf(a).Kind {
		case domain.FailureTimeout, domain.FailureTransport:
			return domain.NewClassifiedError(domain.KindUnavailable, "", last.Error(), attempts, nil)
		}
	}
	return domain.NewClassifiedError(domain.KindUnknown, "", last.Error(), attempts, nil)
}

// strongSignal reports failures whose cause is the account rather than the
// model: quota exhaustion and rejected credentials.
func strongSignal(f *domain.RawFailure) (domain.ErrorKind, bool) {
	msg := strings.ToLower(f.Message)
	switch {
	case f.StatusCode == http.StatusTooManyRequests,
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "resource_exhausted"):
		return domain.KindQuotaExceeded, true
	case f.StatusCode == http.StatusUnauthorized,
		f.StatusCode == http.StatusForbidden,
		strings.Contains(msg, "api key not valid"),
		strings.Contains(msg, "api_key_invalid"),
		strings.Contains(msg, "invalid") && strings.Contains(msg, "key"):
		return domain.KindInvalidCredential, true
	}
	return domain.KindUnknown, false
}

func allNotFound(attempts []domain.Attempt) bool {
	for _, a := range attempts {
		if f := failureOf(a); f.Kind != domain.FailureHTTP || f.StatusCode != http.StatusNotFound {
			return false
		}
	}
	return true
}

func triedDetail(attempts []domain.Attempt) string {
	names := make([]string, len(attempts))
	for i, a := range attempts {
		names[i] = a.Candidate.String()
	}
	return fmt.Sprintf("HTTP 404 for every candidate: %s", strings.Join(names, ", "))
}

// failureOf tolerates attempts recorded without a failure.
func failureOf(a domain.Attempt) *domain.RawFailure {
	if a.Failure == nil {
		return &domain.RawFailure{Kind: domain.FailureUnknown, Message: "no failure recorded"}
	}
	return a.Failure
}

var _ ports.ErrorClassifier = (*Classifier)(nil)
