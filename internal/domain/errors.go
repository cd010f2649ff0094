package domain

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Common domain errors.
var (
	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidTransition indicates an illegal move in the invocation
	// state machine. It always signals a programming error.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Sentinels matched by errors.Is against a *ClassifiedError of the same kind.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrNoUsableModel     = errors.New("no usable model")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrUnavailable       = errors.New("provider unavailable")
	ErrMalformedResponse = errors.New("malformed response")
	ErrUnknown           = errors.New("unknown provider error")
)

// ErrorKind is the stable, provider-independent category of a failed
// invocation.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMissingCredential
	KindDecryptionFailed
	KindNoUsableModel
	KindQuotaExceeded
	KindInvalidCredential
	KindUnavailable
	KindMalformedResponse
)

type kindInfo struct {
	name     string
	sentinel error
	message  string
}

var kinds = map[ErrorKind]kindInfo{
	KindUnknown: {"unknown", ErrUnknown,
		"The AI provider returned an unexpected error."},
	KindMissingCredential: {"missing_credential", ErrMissingCredential,
		"No API key is configured for this AI provider."},
	KindDecryptionFailed: {"decryption_failed", ErrDecryptionFailed,
		"The stored API key could not be decrypted; the encryption key may have been rotated."},
	KindNoUsableModel: {"no_usable_model", ErrNoUsableModel,
		"None of the candidate models is available for this API key."},
	KindQuotaExceeded: {"quota_exceeded", ErrQuotaExceeded,
		"The AI provider quota has been exceeded. Try again later."},
	KindInvalidCredential: {"invalid_credential", ErrInvalidCredential,
		"The configured API key was rejected by the AI provider."},
	KindUnavailable: {"unavailable", ErrUnavailable,
		"The AI provider could not be reached in time."},
	KindMalformedResponse: {"malformed_response", ErrMalformedResponse,
		"The AI provider answered without any usable text."},
}

func (k ErrorKind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText renders the kind by its stable name.
func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Sentinel returns the error value errors.Is matches for this kind.
func (k ErrorKind) Sentinel() error {
	if info, ok := kinds[k]; ok {
		return info.sentinel
	}
	return ErrUnknown
}

// DefaultMessage is the user-facing text for the kind.
func (k ErrorKind) DefaultMessage() string {
	if info, ok := kinds[k]; ok {
		return info.message
	}
	return kinds[KindUnknown].message
}

// IsCredentialProblem reports whether no retry can repair the failure.
func (k ErrorKind) IsCredentialProblem() bool {
	return k == KindMissingCredential || k == KindDecryptionFailed
}

// FailureKind describes how a single executor call went wrong.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	// FailureHTTP is a non-2xx response; StatusCode is set.
	FailureHTTP
	// FailureTimeout is a call that exceeded its budget or the overall deadline.
	FailureTimeout
	// FailureCanceled is a call aborted by caller cancellation.
	FailureCanceled
	// FailureTransport is a connection-level error with no HTTP response.
	FailureTransport
	// FailureMalformed is a 2xx response without extractable text.
	FailureMalformed
)

var failureNames = [...]string{"unknown", "http", "timeout", "canceled", "transport", "malformed"}

func (k FailureKind) String() string {
	if int(k) < len(failureNames) {
		return failureNames[k]
	}
	return fmt.Sprintf("failure(%d)", int(k))
}

// MarshalText renders the failure kind by name.
func (k FailureKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// RawFailure is the unclassified outcome of one failed executor call.
type RawFailure struct {
	Kind       FailureKind `json:"kind"`
	StatusCode int         `json:"status_code,omitempty"`
	Message    string      `json:"message"`
	Err        error       `json:"-"`
}

// Error implements the error interface for RawFailure.
func (f *RawFailure) Error() string {
	var b strings.Builder
	b.WriteString(f.Kind.String())
	if f.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", f.StatusCode)
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	if f.Err != nil && (f.Message == "" || !strings.Contains(f.Message, f.Err.Error())) {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (f *RawFailure) Unwrap() error { return f.Err }

// NewHTTPFailure records a non-2xx response.
func NewHTTPFailure(status int, message string) *RawFailure {
	return &RawFailure{Kind: FailureHTTP, StatusCode: status, Message: message}
}

// NewMalformedFailure records a successful HTTP exchange without usable text.
func NewMalformedFailure(message string) *RawFailure {
	return &RawFailure{Kind: FailureMalformed, Message: message}
}

// NewTransportFailure records an error raised before any response arrived.
// Context errors are mapped to FailureTimeout or FailureCanceled. Request
// URLs are stripped from *url.Error values because they may carry API keys
// in the query string.
func NewTransportFailure(err error) *RawFailure {
	err = redactURL(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return &RawFailure{Kind: FailureTimeout, Message: "deadline exceeded", Err: err}
	case errors.Is(err, context.Canceled):
		return &RawFailure{Kind: FailureCanceled, Message: "request canceled", Err: err}
	default:
		return &RawFailure{Kind: FailureTransport, Message: err.Error(), Err: err}
	}
}

func redactURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s request: %w", uerr.Op, uerr.Err)
	}
	return err
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// AsRawFailure converts any executor error into a RawFailure.
func AsRawFailure(err error) *RawFailure {
	if err == nil {
		return nil
	}
	var rf *RawFailure
	if errors.As(err, &rf) {
		return rf
	}
	return NewTransportFailure(err)
}

// Attempt pairs a candidate with the failure it produced.
type Attempt struct {
	Candidate ModelCandidate `json:"candidate"`
	Failure   *RawFailure    `json:"failure"`
}

// ClassifiedError is the terminal, caller-visible failure of an invocation.
// It is built once and never modified.
type ClassifiedError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	RawDetail string    `json:"raw_detail,omitempty"`
	Attempts  []Attempt `json:"attempts,omitempty"`
	// Cause is the underlying error for short-circuit failures, such as a
	// decryption error. It is nil for exhausted candidate lists.
	Cause error `json:"-"`
}

// NewClassifiedError builds a ClassifiedError. An empty message selects the
// kind's default; attempts are copied so later edits by the caller cannot
// leak into the error.
func NewClassifiedError(kind ErrorKind, message, rawDetail string, attempts []Attempt, cause error) *ClassifiedError {
	if message == "" {
		message = kind.DefaultMessage()
	}
	var copied []Attempt
	if len(attempts) > 0 {
		copied = make([]Attempt, len(attempts))
		copy(copied, attempts)
	}
	return &ClassifiedError{
		Kind:      kind,
		Message:   message,
		RawDetail: rawDetail,
		Attempts:  copied,
		Cause:     cause,
	}
}

// Error implements the error interface for ClassifiedError.
func (e *ClassifiedError) Error() string {
	if e.RawDetail == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.RawDetail)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *ClassifiedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind.Sentinel()}
	}
	return []error{e.Kind.Sentinel(), e.Cause}
}

// AttemptedCandidates returns the candidates in the order they were tried.
func (e *ClassifiedError) AttemptedCandidates() []ModelCandidate {
	out := make([]ModelCandidate, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Candidate
	}
	return out
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
