package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xalo2100/alfatechflow-sub001/internal/application"
	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
)

type errorResponse struct {
	Kind      string           `json:"kind"`
	Message   string           `json:"message"`
	Detail    string           `json:"detail,omitempty"`
	Errors    []string         `json:"errors,omitempty"`
	Attempts  []domain.Attempt `json:"attempts,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

type modelsResponse struct {
	Provider   domain.ProviderKind     `json:"provider"`
	Candidates []domain.ModelCandidate `json:"candidates"`
}

// StatusFor maps an invocation error to the HTTP status returned to
// callers.
func StatusFor(err error) int {
	var verr *domain.ValidationError
	if errors.As(err, &verr) || errors.Is(err, domain.ErrInvalidConfiguration) {
		return http.StatusBadRequest
	}
	var cerr *domain.ClassifiedError
	if !errors.As(err, &cerr) {
		return http.StatusInternalServerError
	}
	switch cerr.Kind {
	case domain.KindMissingCredential, domain.KindDecryptionFailed, domain.KindInvalidCredential:
		return http.StatusUnauthorized
	case domain.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case domain.KindNoUsableModel:
		return http.StatusNotFound
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req domain.InvocationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		verr := domain.NewValidationError("InvocationRequest")
		verr.AddError("malformed JSON body: " + err.Error())
		s.writeError(w, r, verr)
		return
	}

	result, err := s.gateway.Invoke(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := q.Get("provider")
	if provider == "" {
		provider = string(domain.ProviderCloud)
	}
	kind, err := domain.ParseProviderKind(provider)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	candidates, err := s.planner.Plan(r.Context(), kind, q.Get("model"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if candidates == nil {
		candidates = []domain.ModelCandidate{}
	}
	s.writeJSON(w, http.StatusOK, modelsResponse{Provider: kind, Candidates: candidates})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := errorResponse{Message: err.Error()}
	if id, ok := application.RequestIDFromContext(r.Context()); ok {
		body.RequestID = id
	}

	var (
		verr *domain.ValidationError
		cerr *domain.ClassifiedError
	)
	switch {
	case errors.As(err, &verr):
		body.Kind = "validation"
		body.Errors = verr.Errors
	case errors.As(err, &cerr):
		body.Kind = cerr.Kind.String()
		body.Message = cerr.Message
		body.Detail = cerr.RawDetail
		body.Attempts = cerr.Attempts
	case status == http.StatusBadRequest:
		body.Kind = "validation"
	default:
		body.Kind = "internal"
		body.Message = http.StatusText(status)
		s.logger.ErrorContext(r.Context(), "unexpected gateway error", "error", err)
	}
	s.writeJSON(w, status, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encoding failed", "error", err)
	}
}
