// Package httpapi exposes the gateway over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/xalo2100/alfatechflow-sub001/internal/application"
	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

const (
	defaultMaxBodyBytes      = 1 << 20
	defaultReadHeaderTimeout = 10 * time.Second
	defaultShutdownTimeout   = 15 * time.Second
)

// Planner lists the candidates an invocation would try.
type Planner interface {
	Plan(ctx context.Context, kind domain.ProviderKind, model string) ([]domain.ModelCandidate, error)
}

// Config controls the HTTP server.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	// MaxBodyBytes caps invocation request bodies.
	MaxBodyBytes int64
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server routes HTTP requests to the gateway.
type Server struct {
	gateway ports.Gateway
	planner Planner
	config  Config
	logger  *slog.Logger
	handler http.Handler
}

// New creates a Server. planner may be nil, in which case /v1/models is
// not routed.
func New(gateway ports.Gateway, planner Planner, cfg Config) (*Server, error) {
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway is required", domain.ErrInvalidConfiguration)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		gateway: gateway,
		planner: planner,
		config:  cfg,
		logger:  logger.With("component", "httpapi"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/invocations", s.handleInvoke)
	if planner != nil {
		mux.HandleFunc("GET /v1/models", s.handleModels)
	}
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	s.handler = s.requestIDMiddleware(mux)
	return s, nil
}

// Handler returns the root handler, for embedding and tests.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http api: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("http api stopping")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http api shutdown: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestIDMiddleware propagates or assigns the request ID and logs each
// request once it completes.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(application.ContextWithRequestID(r.Context(), id)))

		s.logger.DebugContext(r.Context(), "request served",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)))
	})
}
