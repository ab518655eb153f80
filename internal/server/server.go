// Package server assembles the cloakd HTTP surface: routing, middleware,
// and lifecycle.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/cloakd/internal/errors"
	"github.com/3leaps/cloakd/internal/observability"
	"github.com/3leaps/cloakd/internal/server/handlers"
	"github.com/3leaps/cloakd/internal/server/middleware"
)

// Options carries the wiring for a server instance.
type Options struct {
	Build  handlers.BuildInfo
	Health *handlers.HealthManager
	Jobs   *handlers.JobsAPI

	// APIKey guards the /api routes; empty disables auth.
	APIKey string

	// RateRPS/RateBurst bound job submissions. Non-positive RateRPS
	// disables limiting.
	RateRPS   float64
	RateBurst int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server is the cloakd HTTP server.
type Server struct {
	host string
	port int
	opts Options

	router chi.Router
	http   *http.Server
}

// New builds a server with its full route table. It does not listen yet.
func New(host string, port int, opts Options) *Server {
	s := &Server{host: host, port: port, opts: opts}
	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return s
}

// Handler exposes the router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Start listens until ctx is cancelled, then shuts down gracefully within
// the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	if s.opts.APIKey == "" {
		observability.ServerLogger.Warn("API key auth is disabled; /api is open")
	}

	errCh := make(chan error, 1)
	go func() {
		observability.ServerLogger.Info("http server listening",
			zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	observability.ServerLogger.Info("http server shutting down")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)

	r.NotFound(apperrors.NotFoundHandler)
	r.MethodNotAllowed(apperrors.MethodNotAllowedHandler)

	r.Get("/", s.indexHandler)
	r.Get("/version", handlers.VersionHandler(s.opts.Build))
	if s.opts.Health != nil {
		r.Get("/health", s.opts.Health.HealthHandler)
	}

	if s.opts.Jobs != nil {
		r.Route("/api", func(api chi.Router) {
			api.Use(middleware.APIKey(s.opts.APIKey))

			submit := func(h http.HandlerFunc) http.Handler {
				if s.opts.RateRPS > 0 {
					return middleware.RateLimit(s.opts.RateRPS, s.opts.RateBurst)(h)
				}
				return h
			}

			api.Method(http.MethodPost, "/anon", submit(s.opts.Jobs.SubmitSync))
			api.Method(http.MethodPost, "/anon/jobs", submit(s.opts.Jobs.SubmitAsync))
			api.Get("/anon/jobs", s.opts.Jobs.List)
			api.Get("/anon/jobs/{id}", s.opts.Jobs.Status)
			api.Get("/anon/jobs/{id}/logs", s.opts.Jobs.Logs)
		})
	}

	return r
}

// indexHandler describes the service surface for humans poking at the root.
func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"service": "cloakd",
		"endpoints": map[string]string{
			"health":     "GET /health",
			"version":    "GET /version",
			"batch":      "POST /api/anon",
			"submit":     "POST /api/anon/jobs",
			"job_status": "GET /api/anon/jobs/{id}",
			"job_logs":   "GET /api/anon/jobs/{id}/logs",
		},
	})
}
