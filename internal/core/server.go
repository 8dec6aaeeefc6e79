// Package core provides the API chassis for the TrekMate platform. It
// creates a chi router and enforces cross-cutting concerns -- recovery,
// request correlation, logging, identity, and error handling -- before
// requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trekmate/internal/config"
)

// RouteRegistrar mounts a group of domain handler routes onto the v1 router.
// Registrars are populated by the application entry point; the indirection
// avoids import cycles between core and handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the HTTP-facing dependencies of the TrekMate API,
// allowing easy injection during testing and distinct configuration for
// different environments.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	// V1RouteRegistrars are executed in order when MountRoutes runs.
	V1RouteRegistrars []RouteRegistrar

	// HealthProbes are checked concurrently by the /health endpoint.
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer initializes the router and prepares the server for route
// mounting. It performs a fail-fast check on critical dependencies. The
// caller is responsible for mounting routes after construction; this
// separation allows tests to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router, used by
// http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration. Used
// internally by route-mounting methods and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// MountRoutes registers the global middleware chain, the v1 API group, and
// the top-level health endpoint.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})

	s.router.Get("/health", s.HandleHealth)
}

// registerGlobalMiddleware applies middleware in strict order.
//
// Ordering rationale:
//  1. Recoverer       - outermost so every panic is caught.
//  2. ContextTimeout  - soft deadline before any work starts.
//  3. RequestID       - correlation ID for logs and responses.
//  4. SecurityHeaders - present on every response including errors.
//  5. RequestLogger   - structured logging with redacted headers.
//  6. Identity        - resolves the caller's user id into the context.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.Config.Server.RequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(IdentityMiddleware)
}

// Shutdown performs a graceful termination of server-held resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")
	s.Logger.Info("server shutdown complete")
	return nil
}
