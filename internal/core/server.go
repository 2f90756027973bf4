// Package core provides the API chassis for the Opsight backend: a chi
// router with the cross-cutting middleware chain (recovery, request IDs,
// structured logging, CORS, cookie session auth) applied before requests
// reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"opsight/internal/config"
	"opsight/internal/types"
)

// Authenticator resolves a session cookie value to an Actor. Implemented in
// the api package on top of the auth.SessionService; injected for testability.
type Authenticator interface {
	ResolveSession(ctx context.Context, sessionID string) (*types.Actor, error)
}

// Server encapsulates the dependencies of the HTTP API, allowing injection
// during testing and distinct configuration for different environments.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Authenticator Authenticator

	// V1RouteRegistrars are called under /v1 inside the session auth
	// middleware by MountRoutes. Populated by the application entry point;
	// this indirection avoids import cycles between core and handler
	// packages.
	V1RouteRegistrars []func(chi.Router)

	// V1PublicRegistrars are called under /v1 outside the session auth
	// middleware (login and other unauthenticated endpoints).
	V1PublicRegistrars []func(chi.Router)

	// WebhookRegistrars are called under /webhooks, outside the session
	// auth path. Providers authenticate with signatures, not cookies.
	WebhookRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. Critical configuration is checked fail-fast.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction, which lets tests customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server-held resources. The
// database pool is owned and closed by main; the server only flushes its own
// state.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
