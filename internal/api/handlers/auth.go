// Package handlers contains the HTTP handler implementations for the Opsight
// dashboard API: auth, AI insights, alert rules, CSV uploads, billing
// checkout, and the billing webhook entry point.
package handlers

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"opsight/internal/core"
	"opsight/internal/types"
)

// --- Service Interfaces ---
//
// Interfaces are defined locally per handler so each depends only on the
// methods it actually calls and tests can supply hand-rolled fakes.

// LoginService performs credential verification and session lifecycle.
// Mirrors the concrete auth.Service methods used by this handler.
type LoginService interface {
	Login(ctx context.Context, email, password, ip, userAgent string) (*types.User, *types.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// --- Request/Response Models ---

// LoginRequest is the request body for POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the success body for POST /v1/auth/login. The session ID
// travels only in the cookie, never in the body.
type LoginResponse struct {
	User loginUser `json:"user"`
}

type loginUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// --- Handler ---

// CookieSettings controls the session cookie the auth handler issues.
type CookieSettings struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// AuthHandler serves login and logout.
type AuthHandler struct {
	svc       LoginService
	validator *core.Validator
	cookie    CookieSettings
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc LoginService, v *core.Validator, cookie CookieSettings) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "opsight_session"
	}
	return &AuthHandler{svc: svc, validator: v, cookie: cookie}
}

// RegisterPublicRoutes mounts the unauthenticated auth routes.
func (h *AuthHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
}

// RegisterRoutes mounts the session-protected auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/logout", h.Logout)
}

// Login handles POST /v1/auth/login. On success it sets the session cookie
// and returns the user profile.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	user, session, err := h.svc.Login(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	http.SetCookie(w, h.sessionCookie(session.ID, h.cookie.MaxAge))

	core.JSON(w, r, http.StatusOK, LoginResponse{
		User: loginUser{ID: user.ID, Email: user.Email, Name: user.Name},
	})
}

// Logout handles POST /v1/auth/logout. It deletes the server-side session and
// expires the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionMissing, "authentication required", nil))
		return
	}

	if err := h.svc.Logout(r.Context(), actor.SessionID); err != nil {
		core.Error(w, r, err)
		return
	}

	http.SetCookie(w, h.sessionCookie("", -time.Second))

	core.JSON(w, r, http.StatusOK, map[string]bool{"logged_out": true})
}

func (h *AuthHandler) sessionCookie(value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// clientIP extracts the remote address without the port. Proxy headers are
// not consulted; the platform terminates TLS at the app, not behind an LB
// that rewrites RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
