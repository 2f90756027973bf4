package core

import (
	"errors"
	"log/slog"
	"net/http"

	"opsight/internal/types"
)

// AuthMiddleware wraps handlers requiring an authenticated dashboard session.
//
//  1. Reads the session cookie (name from config).
//  2. Calls Authenticator.ResolveSession to resolve the cookie to an Actor.
//  3. Injects the Actor into the request context via types.WithActor.
//  4. Returns 401 Unauthorized on failure with distinct error codes:
//     - auth_session_missing: No session cookie on the request.
//     - auth_session_invalid: Session not found or malformed.
//     - auth_session_expired: Session exists but has expired.
//     A valid session whose user row no longer exists is not an auth failure;
//     it surfaces as not_found_user with a 404.
//
// If the Authenticator field on Server is nil (e.g., during tests that don't
// inject one), the middleware passes through without authentication.
//
// The middleware is applied per route group: login, health, and webhook
// routes are mounted outside it.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(s.sessionCookieName())
		if err != nil || cookie.Value == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthSessionMissing, "authentication required")
			return
		}

		actor, err := s.Authenticator.ResolveSession(r.Context(), cookie.Value)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil {
			s.writeAuthError(w, r, types.ErrCodeAuthSessionInvalid, "invalid session")
			return
		}

		ctx := types.WithActor(r.Context(), *actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionCookieName returns the configured session cookie name, falling back
// to the default when config is absent (tests).
func (s *Server) sessionCookieName() string {
	if s.Config != nil && s.Config.Auth.SessionCookieName != "" {
		return s.Config.Auth.SessionCookieName
	}
	return "opsight_session"
}

// handleAuthError inspects the error from ResolveSession and writes the
// appropriate response. Session failures map to 401 with the matching auth
// code; a missing user row keeps its not_found_user code and status.
func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeNotFoundUser:
			s.Logger.Warn("authentication failed: session user no longer exists",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			Error(w, r, appErr)
			return
		case types.ErrCodeAuthSessionExpired:
			s.Logger.Warn("authentication failed: session expired",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthSessionExpired, "session has expired")
			return
		case types.ErrCodeAuthSessionInvalid:
			s.Logger.Warn("authentication failed: session invalid",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthSessionInvalid, "invalid session")
			return
		}
	}

	// Generic error: log it but don't leak internal details.
	s.Logger.Error("authentication failed: unexpected error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeAuthError(w, r, types.ErrCodeAuthSessionInvalid, "authentication failed")
}

// writeAuthError writes a 401 Unauthorized JSON response with the given code.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	resp := APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	}
	JSON(w, r, http.StatusUnauthorized, resp)
}
