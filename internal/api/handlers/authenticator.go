package handlers

import (
	"context"

	"opsight/internal/auth"
	"opsight/internal/types"
)

// AuthUserRepo resolves the user a session belongs to.
type AuthUserRepo interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// SessionAuthenticator implements core.Authenticator on top of the session
// service: it validates the cookie value and resolves the owning user into
// the Actor that travels in the request context.
type SessionAuthenticator struct {
	sessions *auth.SessionService
	users    AuthUserRepo
}

// NewSessionAuthenticator creates a SessionAuthenticator.
func NewSessionAuthenticator(sessions *auth.SessionService, users AuthUserRepo) *SessionAuthenticator {
	return &SessionAuthenticator{sessions: sessions, users: users}
}

// ResolveSession validates a session ID and returns the acting user. The user
// lookup error passes through unchanged: a valid session whose user row has
// disappeared surfaces as not_found_user (404), not as an auth failure.
func (a *SessionAuthenticator) ResolveSession(ctx context.Context, sessionID string) (*types.Actor, error) {
	session, err := a.sessions.ValidateSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	user, err := a.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	return &types.Actor{
		UserID:    user.ID,
		Email:     user.Email,
		SessionID: session.ID,
	}, nil
}
