package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"opsight/internal/types"
)

// SessionRepo provides data access for the sessions table.
type SessionRepo struct {
	db DBTX
}

// NewSessionRepo creates a new SessionRepo backed by the given database connection.
func NewSessionRepo(db DBTX) *SessionRepo {
	return &SessionRepo{db: db}
}

// Create inserts a new session row.
func (r *SessionRepo) Create(ctx context.Context, s *types.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, user_agent, ip_address, expires_at, last_activity_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, s.UserAgent, s.IPAddress, s.ExpiresAt, s.LastActivityAt, s.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create session", err)
	}
	return nil
}

// GetByID returns the session with the given ID.
func (r *SessionRepo) GetByID(ctx context.Context, sessionID string) (*types.Session, error) {
	var s types.Session
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, user_agent, ip_address, expires_at, last_activity_at, created_at
		FROM sessions
		WHERE id = $1`, sessionID,
	).Scan(&s.ID, &s.UserID, &s.UserAgent, &s.IPAddress, &s.ExpiresAt, &s.LastActivityAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthSessionInvalid, "session not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load session", err)
	}
	return &s, nil
}

// Touch advances last_activity_at for sliding-window session extension.
func (r *SessionRepo) Touch(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sessions SET last_activity_at = $2 WHERE id = $1`,
		sessionID, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to touch session", err)
	}
	return nil
}

// DeleteByID removes a session (logout).
func (r *SessionRepo) DeleteByID(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete session", err)
	}
	return nil
}
