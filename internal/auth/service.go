package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"opsight/internal/types"
)

// defaultBcryptCost is the bcrypt cost factor used for password hashing when
// no explicit cost is configured.
const defaultBcryptCost = 12

// UserRepo defines the data access methods needed by the AuthService.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*types.User, error)
}

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

// bcryptHasher is the production implementation of PasswordHasher.
type bcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt-backed PasswordHasher. A cost of 0 uses
// the default cost of 12.
func NewBcryptHasher(cost int) PasswordHasher {
	if cost == 0 {
		cost = defaultBcryptCost
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (b *bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CanonicalizeEmail normalizes email addresses for consistent DB lookups.
func CanonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Service implements email/password login against the users table.
type Service struct {
	users      UserRepo
	sessionSvc *SessionService
	hasher     PasswordHasher
	logger     *slog.Logger
}

// NewService creates a new auth Service. A nil hasher falls back to bcrypt
// with the default cost, a nil logger to slog.Default.
func NewService(users UserRepo, sessionSvc *SessionService, hasher PasswordHasher, logger *slog.Logger) *Service {
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:      users,
		sessionSvc: sessionSvc,
		hasher:     hasher,
		logger:     logger,
	}
}

// Login verifies the email/password pair and creates a session on success.
//
// Unknown emails and wrong passwords return the same invalid-credentials
// error so the endpoint cannot be used to enumerate accounts.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (*types.User, *types.Session, error) {
	email = CanonicalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser {
			return nil, nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
		}
		return nil, nil, err
	}

	if err := s.hasher.CompareHashAndPassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login failed", "email", email, "ip", ip)
		return nil, nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
	}

	session, err := s.sessionSvc.CreateSession(ctx, user.ID, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("login succeeded", "user_id", user.ID, "ip", ip)
	return user, session, nil
}

// Logout invalidates the given session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessionSvc.InvalidateSession(ctx, sessionID)
}
