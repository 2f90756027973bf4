package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"opsight/internal/types"
)

// UserRepo provides data access for the users table.
type UserRepo struct {
	db DBTX
}

// NewUserRepo creates a new UserRepo backed by the given database connection.
func NewUserRepo(db DBTX) *UserRepo {
	return &UserRepo{db: db}
}

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *types.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, email, name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictEmail, "an account with this email already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create user", err)
	}
	return nil
}

// GetByID returns the user with the given ID.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*types.User, error) {
	return r.scanOne(r.db.QueryRow(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM users
		WHERE id = $1`, id))
}

// GetByEmail returns the user with the given email, the identity key.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	return r.scanOne(r.db.QueryRow(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM users
		WHERE email = $1`, email))
}

func (r *UserRepo) scanOne(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load user", err)
	}
	return &u, nil
}
