package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jjudge-oj/authserver/types"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const selectUserColumns = `
		SELECT id, username, email, role, password_hash,
		       refresh_token_hash, refresh_token_expires_at, created_at, updated_at
		FROM users`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	const query = selectUserColumns + `
		WHERE username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = selectUserColumns + `
		WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.RefreshTokenHash = nil
	user.RefreshTokenExpiresAt = nil

	const query = `
		INSERT INTO users (id, username, email, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Username,
		user.Email,
		user.Role,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}
	return user, nil
}

// SetRefreshToken overwrites the user's refresh-token slot.
func (r *UserRepository) SetRefreshToken(ctx context.Context, username, hash string, expiresAt time.Time) error {
	const query = `
		UPDATE users
		SET refresh_token_hash = $1,
			refresh_token_expires_at = $2,
			updated_at = $3
		WHERE username = $4`
	result, err := r.db.ExecContext(ctx, query, hash, expiresAt, time.Now().UTC(), username)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// ClearRefreshToken empties the user's refresh-token slot.
func (r *UserRepository) ClearRefreshToken(ctx context.Context, username string) error {
	const query = `
		UPDATE users
		SET refresh_token_hash = NULL,
			refresh_token_expires_at = NULL,
			updated_at = $1
		WHERE username = $2`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), username)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	var refreshHash sql.NullString
	var refreshExpiresAt sql.NullTime
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Role,
		&user.PasswordHash,
		&refreshHash,
		&refreshExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	if refreshHash.Valid && refreshExpiresAt.Valid {
		user.RefreshTokenHash = &refreshHash.String
		user.RefreshTokenExpiresAt = &refreshExpiresAt.Time
	}
	return user, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
