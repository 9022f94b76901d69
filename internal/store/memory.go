package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jjudge-oj/authserver/types"
)

// MemoryUserRepository keeps users in process memory. It enforces the same
// uniqueness rules as the database backends.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	users   map[string]types.User
	byEmail map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:   make(map[string]types.User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryUserRepository) GetByUsername(_ context.Context, username string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[username]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.RLock()
	username, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return types.User{}, ErrNotFound
	}
	return r.GetByUsername(ctx, username)
}

func (r *MemoryUserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[user.Username]; exists {
		return types.User{}, ErrConflict
	}
	if _, exists := r.byEmail[user.Email]; exists {
		return types.User{}, ErrConflict
	}

	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.RefreshTokenHash = nil
	user.RefreshTokenExpiresAt = nil

	r.users[user.Username] = user
	r.byEmail[user.Email] = user.Username
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) SetRefreshToken(_ context.Context, username, hash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[username]
	if !ok {
		return ErrNotFound
	}
	user.RefreshTokenHash = &hash
	user.RefreshTokenExpiresAt = &expiresAt
	user.UpdatedAt = time.Now().UTC()
	r.users[username] = user
	return nil
}

func (r *MemoryUserRepository) ClearRefreshToken(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[username]
	if !ok {
		return ErrNotFound
	}
	user.RefreshTokenHash = nil
	user.RefreshTokenExpiresAt = nil
	user.UpdatedAt = time.Now().UTC()
	r.users[username] = user
	return nil
}

// Delete removes a user. Only tests and tooling call it; the auth flows never delete accounts.
func (r *MemoryUserRepository) Delete(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[username]
	if !ok {
		return ErrNotFound
	}
	delete(r.users, username)
	delete(r.byEmail, user.Email)
	return nil
}

func cloneUser(user types.User) types.User {
	if user.RefreshTokenHash != nil {
		hash := *user.RefreshTokenHash
		user.RefreshTokenHash = &hash
	}
	if user.RefreshTokenExpiresAt != nil {
		expiresAt := *user.RefreshTokenExpiresAt
		user.RefreshTokenExpiresAt = &expiresAt
	}
	return user
}
