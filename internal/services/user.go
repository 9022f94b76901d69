package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jjudge-oj/authserver/internal/security"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/types"
)

const maxUsernameLength = 64

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	SetRefreshToken(ctx context.Context, username, hash string, expiresAt time.Time) error
	ClearRefreshToken(ctx context.Context, username string) error
}

// UserService owns account records: registration, credential checks and lookup.
type UserService struct {
	repo         UserRepository
	passwordCost int
	events       *Events
}

// NewUserService constructs a UserService. A zero passwordCost uses bcrypt's default.
func NewUserService(repo UserRepository, passwordCost int, events *Events) *UserService {
	return &UserService{repo: repo, passwordCost: passwordCost, events: events}
}

// Register creates an account. Usernames are case-sensitive; emails are
// compared lower-cased.
func (s *UserService) Register(ctx context.Context, username, email, password string) (types.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validateRegistration(username, email, password); err != nil {
		return types.User{}, err
	}

	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return types.User{}, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("check username: %w", err)
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return types.User{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("check email: %w", err)
	}

	hashed, err := security.HashPassword(password, s.passwordCost)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, types.User{
		Username:     username,
		Email:        email,
		Role:         types.DefaultRole,
		PasswordHash: hashed,
	})
	if err != nil {
		// Lost a race with a concurrent registration; the unique index caught it.
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, ErrConflict
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}

	s.events.emit(ctx, types.EventUserRegistered, user.Username)
	return user, nil
}

// Authenticate reports whether password matches the stored hash for username.
// Unknown users fail closed with false.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (bool, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load user: %w", err)
	}
	return security.ComparePassword(user.PasswordHash, password), nil
}

// Find returns the account for username or ErrNotFound.
func (s *UserService) Find(ctx context.Context, username string) (types.User, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func validateRegistration(username, email, password string) error {
	if username == "" || email == "" || password == "" {
		return fmt.Errorf("%w: missing required fields", ErrInvalidInput)
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return fmt.Errorf("%w: username exceeds %d characters", ErrInvalidInput, maxUsernameLength)
	}
	if len(password) > security.MaxPasswordBytes {
		return fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidInput, security.MaxPasswordBytes)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return nil
}
