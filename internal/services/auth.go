package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jjudge-oj/authserver/internal/security"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/types"
)

// Session is what a successful login or refresh hands back to the caller.
// Carrier is the opaque value the transport keeps out of reach of scripts.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	Carrier          string
	RefreshExpiresAt time.Time
}

// AuthConfig tunes the token lifecycle.
type AuthConfig struct {
	RefreshTokenTTL time.Duration
	Argon2          security.Argon2Params
	// Now is the wall clock used for refresh-token expiry. Defaults to time.Now.
	Now func() time.Time
}

// AuthService moves a user between NoSession and ActiveSession. Access tokens
// are validated without touching the store; refresh tokens always are, and a
// user holds at most one live refresh token.
type AuthService struct {
	users      *UserService
	repo       UserRepository
	tokens     *security.TokenIssuer
	refreshTTL time.Duration
	argon2     security.Argon2Params
	now        func() time.Time
	events     *Events
	logger     *slog.Logger
}

func NewAuthService(
	users *UserService,
	repo UserRepository,
	tokens *security.TokenIssuer,
	cfg AuthConfig,
	events *Events,
	logger *slog.Logger,
) *AuthService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AuthService{
		users:      users,
		repo:       repo,
		tokens:     tokens,
		refreshTTL: cfg.RefreshTokenTTL,
		argon2:     cfg.Argon2,
		now:        cfg.Now,
		events:     events,
		logger:     logger,
	}
}

// AccessTokenTTL is the lifetime of issued access tokens.
func (s *AuthService) AccessTokenTTL() time.Duration {
	return s.tokens.TTL()
}

// Login checks credentials and starts a session, replacing any previous one.
// Unknown users and wrong passwords fail identically.
func (s *AuthService) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, fmt.Errorf("%w: missing credentials", ErrInvalidInput)
	}

	ok, err := s.users.Authenticate(ctx, username, password)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		s.events.emit(ctx, types.EventLoginFailed, username)
		return Session{}, ErrInvalidCredentials
	}

	session, err := s.startSession(ctx, username)
	if err != nil {
		return Session{}, err
	}
	s.events.emit(ctx, types.EventSessionStarted, username)
	return session, nil
}

// Refresh rotates the session identified by carrier. The presented refresh
// token stops working as soon as the new hash overwrites it.
func (s *AuthService) Refresh(ctx context.Context, carrier string) (Session, error) {
	username, token, err := security.DecodeCarrier(carrier)
	if err != nil {
		return Session{}, ErrInvalidRefreshToken
	}

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrInvalidRefreshToken
		}
		return Session{}, fmt.Errorf("load user: %w", err)
	}

	if user.RefreshTokenHash == nil || user.RefreshTokenExpiresAt == nil {
		return Session{}, ErrInvalidRefreshToken
	}
	if !s.now().Before(*user.RefreshTokenExpiresAt) {
		return Session{}, ErrRefreshTokenExpired
	}
	if !s.verifyRefreshToken(ctx, username, token, *user.RefreshTokenHash) {
		return Session{}, ErrInvalidRefreshToken
	}

	session, err := s.startSession(ctx, username)
	if err != nil {
		return Session{}, err
	}
	s.events.emit(ctx, types.EventSessionRefreshed, username)
	return session, nil
}

// Logout clears the refresh-token slot of the user the carrier belongs to.
// It never fails: a missing, malformed or stale carrier simply revokes nothing.
// The carrier's token must match the stored hash, so a forged carrier cannot
// end someone else's session. Reports whether a session was revoked.
func (s *AuthService) Logout(ctx context.Context, carrier string) bool {
	if strings.TrimSpace(carrier) == "" {
		return false
	}

	username, token, err := security.DecodeCarrier(carrier)
	if err != nil {
		return false
	}

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.ErrorContext(ctx, "logout lookup failed", slog.String("username", username), slog.Any("error", err))
		}
		return false
	}
	if user.RefreshTokenHash == nil || !s.verifyRefreshToken(ctx, username, token, *user.RefreshTokenHash) {
		return false
	}

	if err := s.repo.ClearRefreshToken(ctx, username); err != nil {
		s.logger.ErrorContext(ctx, "logout revoke failed", slog.String("username", username), slog.Any("error", err))
		return false
	}
	s.events.emit(ctx, types.EventSessionRevoked, username)
	return true
}

// Authorize validates an access token by signature and expiry alone and
// returns its subject.
func (s *AuthService) Authorize(accessToken string) (string, error) {
	subject, err := s.tokens.Parse(accessToken)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	return subject, nil
}

// Profile returns the account behind an authorized subject.
func (s *AuthService) Profile(ctx context.Context, username string) (types.User, error) {
	return s.users.Find(ctx, username)
}

func (s *AuthService) startSession(ctx context.Context, username string) (Session, error) {
	access, accessExpiresAt, err := s.tokens.Issue(username)
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}

	refresh, err := security.NewRefreshToken()
	if err != nil {
		return Session{}, err
	}
	hash, err := security.HashRefreshToken(refresh, s.argon2)
	if err != nil {
		return Session{}, fmt.Errorf("hash refresh token: %w", err)
	}

	refreshExpiresAt := s.now().Add(s.refreshTTL)
	if err := s.repo.SetRefreshToken(ctx, username, hash, refreshExpiresAt); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrUnauthorized
		}
		return Session{}, fmt.Errorf("store refresh token: %w", err)
	}

	return Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExpiresAt,
		Carrier:          security.EncodeCarrier(username, refresh),
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

func (s *AuthService) verifyRefreshToken(ctx context.Context, username, token, hash string) bool {
	ok, err := security.VerifyRefreshToken(token, hash)
	if err != nil {
		s.logger.WarnContext(ctx, "stored refresh token hash unreadable", slog.String("username", username), slog.Any("error", err))
		return false
	}
	return ok
}
