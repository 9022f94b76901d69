package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jjudge-oj/authserver/internal/security"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/types"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.AuthEvent
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, event types.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) eventTypes() []types.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.EventType, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

// failingRepo wraps a repository and fails selected operations.
type failingRepo struct {
	UserRepository
	failGet   bool
	failSet   bool
	failClear bool
}

var errStoreDown = errors.New("store down")

func (r *failingRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	if r.failGet {
		return types.User{}, errStoreDown
	}
	return r.UserRepository.GetByUsername(ctx, username)
}

func (r *failingRepo) SetRefreshToken(ctx context.Context, username, hash string, expiresAt time.Time) error {
	if r.failSet {
		return errStoreDown
	}
	return r.UserRepository.SetRefreshToken(ctx, username, hash, expiresAt)
}

func (r *failingRepo) ClearRefreshToken(ctx context.Context, username string) error {
	if r.failClear {
		return errStoreDown
	}
	return r.UserRepository.ClearRefreshToken(ctx, username)
}

type fixture struct {
	auth   *AuthService
	users  *UserService
	mem    *store.MemoryUserRepository
	repo   *failingRepo
	clock  *testClock
	events *recordingPublisher
	tokens *security.TokenIssuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mem := store.NewMemoryUserRepository()
	repo := &failingRepo{UserRepository: mem}
	publisher := &recordingPublisher{}
	events := NewEvents(publisher, nil, clock.Now)
	tokens := security.NewTokenIssuer(testSecret, time.Hour, clock.Now)

	users := NewUserService(repo, bcrypt.MinCost, events)
	auth := NewAuthService(users, repo, tokens, AuthConfig{
		RefreshTokenTTL: 7 * 24 * time.Hour,
		Argon2:          security.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		Now:             clock.Now,
	}, events, nil)

	return &fixture{
		auth:   auth,
		users:  users,
		mem:    mem,
		repo:   repo,
		clock:  clock,
		events: publisher,
		tokens: tokens,
	}
}
