package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jjudge-oj/authserver/config"
	"github.com/jjudge-oj/authserver/internal/db"
	"github.com/jjudge-oj/authserver/internal/handlers"
	"github.com/jjudge-oj/authserver/internal/metrics"
	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/jjudge-oj/authserver/internal/security"
	"github.com/jjudge-oj/authserver/internal/services"
	"github.com/jjudge-oj/authserver/internal/store"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	closers    []func(context.Context) error
}

// backend is the user repository selected by config plus its lifecycle hooks.
type backend struct {
	repo    services.UserRepository
	healthy func(context.Context) error
	close   func(context.Context) error
}

// New wires the store, event stream, services and routes described by cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{logger: logger}

	users, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if users.close != nil {
		s.closers = append(s.closers, users.close)
	}

	var publisher services.EventPublisher
	if cfg.MQBackend != "" {
		broker, err := mq.Open(ctx, cfg)
		if err != nil {
			_ = s.close(ctx)
			return nil, fmt.Errorf("open %s event stream: %w", cfg.MQBackend, err)
		}
		stream := mq.NewEventStream(broker, cfg.EventsChannel)
		s.closers = append(s.closers, func(context.Context) error { return stream.Close() })
		publisher = stream
	}

	m := metrics.New()
	s.router = newRouter(cfg, users, publisher, m, logger)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func newRouter(
	cfg config.Config,
	users backend,
	publisher services.EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *chi.Mux {
	events := services.NewEvents(publisher, logger, time.Now)
	tokens := security.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, time.Now)

	argon2 := security.DefaultArgon2Params()
	argon2.Memory = uint32(cfg.Auth.Argon2.Memory)
	argon2.Iterations = uint32(cfg.Auth.Argon2.Iterations)
	argon2.Parallelism = uint8(cfg.Auth.Argon2.Parallelism)

	userService := services.NewUserService(users.repo, 0, events)
	authService := services.NewAuthService(userService, users.repo, tokens, services.AuthConfig{
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
		Argon2:          argon2,
	}, events, logger)

	authHandler := handlers.NewAuthHandler(authService, userService, handlers.CookieConfig{
		Secure: cfg.Auth.CookieSecure,
		MaxAge: cfg.Auth.RefreshTokenTTL,
	}, m, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		handlers.RequestLogger(logger, m),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz(users.healthy, logger))
	router.Method(http.MethodGet, "/metrics", m.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})
	return router
}

func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.StoreBackend {
	case "postgres":
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return backend{}, err
		}
		return backend{
			repo:    store.NewUserRepository(conn),
			healthy: conn.PingContext,
			close:   func(context.Context) error { return conn.Close() },
		}, nil
	case "mongo":
		client, database, err := db.OpenMongo(ctx, cfg.Mongo)
		if err != nil {
			return backend{}, err
		}
		repo := store.NewMongoUserRepository(database)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return backend{}, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return backend{
			repo:    repo,
			healthy: func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) },
			close:   client.Disconnect,
		}, nil
	case "memory":
		return backend{repo: store.NewMemoryUserRepository()}, nil
	default:
		return backend{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and then releases the store and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.close(ctx))
}

func (s *Server) close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
