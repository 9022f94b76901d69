package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jjudge-oj/authserver/internal/metrics"
	"github.com/jjudge-oj/authserver/internal/services"
)

const (
	RefreshCookieName = "refreshToken"
	refreshCookiePath = "/auth"
	tokenType         = "Bearer"
)

// CookieConfig controls the cookie that carries the session between requests.
type CookieConfig struct {
	Secure bool
	MaxAge time.Duration
}

// AuthHandler provides the registration and token lifecycle endpoints.
type AuthHandler struct {
	auth    *services.AuthService
	users   *services.UserService
	cookie  CookieConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(
	authService *services.AuthService,
	userService *services.UserService,
	cookie CookieConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuthHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AuthHandler{
		auth:    authService,
		users:   userService,
		cookie:  cookie,
		metrics: m,
		logger:  logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/refresh", handler.Refresh)
	r.Post("/logout", handler.Logout)
	r.With(handler.RequireAuth).Get("/profile", handler.Profile)
}

// RequireAuth validates the bearer access token and injects its subject into
// the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			h.metrics.ObserveAuth("authorize", metrics.OutcomeRejected)
			writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}

		subject, err := h.auth.Authorize(tokenString)
		if err != nil {
			h.fail(w, r, "authorize", err)
			return
		}

		h.metrics.ObserveAuth("authorize", metrics.OutcomeSuccess)
		next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), subject)))
	})
}

// Register creates a new user account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.metrics.ObserveAuth("register", metrics.OutcomeRejected)
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if _, err := h.users.Register(r.Context(), req.Username, req.Email, req.Password); err != nil {
		h.fail(w, r, "register", err)
		return
	}

	h.metrics.ObserveAuth("register", metrics.OutcomeSuccess)
	writeMessage(w, http.StatusCreated, "User registered successfully")
}

// Login verifies credentials, returns an access token and sets the session
// cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.metrics.ObserveAuth("login", metrics.OutcomeRejected)
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	session, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}

	h.metrics.ObserveAuth("login", metrics.OutcomeSuccess)
	h.setSessionCookie(w, session.Carrier)
	writeJSON(w, http.StatusOK, h.tokenResponse(session, "Login successful"))
}

// Refresh rotates the session named by the cookie.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	carrier, ok := sessionCookie(r)
	if !ok {
		h.metrics.ObserveAuth("refresh", metrics.OutcomeRejected)
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	session, err := h.auth.Refresh(r.Context(), carrier)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			h.clearSessionCookie(w)
		}
		h.fail(w, r, "refresh", err)
		return
	}

	h.metrics.ObserveAuth("refresh", metrics.OutcomeSuccess)
	h.setSessionCookie(w, session.Carrier)
	writeJSON(w, http.StatusOK, h.tokenResponse(session, "Token refreshed successfully"))
}

// Logout revokes the session named by the cookie, if any, and always clears
// the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	outcome := metrics.OutcomeRejected
	if carrier, ok := sessionCookie(r); ok && h.auth.Logout(r.Context(), carrier) {
		outcome = metrics.OutcomeSuccess
	}
	h.metrics.ObserveAuth("logout", outcome)

	h.clearSessionCookie(w)
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

// Profile returns the account of the authenticated caller.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	username, err := subjectFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	user, err := h.auth.Profile(r.Context(), username)
	if err != nil {
		h.fail(w, r, "profile", err)
		return
	}

	h.metrics.ObserveAuth("profile", metrics.OutcomeSuccess)
	writeJSON(w, http.StatusOK, ProfileResponse{
		Username: user.Username,
		Email:    user.Email,
		Message:  "Welcome, " + user.Username,
	})
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Message     string `json:"message"`
}

type ProfileResponse struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Message  string `json:"message"`
}

func (h *AuthHandler) tokenResponse(session services.Session, message string) TokenResponse {
	return TokenResponse{
		AccessToken: session.AccessToken,
		TokenType:   tokenType,
		ExpiresIn:   int64(h.auth.AccessTokenTTL().Seconds()),
		Message:     message,
	}
}

// fail maps a service error to its HTTP response. Anything unrecognised is
// logged and reported as a bare internal error.
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		h.metrics.ObserveAuth(operation, metrics.OutcomeError)
		h.logger.ErrorContext(r.Context(), "auth operation failed",
			slog.String("operation", operation),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
	} else {
		h.metrics.ObserveAuth(operation, metrics.OutcomeRejected)
	}
	writeError(w, status, message)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrUsernameTaken):
		return http.StatusConflict, "username already exists"
	case errors.Is(err, services.ErrEmailTaken):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, "already exists"
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, services.ErrInvalidRefreshToken), errors.Is(err, services.ErrRefreshTokenExpired):
		return http.StatusUnauthorized, "invalid or expired refresh token"
	case errors.Is(err, services.ErrTokenExpired):
		return http.StatusUnauthorized, "token expired"
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized, "invalid token"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "user not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, carrier string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    carrier,
		Path:     refreshCookiePath,
		MaxAge:   int(h.cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func sessionCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return "", false
	}
	return cookie.Value, true
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
