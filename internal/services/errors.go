package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when a request is missing or has malformed fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when registration collides with an existing account.
	ErrConflict      = errors.New("already exists")
	ErrUsernameTaken = fmt.Errorf("%w: username already exists", ErrConflict)
	ErrEmailTaken    = fmt.Errorf("%w: email already registered", ErrConflict)

	// ErrUnauthorized is the kind shared by every credential and token rejection.
	// The wrapped variants keep the reasons distinguishable for logging and responses.
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidCredentials  = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	ErrInvalidToken        = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrTokenExpired        = fmt.Errorf("%w: token expired", ErrUnauthorized)
	ErrInvalidRefreshToken = fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	ErrRefreshTokenExpired = fmt.Errorf("%w: refresh token expired", ErrUnauthorized)

	// ErrNotFound is returned when a validated identity no longer has a record.
	ErrNotFound = errors.New("not found")
)
