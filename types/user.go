package types

import "time"

// DefaultRole is the only role an account can hold.
const DefaultRole = "user"

// User represents an account in the system.
// It contains identity, credentials and the state of its refresh-token slot.
type User struct {
	// ID is the opaque unique identifier of the user.
	ID string `json:"id" db:"id" bson:"_id"`

	// Username is the login name chosen by the user. Accounts are looked up by it.
	Username string `json:"username" db:"username" bson:"username"`

	// Email is the user's email address, stored lower-cased and unique.
	Email string `json:"email" db:"email" bson:"email"`

	// Role is always DefaultRole.
	Role string `json:"role" db:"role" bson:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash" bson:"password_hash"`

	// RefreshTokenHash is the argon2id hash of the single live refresh token,
	// or nil when the user has no session.
	RefreshTokenHash *string `json:"-" db:"refresh_token_hash" bson:"refresh_token_hash"`

	// RefreshTokenExpiresAt is the absolute expiry of the live refresh token.
	// It is set and cleared together with RefreshTokenHash.
	RefreshTokenExpiresAt *time.Time `json:"-" db:"refresh_token_expires_at" bson:"refresh_token_expires_at"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at" bson:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" bson:"updated_at"`
}

// HasSession reports whether the user currently holds a refresh token.
func (u User) HasSession() bool {
	return u.RefreshTokenHash != nil && u.RefreshTokenExpiresAt != nil
}
