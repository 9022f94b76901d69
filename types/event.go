package types

import "time"

// EventType names a transition in the credential and session lifecycle.
type EventType string

const (
	EventUserRegistered   EventType = "user.registered"
	EventSessionStarted   EventType = "session.started"
	EventSessionRefreshed EventType = "session.refreshed"
	EventSessionRevoked   EventType = "session.revoked"
	EventLoginFailed      EventType = "login.failed"
)

// AuthEvent is published on the events channel after each lifecycle transition.
// It never carries credentials or token material.
type AuthEvent struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type is the lifecycle transition that occurred.
	Type EventType `json:"type"`

	// Username is the account the event refers to.
	Username string `json:"username"`

	// OccurredAt is when the transition happened.
	OccurredAt time.Time `json:"occurred_at"`
}
