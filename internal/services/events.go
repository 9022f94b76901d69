package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jjudge-oj/authserver/types"
)

// EventPublisher delivers auth lifecycle events to the event stream.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event types.AuthEvent) error
}

// Events stamps and publishes lifecycle events. Publishing is best-effort:
// failures are logged and never change the outcome of the operation.
// A nil *Events discards everything.
type Events struct {
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewEvents(publisher EventPublisher, logger *slog.Logger, now func() time.Time) *Events {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if now == nil {
		now = time.Now
	}
	return &Events{publisher: publisher, logger: logger, now: now}
}

func (e *Events) emit(ctx context.Context, eventType types.EventType, username string) {
	if e == nil || e.publisher == nil {
		return
	}

	event := types.AuthEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Username:   username,
		OccurredAt: e.now().UTC(),
	}
	if err := e.publisher.PublishEvent(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "publish auth event failed",
			slog.String("event_type", string(eventType)),
			slog.String("username", username),
			slog.Any("error", err),
		)
	}
}
