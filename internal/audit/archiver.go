package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/jjudge-oj/authserver/internal/storage"
	"github.com/jjudge-oj/authserver/types"
)

const keyPrefix = "audit"

// EventSource delivers auth events until its context is cancelled.
type EventSource interface {
	SubscribeEvents(ctx context.Context, handler mq.EventHandler) error
}

// Archiver copies every auth event from the event stream into object storage,
// one JSON object per event. Redelivered events overwrite nothing.
type Archiver struct {
	source EventSource
	store  storage.ObjectStorage
	logger *slog.Logger
}

func NewArchiver(source EventSource, store storage.ObjectStorage, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Archiver{source: source, store: store, logger: logger}
}

// Run ensures the bucket exists and archives events until ctx is done.
func (a *Archiver) Run(ctx context.Context) error {
	if err := a.store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", a.store.Bucket(), err)
	}

	a.logger.InfoContext(ctx, "audit archiver started", slog.String("bucket", a.store.Bucket()))
	err := a.source.SubscribeEvents(ctx, a.Archive)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("consume auth events: %w", err)
	}
	a.logger.InfoContext(ctx, "audit archiver stopped")
	return nil
}

// Archive writes a single event. An event already present under its key is
// left untouched.
func (a *Archiver) Archive(ctx context.Context, event types.AuthEvent) error {
	key := ObjectKey(event)

	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("stat %s: %w", key, err)
	}
	if exists {
		a.logger.DebugContext(ctx, "auth event already archived", slog.String("key", key))
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}

	err = a.store.Put(ctx, storage.Object{
		Key:         key,
		Body:        body,
		ContentType: "application/json",
		Metadata: map[string]string{
			mq.AttrEventType: string(event.Type),
		},
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "archive auth event failed", slog.String("key", key), slog.Any("error", err))
		return fmt.Errorf("put %s: %w", key, err)
	}

	a.logger.InfoContext(ctx, "auth event archived",
		slog.String("key", key),
		slog.String("event_type", string(event.Type)),
	)
	return nil
}

// ObjectKey lays events out by UTC day: audit/2006/01/02/<id>.json.
func ObjectKey(event types.AuthEvent) string {
	return path.Join(keyPrefix, event.OccurredAt.UTC().Format("2006/01/02"), event.ID+".json")
}
