package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jjudge-oj/authserver/config"
	"github.com/jjudge-oj/authserver/types"
)

// Attribute keys set on every published auth event.
const (
	AttrEventID   = "event_id"
	AttrEventType = "event_type"
)

// ErrMalformedEvent is returned by DecodeEvent for payloads that are not auth events.
var ErrMalformedEvent = errors.New("malformed auth event")

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// Open connects to the backend selected by cfg.MQBackend.
func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	switch strings.ToLower(cfg.MQBackend) {
	case "rabbitmq":
		return NewRabbitMQClient(cfg.RabbitMQ)
	case "pubsub":
		return NewPubSubClient(ctx, cfg.PubSub)
	case "":
		return nil, errors.New("no mq backend configured")
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.MQBackend)
	}
}

// EventHandler processes one decoded auth event.
type EventHandler func(ctx context.Context, event types.AuthEvent) error

// EventStream publishes and consumes auth events on a single channel.
type EventStream struct {
	backend Backend
	channel string
}

// NewEventStream binds a backend to the channel carrying auth events.
func NewEventStream(backend Backend, channel string) *EventStream {
	return &EventStream{backend: backend, channel: channel}
}

// PublishEvent encodes the event as JSON and sends it to the events channel.
func (s *EventStream) PublishEvent(ctx context.Context, event types.AuthEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	attrs := map[string]string{
		AttrEventID:   event.ID,
		AttrEventType: string(event.Type),
	}
	if _, err := s.backend.Publish(ctx, s.channel, data, attrs); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// SubscribeEvents consumes the events channel until ctx is done. Messages that
// do not decode are acknowledged and dropped so they cannot block the queue;
// handler errors are returned to the backend for redelivery.
func (s *EventStream) SubscribeEvents(ctx context.Context, handler EventHandler) error {
	return s.backend.Subscribe(ctx, s.channel, func(ctx context.Context, msg Message) error {
		event, err := DecodeEvent(msg)
		if err != nil {
			return nil
		}
		return handler(ctx, event)
	})
}

// Close closes the underlying backend.
func (s *EventStream) Close() error {
	return s.backend.Close()
}

// DecodeEvent parses a message body into an auth event. The event id must be a
// canonical UUID since consumers use it to name stored objects.
func DecodeEvent(msg Message) (types.AuthEvent, error) {
	var event types.AuthEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return types.AuthEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.Type == "" || event.Username == "" || event.OccurredAt.IsZero() {
		return types.AuthEvent{}, ErrMalformedEvent
	}
	if id, err := uuid.Parse(event.ID); err != nil || id.String() != event.ID {
		return types.AuthEvent{}, fmt.Errorf("%w: event id %q", ErrMalformedEvent, event.ID)
	}
	return event, nil
}
