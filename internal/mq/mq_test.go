package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jjudge-oj/authserver/config"
	"github.com/jjudge-oj/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBackend keeps published messages per channel and replays them to
// subscribers.
type memoryBackend struct {
	mu         sync.Mutex
	messages   map[string][]Message
	acked      []string
	nacked     []string
	publishErr error
	closed     bool
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{messages: map[string][]Message{}}
}

func (b *memoryBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return "", b.publishErr
	}
	id := fmt.Sprintf("%s-%d", channel, len(b.messages[channel])+1)
	b.messages[channel] = append(b.messages[channel], Message{ID: id, Data: data, Attributes: attrs})
	return id, nil
}

func (b *memoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	b.mu.Lock()
	pending := append([]Message(nil), b.messages[channel]...)
	b.mu.Unlock()

	for _, msg := range pending {
		if err := handler(ctx, msg); err != nil {
			b.nacked = append(b.nacked, msg.ID)
			continue
		}
		b.acked = append(b.acked, msg.ID)
	}
	return nil
}

func (b *memoryBackend) Close() error {
	b.closed = true
	return nil
}

const sampleEventID = "0b6f5d0e-8c4b-4a8e-9a55-6f1f0c1d2e3f"

func sampleEvent() types.AuthEvent {
	return types.AuthEvent{
		ID:         sampleEventID,
		Type:       types.EventSessionStarted,
		Username:   "alice",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEventStreamRoundTrip(t *testing.T) {
	backend := newMemoryBackend()
	stream := NewEventStream(backend, "auth-events")
	ctx := context.Background()

	require.NoError(t, stream.PublishEvent(ctx, sampleEvent()))

	published := backend.messages["auth-events"]
	require.Len(t, published, 1)
	assert.Equal(t, sampleEventID, published[0].Attributes[AttrEventID])
	assert.Equal(t, "session.started", published[0].Attributes[AttrEventType])
	assert.NotContains(t, string(published[0].Data), "password")

	var got []types.AuthEvent
	err := stream.SubscribeEvents(ctx, func(_ context.Context, event types.AuthEvent) error {
		got = append(got, event)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, sampleEvent(), got[0])
}

func TestEventStreamPublishError(t *testing.T) {
	backend := newMemoryBackend()
	backend.publishErr = errors.New("broker unavailable")
	stream := NewEventStream(backend, "auth-events")

	err := stream.PublishEvent(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.publishErr)
	assert.Contains(t, err.Error(), "session.started")
}

func TestEventStreamDropsMalformedMessages(t *testing.T) {
	backend := newMemoryBackend()
	backend.messages["auth-events"] = []Message{{ID: "junk", Data: []byte("not json")}}
	stream := NewEventStream(backend, "auth-events")

	called := false
	err := stream.SubscribeEvents(context.Background(), func(context.Context, types.AuthEvent) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, []string{"junk"}, backend.acked)
}

func TestEventStreamHandlerErrorRequeues(t *testing.T) {
	backend := newMemoryBackend()
	stream := NewEventStream(backend, "auth-events")
	ctx := context.Background()
	require.NoError(t, stream.PublishEvent(ctx, sampleEvent()))

	err := stream.SubscribeEvents(ctx, func(context.Context, types.AuthEvent) error {
		return errors.New("archive unavailable")
	})
	require.NoError(t, err)
	assert.Len(t, backend.nacked, 1)
	assert.Empty(t, backend.acked)

	require.NoError(t, stream.Close())
	assert.True(t, backend.closed)
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"complete", `{"id":"0b6f5d0e-8c4b-4a8e-9a55-6f1f0c1d2e3f","type":"session.revoked","username":"bob","occurred_at":"2026-03-01T12:00:00Z"}`, false},
		{"missing id", `{"type":"session.revoked","username":"bob","occurred_at":"2026-03-01T12:00:00Z"}`, true},
		{"path id", `{"id":"../../etc/x","type":"session.revoked","username":"bob","occurred_at":"2026-03-01T12:00:00Z"}`, true},
		{"braced id", `{"id":"{0b6f5d0e-8c4b-4a8e-9a55-6f1f0c1d2e3f}","type":"session.revoked","username":"bob","occurred_at":"2026-03-01T12:00:00Z"}`, true},
		{"upper case id", `{"id":"0B6F5D0E-8C4B-4A8E-9A55-6F1F0C1D2E3F","type":"session.revoked","username":"bob","occurred_at":"2026-03-01T12:00:00Z"}`, true},
		{"missing type", `{"id":"0b6f5d0e-8c4b-4a8e-9a55-6f1f0c1d2e3f","username":"bob","occurred_at":"2026-03-01T12:00:00Z"}`, true},
		{"missing username", `{"id":"0b6f5d0e-8c4b-4a8e-9a55-6f1f0c1d2e3f","type":"session.revoked","occurred_at":"2026-03-01T12:00:00Z"}`, true},
		{"missing time", `{"id":"0b6f5d0e-8c4b-4a8e-9a55-6f1f0c1d2e3f","type":"session.revoked","username":"bob"}`, true},
		{"not json", `{`, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			event, err := DecodeEvent(Message{ID: "broker-7", Data: []byte(tc.data)})
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrMalformedEvent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, sampleEventID, event.ID)
		})
	}
}

func TestEventStreamDropsEventsWithUnsafeIDs(t *testing.T) {
	backend := newMemoryBackend()
	backend.messages["auth-events"] = []Message{{
		ID:   "broker-9",
		Data: []byte(`{"id":"../../etc/x","type":"session.started","username":"alice","occurred_at":"2026-03-01T12:00:00Z"}`),
	}}
	stream := NewEventStream(backend, "auth-events")

	called := false
	err := stream.SubscribeEvents(context.Background(), func(context.Context, types.AuthEvent) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, []string{"broker-9"}, backend.acked)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.Config{MQBackend: "kafka"})
	assert.Error(t, err)

	_, err = Open(context.Background(), config.Config{})
	assert.Error(t, err)

	_, err = Open(context.Background(), config.Config{MQBackend: "rabbitmq"})
	assert.Error(t, err)
}
