package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jjudge-oj/authserver/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingAcknowledger captures the settlement of each delivery tag.
type recordingAcknowledger struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue []bool
}

func (a *recordingAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func delivery(ack amqp.Acknowledger, tag uint64, id string, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		MessageId:    id,
		Headers:      amqp.Table{AttrEventType: "session.started"},
		Body:         []byte(body),
	}
}

func TestConsumeSettlesDeliveries(t *testing.T) {
	ack := &recordingAcknowledger{}
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- delivery(ack, 1, "m-1", "ok")
	deliveries <- delivery(ack, 2, "m-2", "fail")
	close(deliveries)

	var seen []Message
	err := consume(context.Background(), deliveries, func(_ context.Context, msg Message) error {
		seen = append(seen, msg)
		if string(msg.Data) == "fail" {
			return errors.New("archive unavailable")
		}
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery channel closed")

	require.Len(t, seen, 2)
	assert.Equal(t, "m-1", seen[0].ID)
	assert.Equal(t, "session.started", seen[0].Attributes[AttrEventType])
	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2}, ack.nacked)
	assert.Equal(t, []bool{true}, ack.requeue)
}

func TestConsumeStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	deliveries := make(chan amqp.Delivery)

	done := make(chan error, 1)
	go func() {
		done <- consume(ctx, deliveries, func(context.Context, Message) error { return nil })
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consume did not return after cancel")
	}
}

func TestConsumeFeedsEventStream(t *testing.T) {
	ack := &recordingAcknowledger{}
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- delivery(ack, 1, "m-1", `{"id":"`+sampleEventID+`","type":"session.started","username":"alice","occurred_at":"2026-03-01T12:00:00Z"}`)
	deliveries <- delivery(ack, 2, "m-2", "not json")
	close(deliveries)

	stream := NewEventStream(&deliveryBackend{deliveries: deliveries}, "auth-events")
	var usernames []string
	err := stream.SubscribeEvents(context.Background(), func(_ context.Context, event types.AuthEvent) error {
		usernames = append(usernames, event.Username)
		return nil
	})
	require.Error(t, err)

	assert.Equal(t, []string{"alice"}, usernames)
	assert.Equal(t, []uint64{1, 2}, ack.acked)
	assert.Empty(t, ack.nacked)
}

func TestNewPublishing(t *testing.T) {
	attrs := map[string]string{AttrEventID: sampleEventID, AttrEventType: "session.revoked"}

	durable := newPublishing([]byte(`{}`), attrs, true)
	assert.Equal(t, sampleEventID, durable.MessageId)
	assert.Equal(t, "session.revoked", durable.Type)
	assert.Equal(t, "application/json", durable.ContentType)
	assert.Equal(t, amqp.Persistent, durable.DeliveryMode)
	assert.Equal(t, "session.revoked", durable.Headers[AttrEventType])

	transient := newPublishing([]byte(`{}`), nil, false)
	assert.Equal(t, amqp.Transient, transient.DeliveryMode)
	assert.NotEmpty(t, transient.MessageId)
	assert.Empty(t, transient.Type)
}

func TestHeadersToAttributes(t *testing.T) {
	assert.Nil(t, headersToAttributes(nil))

	attrs := headersToAttributes(amqp.Table{
		"event_id": "abc",
		"raw":      []byte("bytes"),
		"attempt":  int32(3),
	})
	assert.Equal(t, map[string]string{"event_id": "abc", "raw": "bytes", "attempt": "3"}, attrs)
}

// deliveryBackend subscribes by draining a prepared delivery channel.
type deliveryBackend struct {
	deliveries <-chan amqp.Delivery
}

func (b *deliveryBackend) Publish(context.Context, string, []byte, map[string]string) (string, error) {
	return "", errors.New("not supported")
}

func (b *deliveryBackend) Subscribe(ctx context.Context, _ string, handler Handler) error {
	return consume(ctx, b.deliveries, handler)
}

func (b *deliveryBackend) Close() error { return nil }
