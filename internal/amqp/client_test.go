package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scadenze/internal/core"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{15, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.expected, exponentialBackoff(tt.attempt))
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5672: connect: connection refused"), true},
		{"closed", amqp091.ErrClosed, true},
		{"wrapped closed", fmt.Errorf("publish message: %w", amqp091.ErrClosed), true},
		{"EOF", errors.New("unexpected EOF"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"other error", errors.New("some other error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isConnectionError(tt.err))
		})
	}
}

func testClient(dialErr error) (*Client, *int32) {
	var dials int32
	c := newClient(Config{URL: "amqp://test", Exchange: "scadenze", DueQueue: "due", PostedQueue: "posted"}, nil)
	c.dial = func(string) (*amqp091.Connection, error) {
		atomic.AddInt32(&dials, 1)
		return nil, dialErr
	}
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c, &dials
}

func TestPublish_RetriesConnectionErrors(t *testing.T) {
	c, dials := testClient(errors.New("connection refused"))
	msg := NewOccurrenceDueMessage(core.RecurringItem{ID: 7, Name: "rent"}, core.Occurrence{ItemID: 7, ID: "7_2"}, true)

	err := c.PublishOccurrenceDue(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, int32(maxAttempts), atomic.LoadInt32(dials))
}

func TestPublish_DoesNotRetryOtherErrors(t *testing.T) {
	c, dials := testClient(errors.New("access refused"))
	err := c.PublishOccurrenceDue(context.Background(), &OccurrenceDueMessage{MessageID: "m"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(dials))
}

func TestPublish_CircuitBreakerOpens(t *testing.T) {
	c, dials := testClient(errors.New("access refused"))
	for i := 0; i < maxFailures; i++ {
		_ = c.PublishOccurrenceCompletion(context.Background(), &OccurrenceCompletionMessage{MessageID: "m"})
	}
	// No completion queue is configured, so nothing was dialled yet.
	assert.Equal(t, int32(0), atomic.LoadInt32(dials))

	for i := 0; i < maxFailures; i++ {
		_ = c.PublishOccurrenceDue(context.Background(), &OccurrenceDueMessage{MessageID: "m"})
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())

	err := c.PublishOccurrenceDue(context.Background(), &OccurrenceDueMessage{MessageID: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(maxFailures), atomic.LoadInt32(dials))
}

func TestPublish_RespectsCancelledContext(t *testing.T) {
	c, dials := testClient(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.PublishOccurrenceDue(ctx, &OccurrenceDueMessage{MessageID: "m"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(dials))
}

type fakeDelivery struct {
	acked, nacked, requeued bool
}

func (d *fakeDelivery) Ack(bool) error { d.acked = true; return nil }
func (d *fakeDelivery) Nack(_ bool, requeue bool) error {
	d.nacked, d.requeued = true, requeue
	return nil
}

func TestSettle(t *testing.T) {
	c := newClient(Config{}, nil)
	ctx := context.Background()

	ok := &fakeDelivery{}
	c.settle(ctx, ok, "posted", "7_2", nil)
	assert.True(t, ok.acked)

	transient := &fakeDelivery{}
	c.settle(ctx, transient, "posted", "7_2", errors.New("database is locked"))
	assert.True(t, transient.nacked)
	assert.True(t, transient.requeued)

	permanent := &fakeDelivery{}
	c.settle(ctx, permanent, "posted", "", Reject(core.ErrInvalidOccurrenceID))
	assert.True(t, permanent.nacked)
	assert.False(t, permanent.requeued)
}
