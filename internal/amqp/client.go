// Package amqp publishes occurrence notifications to RabbitMQ and consumes
// the ledger's posting events.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxAttempts    = 3
)

// Config names the exchange and the queues bound to it. Each queue is bound
// with its own name as routing key.
type Config struct {
	URL             string
	Exchange        string
	DueQueue        string
	PostedQueue     string
	CompletionQueue string
}

func (c Config) queues() []string {
	var qs []string
	for _, q := range []string{c.DueQueue, c.PostedQueue, c.CompletionQueue} {
		if q != "" {
			qs = append(qs, q)
		}
	}
	return qs
}

type Client struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	// dial and backoff are replaced in tests.
	dial    func(url string) (*amqp091.Connection, error)
	backoff func(attempt int) time.Duration

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NewClient connects and declares the exchange and queues.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	c := newClient(cfg, logger)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:     cfg,
		logger:  logger.With("component", "amqp"),
		dial:    amqp091.Dial,
		backoff: exponentialBackoff,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "amqp-publish",
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

func (c *Client) connectLocked() error {
	conn, err := c.dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := setup(ch, c.cfg); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queues: %w", err)
	}
	c.conn, c.channel = conn, ch
	return nil
}

func setup(ch *amqp091.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	for _, q := range cfg.queues() {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
		if err := ch.QueueBind(q, q, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q, err)
		}
	}
	return nil
}

// channelLocked returns a usable channel, reconnecting when the previous
// connection was closed.
func (c *Client) channelLocked() (*amqp091.Channel, error) {
	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	c.closeLocked()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	c.logger.Info("Reconnected to AMQP broker", "exchange", c.cfg.Exchange)
	return c.channel, nil
}

func (c *Client) PublishOccurrenceDue(ctx context.Context, msg *OccurrenceDueMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.publish(ctx, c.cfg.DueQueue, TypeOccurrenceDue, msg.MessageID, body)
}

func (c *Client) PublishOccurrencePosted(ctx context.Context, msg *OccurrencePostedMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.publish(ctx, c.cfg.PostedQueue, TypeOccurrencePosted, msg.MessageID, body)
}

func (c *Client) PublishOccurrenceCompletion(ctx context.Context, msg *OccurrenceCompletionMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.publish(ctx, c.cfg.CompletionQueue, TypeOccurrenceCompletion, msg.MessageID, body)
}

// publish sends body through the circuit breaker, retrying connection
// errors with exponential backoff.
func (c *Client) publish(ctx context.Context, routingKey, msgType, messageID string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if routingKey == "" {
		return fmt.Errorf("publish %s: no queue configured", msgType)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.publishOnce(ctx, routingKey, msgType, messageID, body)
		})
		if err == nil {
			c.logger.InfoContext(ctx, "Published message",
				"type", msgType,
				"message_id", messageID,
				"exchange", c.cfg.Exchange,
				"routing_key", routingKey)
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("publish %s: circuit breaker is open: %w", msgType, err)
		}
		lastErr = err
		if !isConnectionError(err) {
			break
		}

		wait := c.backoff(attempt)
		c.logger.WarnContext(ctx, "Publish failed, retrying",
			"type", msgType,
			"attempt", attempt+1,
			"backoff", wait,
			"error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("publish %s: %w", msgType, lastErr)
}

func (c *Client) publishOnce(ctx context.Context, routingKey, msgType, messageID string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.channelLocked()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(ctx, c.cfg.Exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    messageID,
		Type:         msgType,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Reject marks a handler error as permanent: the delivery is dropped
// instead of requeued.
func Reject(err error) error {
	return &rejectError{err: err}
}

type rejectError struct{ err error }

func (e *rejectError) Error() string { return "rejected: " + e.err.Error() }
func (e *rejectError) Unwrap() error { return e.err }

func isRejected(err error) bool {
	var re *rejectError
	return errors.As(err, &re)
}

// ConsumeOccurrencePosted delivers posting events to handler until ctx is
// done.
func (c *Client) ConsumeOccurrencePosted(ctx context.Context, handler func(context.Context, *OccurrencePostedMessage) error) error {
	return c.consume(ctx, c.cfg.PostedQueue, func(body []byte) (string, error) {
		msg, err := OccurrencePostedMessageFromJSON(body)
		if err != nil {
			return "", Reject(err)
		}
		return string(msg.OccurrenceID), handler(ctx, msg)
	})
}

// ConsumeOccurrenceCompletion delivers completion changes to handler until
// ctx is done.
func (c *Client) ConsumeOccurrenceCompletion(ctx context.Context, handler func(context.Context, *OccurrenceCompletionMessage) error) error {
	return c.consume(ctx, c.cfg.CompletionQueue, func(body []byte) (string, error) {
		msg, err := OccurrenceCompletionMessageFromJSON(body)
		if err != nil {
			return "", Reject(err)
		}
		return string(msg.OccurrenceID), handler(ctx, msg)
	})
}

func (c *Client) consume(ctx context.Context, queue string, handle func(body []byte) (string, error)) error {
	c.mu.Lock()
	ch, err := c.channelLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming %s: %w", queue, err)
	}
	c.logger.InfoContext(ctx, "Started consuming", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping message consumption", "queue", queue, "reason", ctx.Err())
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", queue)
			}
			occID, err := handle(d.Body)
			c.settle(ctx, d, queue, occID, err)
		}
	}
}

// settle acks, drops or requeues d depending on err.
func (c *Client) settle(ctx context.Context, d acknowledger, queue, occID string, err error) {
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.ErrorContext(ctx, "Failed to ack message", "queue", queue, "error", ackErr)
		}
	case isRejected(err):
		c.logger.ErrorContext(ctx, "Dropping message", "queue", queue, "occurrence_id", occID, "error", err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.ErrorContext(ctx, "Failed to nack message", "queue", queue, "error", nackErr)
		}
	default:
		c.logger.ErrorContext(ctx, "Failed to handle message, requeueing", "queue", queue, "occurrence_id", occID, "error", err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.ErrorContext(ctx, "Failed to nack message", "queue", queue, "error", nackErr)
		}
	}
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// BreakerState reports the publish circuit breaker's state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	var err error
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		if !c.conn.IsClosed() {
			err = c.conn.Close()
		}
		c.conn = nil
	}
	return err
}

// exponentialBackoff returns 1s, 2s, 4s, ... capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection closed", "connection reset", "EOF", "broken pipe", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
