// Package amqp broadcasts expense changes between instances sharing one
// remote store, so every instance can reload after another one writes.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"

	"spendlog/internal/core"
	"spendlog/internal/log"
)

// RoutingKey is the key every change message is published with.
const RoutingKey = "expense.changed"

const (
	maxFailures     = 5
	openTimeout     = 30 * time.Second
	publishTimeout  = 5 * time.Second
	maxDialRetries  = 6
	baseDialBackoff = time.Second
	maxDialBackoff  = 30 * time.Second
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrNotConnected is returned by Publish while the consumer loop is
// reconnecting. Only Run re-dials, so there is never more than one live
// connection per client.
var ErrNotConnected = errors.New("amqp channel not open")

// ErrClientClosed is returned once Close has been called.
var ErrClientClosed = errors.New("amqp client closed")

type Config struct {
	URL      string
	Exchange string
	// Queue is the prefix of this instance's queue; the origin id is
	// appended so every instance receives every message.
	Queue  string
	Logger *log.Logger
}

type Client struct {
	url          string
	exchangeName string
	queueName    string
	origin       string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	closed  bool

	failureCount int64
	state        int32
	lastFailure  time.Time
}

// NewClient dials the broker, retrying with exponential backoff, and
// declares the exchange and this instance's queue.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	origin := uuid.NewString()
	c := &Client{
		url:          cfg.URL,
		exchangeName: cfg.Exchange,
		queueName:    cfg.Queue + "." + origin[:8],
		origin:       origin,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Origin identifies this instance in published messages.
func (c *Client) Origin() string { return c.origin }

func dialBackoff() retry.Backoff {
	b := retry.NewExponential(baseDialBackoff)
	b = retry.WithCappedDuration(maxDialBackoff, b)
	return retry.WithMaxRetries(maxDialRetries, b)
}

func (c *Client) connect(ctx context.Context) error {
	attempt := 0
	return retry.Do(ctx, dialBackoff(), func(ctx context.Context) error {
		attempt++
		if err := c.dial(); err != nil {
			c.logger.WarnContext(ctx, "AMQP connect failed", log.FieldError, err, "attempt", attempt)
			if isConnectionError(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

func (c *Client) dial() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	if err := c.install(conn, channel); err != nil {
		return err
	}
	c.logger.Info("AMQP connected", "exchange", c.exchangeName, "queue", c.queueName)
	return nil
}

// install makes conn and ch current, closing whatever they replace. After
// Close the new pair is closed instead.
func (c *Client) install(conn *amqp091.Connection, ch *amqp091.Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		closeLink(conn, ch)
		return ErrClientClosed
	}
	closeLink(c.conn, c.channel)
	c.conn, c.channel = conn, ch
	return nil
}

func closeLink(conn *amqp091.Connection, ch *amqp091.Channel) error {
	var errs []error
	if ch != nil {
		errs = append(errs, ch.Close())
	}
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	return errors.Join(errs...)
}

func setup(ch *amqp091.Channel, exchange, queue string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Per-instance queue, removed once this instance stops consuming.
	_, err = ch.QueueDeclare(
		queue, // name
		false, // durable
		true,  // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(queue, RoutingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// ExpenseChanged publishes a change message for a successful mutation.
func (c *Client) ExpenseChanged(ctx context.Context, op string, id core.ExpenseID) error {
	t, ok := ChangeTypeFor(op)
	if !ok {
		return fmt.Errorf("no change type for operation %q", op)
	}
	return c.Publish(ctx, NewChangeMessage(t, string(id), c.origin))
}

// Publish sends msg unless the circuit breaker is open.
func (c *Client) Publish(ctx context.Context, msg *ChangeMessage) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish change: %w", ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil || ch.IsClosed() {
		c.recordFailure()
		return fmt.Errorf("publish change: %w", ErrNotConnected)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(ctx,
		c.exchangeName, // exchange
		RoutingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   msg.Timestamp,
			MessageId:   uuid.NewString(),
			AppId:       c.origin,
			Body:        body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.dropChannel()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.logger.DebugContext(ctx, "Published change message",
		log.FieldOperation, log.OpPublish,
		log.FieldExpenseID, msg.ID,
		"type", msg.Type)
	return nil
}

// Consume delivers change messages from other instances to handler until
// ctx ends or the channel closes. Messages from this instance are acked
// and skipped.
func (c *Client) Consume(ctx context.Context, handler func(context.Context, *ChangeMessage) error) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}

	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	c.logger.InfoContext(ctx, "Started consuming change messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			c.dispatch(ctx, delivery.Body, delivery, handler)
		}
	}
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Client) dispatch(ctx context.Context, body []byte, ack acknowledger, handler func(context.Context, *ChangeMessage) error) {
	msg, err := ChangeMessageFromJSON(body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to unmarshal message", log.FieldError, err)
		_ = ack.Nack(false, false)
		return
	}
	if msg.Origin == c.origin {
		_ = ack.Ack(false)
		return
	}
	if err := handler(ctx, msg); err != nil {
		c.logger.ErrorContext(ctx, "Failed to handle change message",
			log.FieldOperation, log.OpConsume,
			log.FieldExpenseID, msg.ID,
			log.FieldError, err)
		// Dropped rather than requeued: the next change triggers a reload anyway.
		_ = ack.Nack(false, false)
		return
	}
	_ = ack.Ack(false)
	c.logger.DebugContext(ctx, "Processed change message",
		log.FieldOperation, log.OpConsume,
		log.FieldExpenseID, msg.ID,
		log.FieldOrigin, msg.Origin,
		"type", msg.Type)
}

// Run consumes until ctx ends, reconnecting with backoff whenever the
// connection drops.
func (c *Client) Run(ctx context.Context, handler func(context.Context, *ChangeMessage) error) error {
	for {
		err := c.Consume(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.WarnContext(ctx, "Consumer stopped, reconnecting", log.FieldError, err)
		c.dropChannel()
		if err := c.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reconnect consumer: %w", err)
		}
	}
}

func (c *Client) dropChannel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = closeLink(c.conn, c.channel)
	c.conn, c.channel = nil, nil
}

// Close releases the connection. Later reconnect attempts fail with
// ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	err := closeLink(c.conn, c.channel)
	c.conn, c.channel = nil, nil
	return err
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			c.logger.Warn("AMQP circuit breaker opened", "failures", atomic.LoadInt64(&c.failureCount))
		}
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "eof", "broken pipe", "closed network connection", "connection reset", "no such host", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
