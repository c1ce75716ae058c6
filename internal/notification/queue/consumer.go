package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	userdomain "buildboard/backend/internal/user/domain"
)

// Handler processes one signup. A returned error is logged; the message is still acked
// because the send attempt itself is recorded by the dispatcher.
type Handler func(ctx context.Context, u *userdomain.User) error

// Consumer reads user.signed_up messages and hands each to a Handler.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	handle   Handler
}

// NewConsumer returns a consumer for the named queue.
func NewConsumer(url, queue string, handle Handler) *Consumer {
	return &Consumer{url: url, queue: queue, prefetch: 10, handle: handle}
}

// Run consumes until ctx is cancelled, reconnecting with exponential backoff when the broker goes away.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := dial(c.url, defaultDialTimeout)
		if err != nil {
			log.Printf("signup-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("signup-consumer: consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		log.Printf("signup-consumer: set QoS failed: %v", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.process(ctx, d.Body); err != nil {
				log.Printf("signup-consumer: %v", err)
				if errors.Is(err, errMalformed) {
					_ = d.Nack(false, false)
					continue
				}
			}
			_ = d.Ack(false)
		}
	}
}

var errMalformed = errors.New("malformed message")

// process decodes body and runs the handler. Malformed bodies are rejected without requeue.
func (c *Consumer) process(ctx context.Context, body []byte) error {
	ev, err := decodeEvent(body)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if err := c.handle(ctx, ev.User()); err != nil {
		return fmt.Errorf("handle signup for user %s: %w", ev.UserID, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
