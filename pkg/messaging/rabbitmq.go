package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var (
	// ErrPublisherClosed is returned after Close.
	ErrPublisherClosed = errors.New("rabbitmq publisher closed")
	// ErrNack is returned when the broker refuses a message.
	ErrNack = errors.New("rabbitmq publish not acknowledged")
	// ErrConfirmTimeout is returned when no confirmation arrives in time.
	ErrConfirmTimeout = errors.New("rabbitmq confirm timeout")
)

const (
	defaultConfirmTimeout = 5 * time.Second
	confirmBuffer         = 16
)

// Channel is the subset of *amqp.Channel the publisher relies on.
type Channel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	GetNextPublishSeqNo() uint64
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Message is a JSON payload routed by key onto the configured exchange.
type Message struct {
	ID         string
	RoutingKey string
	Body       []byte
	Headers    map[string]interface{}
	Timestamp  time.Time
}

// Publisher sends messages with publisher confirms. Publishes are serialized
// and each waits for the confirmation carrying its own delivery tag, so a
// late confirm for an earlier timed-out message is skipped.
type Publisher struct {
	exchange       string
	confirmTimeout time.Duration
	logger         *zap.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       Channel
	confirms chan amqp.Confirmation
	closed   bool
}

// DialPublisher connects to url, declares a durable topic exchange and enables confirms.
func DialPublisher(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	pub, err := NewPublisher(ch, exchange, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	pub.conn = conn
	return pub, nil
}

// NewPublisher wraps an already-open channel.
func NewPublisher(ch Channel, exchange string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &Publisher{
		exchange:       exchange,
		confirmTimeout: defaultConfirmTimeout,
		logger:         logger,
		ch:             ch,
		confirms:       ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer)),
	}, nil
}

// Publish sends msg and waits for the broker confirmation.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    ts,
		Headers:      amqp.Table(msg.Headers),
		Body:         msg.Body,
	}
	tag := p.ch.GetNextPublishSeqNo()
	if err := p.ch.PublishWithContext(ctx, p.exchange, msg.RoutingKey, false, false, publishing); err != nil {
		return fmt.Errorf("publish %s: %w", msg.RoutingKey, err)
	}

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()
	for {
		select {
		case confirm, ok := <-p.confirms:
			if !ok {
				return fmt.Errorf("confirm stream closed: %w", ErrPublisherClosed)
			}
			if confirm.DeliveryTag < tag {
				p.logger.Debug("discarding stale publisher confirm",
					zap.Uint64("tag", confirm.DeliveryTag), zap.Uint64("awaiting", tag), zap.Bool("ack", confirm.Ack))
				continue
			}
			if !confirm.Ack {
				return fmt.Errorf("%w: routing key %s", ErrNack, msg.RoutingKey)
			}
			return nil
		case <-timer.C:
			return fmt.Errorf("publish %s: %w after %s", msg.RoutingKey, ErrConfirmTimeout, p.confirmTimeout)
		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", msg.RoutingKey, ctx.Err())
		}
	}
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		p.logger.Warn("rabbitmq close failed", zap.Error(err))
	}
	return err
}
