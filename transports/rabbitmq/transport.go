package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mudtide/chatrelay/pipeline"
)

const defaultExchange = "chatrelay"

// Transport implements pipeline.Transport over RabbitMQ. Each subject maps
// to a routing key on a topic exchange, with one queue and one consumer
// channel per subscription.
type Transport struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	exchange string
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	channel *amqp.Channel
	queue   string
	cancel  context.CancelFunc
}

// TransportOption configures the transport
type TransportOption func(*Transport)

// WithTransportLogger sets the logger
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithExchange sets the topic exchange name
func WithExchange(exchange string) TransportOption {
	return func(t *Transport) {
		t.exchange = exchange
	}
}

// NewTransport connects to RabbitMQ and declares the topic exchange.
func NewTransport(url string, options ...TransportOption) (*Transport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}

	t := &Transport{
		conn:     conn,
		pubCh:    pubCh,
		exchange: defaultExchange,
		logger:   slog.Default(),
		subs:     make(map[string]*subscription),
	}

	for _, opt := range options {
		opt(t)
	}

	if err := pubCh.ExchangeDeclare(t.exchange, "topic", true, false, false, false, nil); err != nil {
		pubCh.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", t.exchange, err)
	}

	return t, nil
}

// Subscribe implements pipeline.Transport. It declares and binds a durable
// queue for the subject and starts a consume loop that acknowledges after the
// handler returns.
func (t *Transport) Subscribe(ctx context.Context, subject string, handler pipeline.Handler) error {
	if subject == "" {
		return fmt.Errorf("subject cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.subs[subject]; exists {
		return fmt.Errorf("already subscribed to subject %s", subject)
	}

	ch, err := t.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel for %s: %w", subject, err)
	}

	queue := t.exchange + "." + subject
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, subject, t.exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to consume from %s: %w", queue, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	t.subs[subject] = &subscription{channel: ch, queue: queue, cancel: cancel}

	go t.consume(subCtx, subject, deliveries, handler)

	t.logger.Info("subscribed to subject", "subject", subject, "queue", queue)
	return nil
}

// consume drains deliveries for one subscription. A handler error nacks with
// requeue so the broker redelivers.
func (t *Transport) consume(ctx context.Context, subject string, deliveries <-chan amqp.Delivery, handler pipeline.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				t.logger.Warn("delivery channel closed", "subject", subject)
				return
			}

			if err := handler(ctx, subject, d.Body); err != nil {
				t.logger.Error("handler failed, requeueing delivery",
					"subject", subject, "error", err)
				if nackErr := d.Nack(false, true); nackErr != nil {
					t.logger.Error("failed to nack delivery",
						"subject", subject, "error", nackErr)
				}
				continue
			}

			if err := d.Ack(false); err != nil {
				t.logger.Error("failed to ack delivery",
					"subject", subject, "error", err)
			}
		}
	}
}

// Unsubscribe implements pipeline.Transport.
func (t *Transport) Unsubscribe(ctx context.Context, subject string) (bool, error) {
	t.mu.Lock()
	sub, exists := t.subs[subject]
	if exists {
		delete(t.subs, subject)
	}
	t.mu.Unlock()

	if !exists {
		return false, nil
	}

	sub.cancel()
	if err := sub.channel.Close(); err != nil {
		return true, fmt.Errorf("failed to close channel for %s: %w", subject, err)
	}

	t.logger.Info("unsubscribed from subject", "subject", subject)
	return true, nil
}

// Publish implements pipeline.Transport.
func (t *Transport) Publish(ctx context.Context, subject string, payload []byte) error {
	err := t.pubCh.PublishWithContext(ctx, t.exchange, subject, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish on %s: %w", subject, err)
	}
	return nil
}

// Close cancels every consumer and closes the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	subs := make([]*subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = make(map[string]*subscription)
	t.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		sub.channel.Close()
	}

	t.pubCh.Close()
	return t.conn.Close()
}

var _ pipeline.Transport = (*Transport)(nil)
