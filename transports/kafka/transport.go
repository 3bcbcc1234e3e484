package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mudtide/chatrelay/pipeline"
)

// Transport implements pipeline.Transport over Kafka. Each subject maps to a
// topic; Subscribe starts a consumer-group reader per subject, and Publish
// shares one writer across topics.
type Transport struct {
	brokers []string
	groupID string
	writer  *kafka.Writer
	logger  *slog.Logger

	mu      sync.Mutex
	readers map[string]*reader
}

type reader struct {
	kr     *kafka.Reader
	cancel context.CancelFunc
}

// TransportOption configures the transport
type TransportOption func(*Transport)

// WithTransportLogger sets the logger
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithGroupID sets the consumer group id
func WithGroupID(groupID string) TransportOption {
	return func(t *Transport) {
		t.groupID = groupID
	}
}

// NewTransport builds a Kafka-backed transport for the given brokers.
func NewTransport(brokers []string, options ...TransportOption) (*Transport, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}

	t := &Transport{
		brokers: brokers,
		groupID: "chatrelay",
		logger:  slog.Default(),
		readers: make(map[string]*reader),
	}

	for _, opt := range options {
		opt(t)
	}

	t.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return t, nil
}

// Subscribe implements pipeline.Transport. Offsets are committed only after
// the handler returns nil, so a crashed handler sees the message again.
func (t *Transport) Subscribe(ctx context.Context, subject string, handler pipeline.Handler) error {
	if subject == "" {
		return fmt.Errorf("subject cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.readers[subject]; exists {
		return fmt.Errorf("already subscribed to subject %s", subject)
	}

	kr := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        t.brokers,
		Topic:          subject,
		GroupID:        t.groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})

	subCtx, cancel := context.WithCancel(ctx)
	t.readers[subject] = &reader{kr: kr, cancel: cancel}

	go t.consume(subCtx, subject, kr, handler)

	t.logger.Info("subscribed to subject", "subject", subject, "groupId", t.groupID)
	return nil
}

// consume fetches messages for one subject. A handler error leaves the offset
// uncommitted; the group rebalance or restart redelivers.
func (t *Transport) consume(ctx context.Context, subject string, kr *kafka.Reader, handler pipeline.Handler) {
	for {
		msg, err := kr.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			t.logger.Error("failed to fetch message", "subject", subject, "error", err)
			return
		}

		if err := handler(ctx, subject, msg.Value); err != nil {
			t.logger.Error("handler failed, leaving offset uncommitted",
				"subject", subject, "partition", msg.Partition,
				"offset", msg.Offset, "error", err)
			continue
		}

		if err := kr.CommitMessages(ctx, msg); err != nil {
			t.logger.Error("failed to commit offset",
				"subject", subject, "partition", msg.Partition,
				"offset", msg.Offset, "error", err)
		}
	}
}

// Unsubscribe implements pipeline.Transport.
func (t *Transport) Unsubscribe(ctx context.Context, subject string) (bool, error) {
	t.mu.Lock()
	r, exists := t.readers[subject]
	if exists {
		delete(t.readers, subject)
	}
	t.mu.Unlock()

	if !exists {
		return false, nil
	}

	r.cancel()
	if err := r.kr.Close(); err != nil {
		return true, fmt.Errorf("failed to close reader for %s: %w", subject, err)
	}

	t.logger.Info("unsubscribed from subject", "subject", subject)
	return true, nil
}

// Publish implements pipeline.Transport.
func (t *Transport) Publish(ctx context.Context, subject string, payload []byte) error {
	err := t.writer.WriteMessages(ctx, kafka.Message{
		Topic: subject,
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish on %s: %w", subject, err)
	}
	return nil
}

// Close stops every reader and the shared writer.
func (t *Transport) Close() error {
	t.mu.Lock()
	readers := make([]*reader, 0, len(t.readers))
	for _, r := range t.readers {
		readers = append(readers, r)
	}
	t.readers = make(map[string]*reader)
	t.mu.Unlock()

	var firstErr error
	for _, r := range readers {
		r.cancel()
		if err := r.kr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := t.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

var _ pipeline.Transport = (*Transport)(nil)
