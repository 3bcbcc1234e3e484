package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/mudtide/chatrelay/contracts"
	"github.com/mudtide/chatrelay/dlq"
	"github.com/mudtide/chatrelay/internal/reliability"
	"github.com/mudtide/chatrelay/metrics"
	"github.com/mudtide/chatrelay/routing"
	"github.com/mudtide/chatrelay/schema"
)

// Processor performs the guarded processing step for a validated message
// before fan-out: persistence, enrichment, game-side hooks. Its failures are
// what the retry executor and circuit breaker protect against.
type Processor interface {
	Process(ctx context.Context, msg *contracts.ChatMessage) error
}

// ProcessorFunc is a function adapter for Processor
type ProcessorFunc func(ctx context.Context, msg *contracts.ChatMessage) error

// Process implements Processor
func (f ProcessorFunc) Process(ctx context.Context, msg *contracts.ChatMessage) error {
	return f(ctx, msg)
}

// Pipeline is the top-level message handler: validate, process under the
// circuit breaker with retries, then dispatch by channel. Every failure path
// terminates in a dead-letter write plus a metrics record; nothing escapes
// back to the transport except a failed dead-letter write itself.
type Pipeline struct {
	processor Processor
	router    *routing.Router
	store     dlq.Store
	collector *metrics.Collector
	logger    *slog.Logger

	breaker     *reliability.CircuitBreaker
	retryPolicy reliability.BackoffPolicy

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
}

// PipelineOption configures the pipeline
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithRetryPolicy sets the backoff policy for transient failures
func WithRetryPolicy(baseDelay, maxDelay time.Duration, maxRetries int) PipelineOption {
	return func(p *Pipeline) {
		p.retryPolicy = reliability.BackoffPolicy{
			BaseDelay:  baseDelay,
			MaxDelay:   maxDelay,
			MaxRetries: maxRetries,
		}
	}
}

// WithFailureThreshold sets the consecutive failures that open the circuit
func WithFailureThreshold(threshold int) PipelineOption {
	return func(p *Pipeline) {
		p.failureThreshold = threshold
	}
}

// WithSuccessThreshold sets the successes required to close a half-open circuit
func WithSuccessThreshold(threshold int) PipelineOption {
	return func(p *Pipeline) {
		p.successThreshold = threshold
	}
}

// WithOpenTimeout sets how long the circuit stays open before a trial call
func WithOpenTimeout(timeout time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.openTimeout = timeout
	}
}

// NewPipeline assembles the delivery pipeline. Circuit breaker transitions
// are recorded on the collector automatically.
func NewPipeline(processor Processor, router *routing.Router, store dlq.Store, collector *metrics.Collector, options ...PipelineOption) *Pipeline {
	p := &Pipeline{
		processor:        processor,
		router:           router,
		store:            store,
		collector:        collector,
		logger:           slog.Default(),
		retryPolicy:      reliability.DefaultBackoffPolicy(),
		failureThreshold: 5,
		successThreshold: 3,
		openTimeout:      30 * time.Second,
	}

	for _, opt := range options {
		opt(p)
	}

	p.breaker = reliability.NewCircuitBreaker(
		reliability.WithName("message-processing"),
		reliability.WithFailureThreshold(p.failureThreshold),
		reliability.WithSuccessThreshold(p.successThreshold),
		reliability.WithOpenTimeout(p.openTimeout),
		reliability.WithStateChangeListener(reliability.StateChangeListenerFunc(
			func(from, to reliability.State, reason string) {
				p.logger.Warn("circuit breaker state change",
					"from", from.String(), "to", to.String(), "reason", reason)
				collector.RecordCircuitStateChange(from.String(), to.String(), reason)
			})),
	)

	return p
}

// ChatHandler returns the transport handler for chat subjects.
func (p *Pipeline) ChatHandler() Handler {
	return func(ctx context.Context, subject string, payload []byte) error {
		return p.HandleMessage(ctx, subject, contracts.KindChat, payload)
	}
}

// EventHandler returns the transport handler for event subjects.
func (p *Pipeline) EventHandler() Handler {
	return func(ctx context.Context, subject string, payload []byte) error {
		return p.HandleMessage(ctx, subject, contracts.KindEvent, payload)
	}
}

// HandleMessage processes one inbound payload end to end. The returned error
// is nil on every normal path, including dead-lettered failures; it is
// non-nil only when the dead-letter write itself failed (message-loss risk
// the transport may act on) or when the context was cancelled mid-flight.
func (p *Pipeline) HandleMessage(ctx context.Context, subject string, kind contracts.MessageKind, payload []byte) error {
	start := time.Now()

	msg, err := schema.ValidateChatMessage(payload, kind)
	if err != nil {
		channel := channelLabel(payload)
		p.logger.Warn("message rejected by validation",
			"subject", subject, "channel", channel, "error", err)
		p.collector.RecordFailed(channel, contracts.ErrorKindValidation)
		return p.deadLetter(ctx, subject, channel, payload, err, contracts.ErrorKindValidation, 0)
	}

	channel := msg.Channel.String()

	var result reliability.RetryResult
	err = p.breaker.Execute(ctx, func() error {
		result = reliability.ExecuteWithRetry(ctx, p.retryPolicy,
			func(attempt int, delay time.Duration, attemptErr error) {
				p.logger.Debug("retrying message processing",
					"messageId", msg.MessageID, "channel", channel,
					"attempt", attempt, "delay", delay, "error", attemptErr)
				p.collector.RecordRetried(channel, attempt)
			},
			func(ctx context.Context) error {
				return p.processor.Process(ctx, msg)
			})
		if result.Success {
			return nil
		}
		return result.Err
	})

	switch {
	case err == nil:
		p.collector.RecordProcessed(channel)
		p.router.Dispatch(ctx, msg)
		p.collector.RecordProcessingTime(time.Since(start))
		return nil

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Cancelled mid-flight: no failure metrics, no dead letter. Counting
		// or writing here would double-account the message on redelivery.
		p.logger.Info("message processing cancelled",
			"messageId", msg.MessageID, "channel", channel)
		return err

	case reliability.IsCircuitOpen(err):
		p.logger.Warn("message rejected by open circuit",
			"messageId", msg.MessageID, "channel", channel)
		p.collector.RecordFailed(channel, contracts.ErrorKindCircuitOpen)
		return p.deadLetter(ctx, subject, channel, payload, err, contracts.ErrorKindCircuitOpen, 0)

	default:
		kind := contracts.ErrorKind(err)
		if kind == contracts.ErrorKindUnhandled {
			// A gap in the retry/validation contract, not an expected failure.
			p.logger.Error("unhandled processing error",
				"messageId", msg.MessageID, "channel", channel, "error", err)
		} else {
			p.logger.Warn("message processing failed after retries",
				"messageId", msg.MessageID, "channel", channel,
				"attempts", result.Attempts, "error", err)
		}
		p.collector.RecordFailed(channel, kind)
		retries := result.Attempts - 1
		if retries < 0 {
			retries = 0
		}
		return p.deadLetter(ctx, subject, channel, payload, err, kind, retries)
	}
}

// ResetCircuitBreaker forces the breaker closed. Administrative escape hatch.
func (p *Pipeline) ResetCircuitBreaker() {
	p.breaker.Reset()
	p.logger.Info("circuit breaker manually reset")
}

// CircuitState returns the breaker state for the administrative surface.
func (p *Pipeline) CircuitState() string {
	return p.breaker.GetState().String()
}

// deadLetter stores the failed payload. A failed write is the one place in
// the pipeline where an error surfaces loudly instead of being retried:
// retrying the store write would recreate the failure loop it terminates.
func (p *Pipeline) deadLetter(ctx context.Context, subject, channel string, payload []byte, cause error, errorKind string, retryCount int) error {
	entry := dlq.Entry{
		Subject:      subject,
		Payload:      json.RawMessage(payload),
		ErrorMessage: cause.Error(),
		ErrorKind:    errorKind,
		Timestamp:    time.Now().UTC(),
		RetryCount:   retryCount,
		Headers: map[string]interface{}{
			"channel": channel,
		},
	}

	locator, err := p.store.Enqueue(ctx, entry)
	if err != nil {
		p.logger.Error("CRITICAL: dead letter write failed, message at risk of loss",
			"subject", subject, "channel", channel,
			"errorKind", errorKind, "error", err)
		return err
	}

	p.collector.RecordDeadLettered(channel)
	p.logger.Info("message dead-lettered",
		"locator", locator, "subject", subject,
		"channel", channel, "errorKind", errorKind, "retryCount", retryCount)

	return nil
}

// channelLabel extracts the channel name from an unvalidated payload for
// metric labelling. Unparseable payloads count against "unknown".
func channelLabel(payload []byte) string {
	var probe struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.Channel == "" {
		return "unknown"
	}
	return probe.Channel
}
