package pipeline

import (
	"context"
)

// Handler processes one decoded delivery from the transport.
type Handler func(ctx context.Context, subject string, payload []byte) error

// Transport is the publish/subscribe boundary the pipeline sits behind. The
// transport hands each decoded message to the subject's Handler; subscribe
// failures on required subjects are fatal to startup, optional subjects log
// and continue.
type Transport interface {
	// Subscribe registers a handler for a subject.
	Subscribe(ctx context.Context, subject string, handler Handler) error

	// Unsubscribe removes a subject's handler, reporting whether one existed.
	Unsubscribe(ctx context.Context, subject string) (bool, error)

	// Publish sends a payload on a subject.
	Publish(ctx context.Context, subject string, payload []byte) error

	// Close releases transport resources.
	Close() error
}
