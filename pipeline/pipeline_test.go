package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudtide/chatrelay/contracts"
	"github.com/mudtide/chatrelay/dlq"
	"github.com/mudtide/chatrelay/metrics"
	"github.com/mudtide/chatrelay/routing"
)

// stubRegistry is a minimal connections.Registry capturing deliveries.
type stubRegistry struct {
	mu        sync.Mutex
	rooms     map[string][]string
	locations map[string]string
	received  map[string]int
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{
		rooms:     make(map[string][]string),
		locations: make(map[string]string),
		received:  make(map[string]int),
	}
}

func (s *stubRegistry) place(playerID, roomID string) {
	s.rooms[roomID] = append(s.rooms[roomID], playerID)
	s.locations[playerID] = roomID
}

func (s *stubRegistry) SendToOne(ctx context.Context, playerID string, event *contracts.ChatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received[playerID]++
	return nil
}

func (s *stubRegistry) SendToAll(ctx context.Context, event *contracts.ChatEvent, excludeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for playerID := range s.locations {
		if playerID != excludeID {
			s.received[playerID]++
		}
	}
	return nil
}

func (s *stubRegistry) RoomMembersOf(roomID string) []string { return s.rooms[roomID] }

func (s *stubRegistry) LocationOf(playerID string) (string, bool) {
	roomID, ok := s.locations[playerID]
	return roomID, ok
}

func (s *stubRegistry) CanonicalRoomID(roomID string) string { return roomID }
func (s *stubRegistry) IsAdmin(playerID string) bool         { return false }

func (s *stubRegistry) receivedBy(playerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[playerID]
}

// failingStore rejects every write, simulating a dead store.
type failingStore struct {
	dlq.Store
}

func (failingStore) Enqueue(ctx context.Context, entry dlq.Entry) (string, error) {
	return "", errors.New("disk full")
}

func validPayload(channel, room string) []byte {
	return []byte(fmt.Sprintf(
		`{"messageId":"msg-1","channel":%q,"senderId":"alice","senderName":"Aria","content":"hi","timestamp":"2026-08-30T12:00:00Z","roomId":%q}`,
		channel, room))
}

type pipelineFixture struct {
	registry  *stubRegistry
	store     dlq.Store
	collector *metrics.Collector
	pipe      *Pipeline
}

func newFixture(processor Processor, opts ...PipelineOption) *pipelineFixture {
	registry := newStubRegistry()
	registry.place("alice", "r1")
	registry.place("bob", "r1")
	registry.place("carol", "r1")

	rooms := routing.NewRoomBroadcaster(registry, routing.NewEchoSuppressor())
	router := routing.NewRouter(registry, rooms)
	store := dlq.NewMemoryStore()
	collector := metrics.NewCollector()

	base := []PipelineOption{
		WithRetryPolicy(time.Millisecond, 5*time.Millisecond, 2),
	}
	return &pipelineFixture{
		registry:  registry,
		store:     store,
		collector: collector,
		pipe:      NewPipeline(processor, router, store, collector, append(base, opts...)...),
	}
}

func TestHandleMessageSuccess(t *testing.T) {
	t.Run("room message reaches roommates and echoes to the sender", func(t *testing.T) {
		f := newFixture(ProcessorFunc(func(ctx context.Context, msg *contracts.ChatMessage) error {
			return nil
		}))

		err := f.pipe.HandleMessage(context.Background(), "chat.messages", contracts.KindChat,
			validPayload("say", "r1"))

		require.NoError(t, err)
		assert.Equal(t, 1, f.registry.receivedBy("bob"))
		assert.Equal(t, 1, f.registry.receivedBy("carol"))
		assert.Equal(t, 1, f.registry.receivedBy("alice"), "self echo delivered once")

		snap := f.collector.Snapshot()
		assert.Equal(t, int64(1), snap.Processed["say"])
		assert.Zero(t, snap.FailedTotal)
		assert.Equal(t, int64(1), snap.ProcessingTime.Count)
	})
}

func TestHandleMessageValidation(t *testing.T) {
	t.Run("invalid payload dead-letters without touching the processor", func(t *testing.T) {
		processorCalls := 0
		f := newFixture(ProcessorFunc(func(ctx context.Context, msg *contracts.ChatMessage) error {
			processorCalls++
			return nil
		}))

		err := f.pipe.HandleMessage(context.Background(), "chat.messages", contracts.KindChat,
			[]byte(`{"channel":"say","senderId":"alice"}`))

		require.NoError(t, err, "validation failure is handled, not raised")
		assert.Zero(t, processorCalls)

		entries, err := f.store.ListPending(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, contracts.ErrorKindValidation, entries[0].ErrorKind)
		assert.Zero(t, entries[0].RetryCount)

		snap := f.collector.Snapshot()
		assert.Equal(t, int64(1), snap.Failed["say"])
		assert.Equal(t, int64(1), snap.Failed["say:validation"])
		assert.Equal(t, int64(1), snap.DeadLettered["say"])
	})

	t.Run("unparseable payload counts against unknown", func(t *testing.T) {
		f := newFixture(ProcessorFunc(func(ctx context.Context, msg *contracts.ChatMessage) error {
			return nil
		}))

		err := f.pipe.HandleMessage(context.Background(), "chat.messages", contracts.KindChat,
			[]byte("not json at all"))

		require.NoError(t, err)
		snap := f.collector.Snapshot()
		assert.Equal(t, int64(1), snap.Failed["unknown"])
	})
}

func TestHandleMessageRetries(t *testing.T) {
	t.Run("transient failures are retried to success", func(t *testing.T) {
		calls := 0
		f := newFixture(ProcessorFunc(func(ctx context.Context, msg *contracts.ChatMessage) error {
			calls++
			if calls < 3 {
				return contracts.NewTransientError("persist", errors.New("timeout"))
			}
			return nil
		}))

		err := f.pipe.HandleMessage(context.Background(), "chat.messages", contracts.KindChat,
			validPayload("say", "r1"))

		require.NoError(t, err)
		assert.Equal(t, 3, calls)

		snap := f.collector.Snapshot()
		assert.Equal(t, int64(1), snap.Processed["say"])
		assert.Equal(t, int64(2), snap.Retried["say"])
		assert.Equal(t, 1, f.registry.receivedBy("bob"))
	})

	t.Run("exhausted retries dead-letter with the retry count", func(t *testing.T) {
		f := newFixture(ProcessorFunc(func(ctx context.Context, msg *contracts.ChatMessage) error {
			return contracts.NewTransientError("persist", errors.New("still down"))
		}))

		err := f.pipe.HandleMessage(context.Background(), "chat.messages", contracts.KindChat,
			validPayload("say", "r1"))

		require.NoError(t, err)
		assert.Zero(t, f.registry.receivedBy("bob"), "failed message is not routed")

		entries, listErr := f.store.ListPending(context.Background(), 0)
		require.NoError(t, listErr)
		require.Len(t, entries, 1)
		assert.Equal(t, contracts.ErrorKindTransient, entries[0].ErrorKind)
		assert.Equal(t, 2, entries[0].RetryCount)

		snap := f.collector.Snapshot()
		assert.Equal(t, int64(1), snap.Failed["say"])
		assert.Equal(t, int64(1), snap.Failed["say:transient"])
	})
}

func TestHandleMessageCircuitBreaker(t *testing.T) {
	t.Run("repeated failures open the circuit and shed load", func(t *testing.T) {
		processorCalls := 0
		f := newFixture(ProcessorFunc(func(ctx context.Context, msg *contracts.ChatMessage) error {
			processorCalls++
			return contracts.NewTransientError("persist", errors.New("down"))
		}),
			WithFailureThreshold(2),
			WithOpenTimeout(time.Minute),
		)

		for i := 0; i < 2; i++ {
			require.NoError(t, f.pipe.HandleMessage(context.Background(), "chat.messages",
				contracts.KindChat, validPayload("say", "r1")))
		}
		require.Equal(t, "open", f.pipe.CircuitState())
		callsWhenOpened := processorCalls

		require.NoError(t, f.pipe.HandleMessage(context.Background(), "chat.messages",
			contracts.KindChat, validPayload("say", "r1")))

		assert.Equal(t, callsWhenOpened, processorCalls, "open circuit sheds without processing")

		entries, err := f.store.ListPending(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, contracts.ErrorKindCircuitOpen, entries[2].ErrorKind)

		snap := f.collector.Snapshot()
		assert.Equal(t, int64(1), snap.Failed["say:circuit_open"])
		assert.NotEmpty(t, snap.CircuitStateChanges, "transition recorded in metrics")
	})

	t.Run("manual reset closes the circuit", func(t *testing.T) {
		f := newFixture(ProcessorFunc(func(ctx context.Context, msg *contracts.ChatMessage) error {
			return contracts.NewTransientError("persist", errors.New("down"))
		}),
			WithFailureThreshold(1),
			WithOpenTimeout(time.Minute),
		)

		require.NoError(t, f.pipe.HandleMessage(context.Background(), "chat.messages",
			contracts.KindChat, validPayload("say", "r1")))
		require.Equal(t, "open", f.pipe.CircuitState())

		f.pipe.ResetCircuitBreaker()

		assert.Equal(t, "closed", f.pipe.CircuitState())
	})
}

func TestHandleMessageDeadLetterFailure(t *testing.T) {
	t.Run("failed dead-letter write surfaces to the transport", func(t *testing.T) {
		registry := newStubRegistry()
		rooms := routing.NewRoomBroadcaster(registry, routing.NewEchoSuppressor())
		router := routing.NewRouter(registry, rooms)
		collector := metrics.NewCollector()

		pipe := NewPipeline(
			ProcessorFunc(func(ctx context.Context, msg *contracts.ChatMessage) error {
				return contracts.NewTransientError("persist", errors.New("down"))
			}),
			router, failingStore{}, collector,
			WithRetryPolicy(time.Millisecond, 5*time.Millisecond, 0),
		)

		err := pipe.HandleMessage(context.Background(), "chat.messages", contracts.KindChat,
			validPayload("say", "r1"))

		assert.Error(t, err, "message-loss risk must reach the transport")
		assert.Zero(t, collector.Snapshot().DeadLetteredTotal)
	})
}

func TestHandleMessageCancellation(t *testing.T) {
	t.Run("cancelled context returns without metrics or dead letter", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		f := newFixture(ProcessorFunc(func(ctx context.Context, msg *contracts.ChatMessage) error {
			cancel()
			return contracts.NewTransientError("persist", errors.New("interrupted"))
		}))

		err := f.pipe.HandleMessage(ctx, "chat.messages", contracts.KindChat,
			validPayload("say", "r1"))

		assert.ErrorIs(t, err, context.Canceled)

		snap := f.collector.Snapshot()
		assert.Zero(t, snap.FailedTotal)
		assert.Zero(t, snap.DeadLetteredTotal)

		count, storeErr := f.store.Count(context.Background())
		require.NoError(t, storeErr)
		assert.Zero(t, count)
	})
}

func TestHandlerKinds(t *testing.T) {
	t.Run("event handler applies event validation rules", func(t *testing.T) {
		f := newFixture(ProcessorFunc(func(ctx context.Context, msg *contracts.ChatMessage) error {
			return nil
		}))

		// Events may omit sender name and content but need a room.
		payload := []byte(`{"messageId":"evt-1","channel":"emote","senderId":"alice","roomId":"r1","timestamp":"2026-08-30T12:00:00Z"}`)
		err := f.pipe.EventHandler()(context.Background(), "chat.events", payload)

		require.NoError(t, err)
		assert.Equal(t, int64(1), f.collector.Snapshot().Processed["emote"])
	})
}
