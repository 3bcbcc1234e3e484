package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudtide/chatrelay/dlq"
	"github.com/mudtide/chatrelay/metrics"
)

type stubBreaker struct {
	state  string
	resets int
}

func (b *stubBreaker) ResetCircuitBreaker() { b.resets++; b.state = "closed" }
func (b *stubBreaker) CircuitState() string { return b.state }

type stubAdmins map[string]bool

func (a stubAdmins) IsAdmin(playerID string) bool { return a[playerID] }

type adminFixture struct {
	collector *metrics.Collector
	store     *dlq.MemoryStore
	breaker   *stubBreaker
	handler   http.Handler
}

func newAdminFixture() *adminFixture {
	collector := metrics.NewCollector()
	store := dlq.NewMemoryStore()
	breaker := &stubBreaker{state: "closed"}
	server := NewServer(collector, store, breaker, stubAdmins{"mod": true})
	return &adminFixture{
		collector: collector,
		store:     store,
		breaker:   breaker,
		handler:   server.Handler(),
	}
}

func (f *adminFixture) request(t *testing.T, method, path, principal string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if principal != "" {
		req.Header.Set("X-Player-ID", principal)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestAdminAuthorization(t *testing.T) {
	f := newAdminFixture()

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/metrics"},
		{http.MethodGet, "/metrics/summary"},
		{http.MethodPost, "/metrics/reset"},
		{http.MethodGet, "/metrics/dlq"},
		{http.MethodDelete, "/metrics/dlq/some-locator"},
		{http.MethodPost, "/metrics/circuit-breaker/reset"},
	}

	t.Run("missing principal gets 403", func(t *testing.T) {
		for _, ep := range endpoints {
			rec := f.request(t, ep.method, ep.path, "")
			assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", ep.method, ep.path)
		}
	})

	t.Run("non-admin principal gets 403", func(t *testing.T) {
		for _, ep := range endpoints {
			rec := f.request(t, ep.method, ep.path, "bystander")
			assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", ep.method, ep.path)
		}
	})
}

func TestMetricsEndpoints(t *testing.T) {
	t.Run("full snapshot returns counters", func(t *testing.T) {
		f := newAdminFixture()
		f.collector.RecordProcessed("say")
		f.collector.RecordFailed("ooc", "transient")

		rec := f.request(t, http.MethodGet, "/metrics", "mod")

		require.Equal(t, http.StatusOK, rec.Code)
		var snap metrics.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, int64(1), snap.Processed["say"])
		assert.Equal(t, int64(1), snap.Failed["ooc:transient"])
	})

	t.Run("summary aggregates totals and breaker state", func(t *testing.T) {
		f := newAdminFixture()
		f.collector.RecordProcessed("say")
		f.breaker.state = "half-open"
		_, err := f.store.Enqueue(context.Background(), dlq.Entry{Subject: "chat.messages"})
		require.NoError(t, err)

		rec := f.request(t, http.MethodGet, "/metrics/summary", "mod")

		require.Equal(t, http.StatusOK, rec.Code)
		var got summary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, int64(1), got.TotalProcessed)
		assert.Equal(t, "half-open", got.CircuitState)
		assert.Equal(t, 1, got.DeadLetterCount)
		assert.Equal(t, 100.0, got.SuccessRate)
	})

	t.Run("reset clears the collector", func(t *testing.T) {
		f := newAdminFixture()
		f.collector.RecordProcessed("say")

		rec := f.request(t, http.MethodPost, "/metrics/reset", "mod")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, f.collector.Snapshot().ProcessedTotal)
	})
}

func TestDLQEndpoints(t *testing.T) {
	entry := dlq.Entry{
		Subject:      "chat.messages",
		Payload:      json.RawMessage(`{"messageId":"msg-1"}`),
		ErrorMessage: "failed",
		ErrorKind:    "transient",
		Timestamp:    time.Now().UTC(),
	}

	t.Run("list returns stored entries", func(t *testing.T) {
		f := newAdminFixture()
		_, err := f.store.Enqueue(context.Background(), entry)
		require.NoError(t, err)

		rec := f.request(t, http.MethodGet, "/metrics/dlq", "mod")

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Entries []dlq.Entry `json:"entries"`
			Count   int         `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Count)
		require.Len(t, body.Entries, 1)
		assert.Equal(t, "chat.messages", body.Entries[0].Subject)
	})

	t.Run("list with empty store returns an empty array", func(t *testing.T) {
		f := newAdminFixture()

		rec := f.request(t, http.MethodGet, "/metrics/dlq", "mod")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"entries":[]`)
	})

	t.Run("invalid limit is rejected", func(t *testing.T) {
		f := newAdminFixture()

		rec := f.request(t, http.MethodGet, "/metrics/dlq?limit=bananas", "mod")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("limit bounds the listing", func(t *testing.T) {
		f := newAdminFixture()
		for i := 0; i < 3; i++ {
			_, err := f.store.Enqueue(context.Background(), entry)
			require.NoError(t, err)
		}

		rec := f.request(t, http.MethodGet, "/metrics/dlq?limit=2", "mod")

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Count)
	})

	t.Run("delete removes an entry", func(t *testing.T) {
		f := newAdminFixture()
		locator, err := f.store.Enqueue(context.Background(), entry)
		require.NoError(t, err)

		rec := f.request(t, http.MethodDelete, "/metrics/dlq/"+locator, "mod")

		require.Equal(t, http.StatusOK, rec.Code)
		count, err := f.store.Count(context.Background())
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("deleting an unknown locator is 404", func(t *testing.T) {
		f := newAdminFixture()

		rec := f.request(t, http.MethodDelete, "/metrics/dlq/nope", "mod")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCircuitBreakerReset(t *testing.T) {
	f := newAdminFixture()
	f.breaker.state = "open"

	rec := f.request(t, http.MethodPost, "/metrics/circuit-breaker/reset", "mod")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.breaker.resets)
	assert.Contains(t, rec.Body.String(), `"state":"closed"`)
}
