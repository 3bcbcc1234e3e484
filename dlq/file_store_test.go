package dlq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(subject string) Entry {
	return Entry{
		Subject:      subject,
		Payload:      json.RawMessage(`{"messageId":"msg-1","channel":"say"}`),
		ErrorMessage: "processing failed after retries",
		ErrorKind:    "transient",
		Timestamp:    time.Now().UTC(),
		RetryCount:   3,
		Headers:      map[string]interface{}{"channel": "say"},
	}
}

func TestFileStoreEnqueue(t *testing.T) {
	t.Run("writes one readable file per entry", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir())
		require.NoError(t, err)

		locator, err := store.Enqueue(context.Background(), testEntry("chat.messages"))
		require.NoError(t, err)
		assert.NotEmpty(t, locator)

		entries, err := store.ListPending(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, locator, entries[0].Locator)
		assert.Equal(t, "chat.messages", entries[0].Subject)
		assert.Equal(t, "transient", entries[0].ErrorKind)
		assert.Equal(t, 3, entries[0].RetryCount)
		assert.JSONEq(t, `{"messageId":"msg-1","channel":"say"}`, string(entries[0].Payload))
	})

	t.Run("locators are unique and chronologically ordered", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir())
		require.NoError(t, err)

		var locators []string
		for i := 0; i < 5; i++ {
			locator, err := store.Enqueue(context.Background(), testEntry("chat.messages"))
			require.NoError(t, err)
			locators = append(locators, locator)
			time.Sleep(time.Millisecond)
		}

		seen := make(map[string]bool)
		for i, locator := range locators {
			assert.False(t, seen[locator], "locator %s duplicated", locator)
			seen[locator] = true
			if i > 0 {
				assert.Greater(t, locator, locators[i-1])
			}
		}
	})

	t.Run("no temporary files remain after a write", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewFileStore(dir)
		require.NoError(t, err)

		_, err = store.Enqueue(context.Background(), testEntry("chat.messages"))
		require.NoError(t, err)

		matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("cancelled context fails the write", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = store.Enqueue(ctx, testEntry("chat.messages"))
		assert.Error(t, err)
	})
}

func TestFileStoreListPending(t *testing.T) {
	t.Run("respects the limit", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir())
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			_, err := store.Enqueue(context.Background(), testEntry("chat.messages"))
			require.NoError(t, err)
			time.Sleep(time.Millisecond)
		}

		entries, err := store.ListPending(context.Background(), 2)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("skips unreadable entries instead of failing the listing", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewFileStore(dir)
		require.NoError(t, err)

		_, err = store.Enqueue(context.Background(), testEntry("chat.messages"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "99999999999999999999-corrupt.json"), []byte("{broken"), 0o644))

		entries, err := store.ListPending(context.Background(), 0)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestFileStoreRemove(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	locator, err := store.Enqueue(context.Background(), testEntry("chat.messages"))
	require.NoError(t, err)

	removed, err := store.Remove(context.Background(), locator)
	require.NoError(t, err)
	assert.True(t, removed)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	removed, err = store.Remove(context.Background(), locator)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestFileStoreCleanupOlderThan(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Enqueue(context.Background(), testEntry("chat.messages"))
	require.NoError(t, err)

	removed, err := store.CleanupOlderThan(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	time.Sleep(5 * time.Millisecond)
	removed, err = store.CleanupOlderThan(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLocatorRoundTrip(t *testing.T) {
	now := time.Now()
	locator := newLocator(now)

	recovered, ok := locatorTime(locator)
	require.True(t, ok)
	assert.Equal(t, now.UnixNano(), recovered.UnixNano())

	_, ok = locatorTime("short")
	assert.False(t, ok)
}
