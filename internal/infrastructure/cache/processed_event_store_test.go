package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryProcessedEventStore(t *testing.T) {
	store := NewInMemoryProcessedEventStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx := t.Context()

	t.Run("first mark wins", func(t *testing.T) {
		ok, err := store.MarkProcessed(ctx, "evt-1", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.MarkProcessed(ctx, "evt-1", time.Hour)
		require.NoError(t, err)
		assert.False(t, ok)

		seen, err := store.IsProcessed(ctx, "evt-1")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("unknown id", func(t *testing.T) {
		seen, err := store.IsProcessed(ctx, "evt-unknown")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("expired ids can be marked again", func(t *testing.T) {
		ok, err := store.MarkProcessed(ctx, "evt-short", 10*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(20 * time.Millisecond)

		seen, err := store.IsProcessed(ctx, "evt-short")
		require.NoError(t, err)
		assert.False(t, seen)

		ok, err = store.MarkProcessed(ctx, "evt-short", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("sweep drops expired ids", func(t *testing.T) {
		_, _ = store.MarkProcessed(ctx, "evt-sweep", time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		before := store.Size()
		store.seen.sweep()
		assert.Less(t, store.Size(), before)
	})
}

func TestInMemoryProcessedEventStore_CloseIsIdempotent(t *testing.T) {
	store := NewInMemoryProcessedEventStore()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
