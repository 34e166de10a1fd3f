package feedstore

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"feed_oracle/pkg/data"
)

func testState(feedID string, seq uint64, value float64) *data.FeedState {
	return &data.FeedState{
		FeedID:     feedID,
		Value:      value,
		Confidence: 0.5,
		UpdatedAt:  time.Now().UTC(),
		RoundSeq:   seq,
	}
}

func TestPublishAndGet(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		repo := data.NewMockRepository()
		store := NewStore(repo, zap.NewNop())

		require.NoError(t, store.Publish(ctx, testState("ETH/USD", 1, 1800)))

		state, ok := store.Get("ETH/USD")
		require.True(t, ok)
		assert.Equal(t, 1800.0, state.Value)
		assert.Equal(t, uint64(1), state.RoundSeq)

		// Persisted as well as cached.
		saved, err := repo.GetFeedState(ctx, "ETH/USD")
		require.NoError(t, err)
		assert.Equal(t, 1800.0, saved.Value)
	})

	t.Run("UnknownFeed", func(t *testing.T) {
		store := NewStore(data.NewMockRepository(), zap.NewNop())
		_, ok := store.Get("BTC/USD")
		assert.False(t, ok)
	})

	t.Run("SequenceMustAdvance", func(t *testing.T) {
		store := NewStore(data.NewMockRepository(), zap.NewNop())
		require.NoError(t, store.Publish(ctx, testState("ETH/USD", 5, 1800)))

		err := store.Publish(ctx, testState("ETH/USD", 5, 1801))
		assert.ErrorIs(t, err, data.ErrFeedCorrupted)

		err = store.Publish(ctx, testState("ETH/USD", 4, 1801))
		assert.ErrorIs(t, err, data.ErrFeedCorrupted)

		// The published record is untouched by the refused writes.
		state, ok := store.Get("ETH/USD")
		require.True(t, ok)
		assert.Equal(t, 1800.0, state.Value)
	})

	t.Run("NonFiniteValueRefused", func(t *testing.T) {
		store := NewStore(data.NewMockRepository(), zap.NewNop())

		err := store.Publish(ctx, testState("ETH/USD", 1, math.NaN()))
		assert.ErrorIs(t, err, data.ErrFeedCorrupted)

		err = store.Publish(ctx, testState("ETH/USD", 1, math.Inf(1)))
		assert.ErrorIs(t, err, data.ErrFeedCorrupted)
	})
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	repo := data.NewMockRepository()
	require.NoError(t, repo.SaveFeedState(ctx, testState("ETH/USD", 3, 1800)))
	require.NoError(t, repo.SaveFeedState(ctx, testState("BTC/USD", 8, 65000)))

	store := NewStore(repo, zap.NewNop())
	require.NoError(t, store.Load(ctx))

	eth, ok := store.Get("ETH/USD")
	require.True(t, ok)
	assert.Equal(t, uint64(3), eth.RoundSeq)

	btc, ok := store.Get("BTC/USD")
	require.True(t, ok)
	assert.Equal(t, 65000.0, btc.Value)
}
