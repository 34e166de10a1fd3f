package feedstore

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"feed_oracle/pkg/data"
)

// Store publishes finalized feed records. States are held as immutable
// snapshots in a concurrent map, so readers always see either the previous
// fully finalized triplet or the new one and never block round progress.
// The round engine is the single writer per feed.
type Store struct {
	states *xsync.Map[string, *data.FeedState]
	repo   data.Repository
	logger *zap.Logger
}

// NewStore creates a feed state store backed by the repository.
func NewStore(repo data.Repository, logger *zap.Logger) *Store {
	return &Store{
		states: xsync.NewMap[string, *data.FeedState](),
		repo:   repo,
		logger: logger,
	}
}

// Load warms the store from durable state at startup.
func (s *Store) Load(ctx context.Context) error {
	states, err := s.repo.ListFeedStates(ctx)
	if err != nil {
		return fmt.Errorf("loading feed states: %w", err)
	}

	for _, state := range states {
		s.states.Store(state.FeedID, state)
	}

	s.logger.Info("Feed store loaded", zap.Int("feeds", len(states)))
	return nil
}

// Get returns a copy of the latest finalized record for a feed.
func (s *Store) Get(feedID string) (data.FeedState, bool) {
	state, ok := s.states.Load(feedID)
	if !ok {
		return data.FeedState{}, false
	}
	return *state, true
}

// Publish atomically replaces the published record for a feed. The round
// sequence must advance; a regression means the caller's state is corrupt
// and the error halts that feed rather than overwriting history.
func (s *Store) Publish(ctx context.Context, state *data.FeedState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	if prev, ok := s.states.Load(state.FeedID); ok && state.RoundSeq <= prev.RoundSeq {
		return fmt.Errorf("%w: round sequence %d does not advance past %d",
			data.ErrFeedCorrupted, state.RoundSeq, prev.RoundSeq)
	}

	if err := s.repo.SaveFeedState(ctx, state); err != nil {
		return fmt.Errorf("persisting feed state: %w", err)
	}

	// Pointer swap makes the new triplet visible in one step.
	s.states.Store(state.FeedID, state)

	return nil
}
