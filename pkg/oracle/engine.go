package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"feed_oracle/pkg/config"
	"feed_oracle/pkg/data"
	"feed_oracle/pkg/feedstore"
	"feed_oracle/pkg/registry"
)

var (
	ErrUnknownFeed = errors.New("feed not registered")
	ErrFeedHalted  = errors.New("feed halted pending operator intervention")
)

// RoundSink consumes finalized round archives. The slashing manager
// implements it; tests substitute their own.
type RoundSink interface {
	ProcessRound(ctx context.Context, archive *data.RoundArchive) error
}

// Engine runs the consensus round state machine for every registered feed.
// Submission acceptance and finalization are serialized per feed; feeds
// are fully independent of each other.
type Engine struct {
	cfg       *config.EngineConfig
	registry  *registry.Registry
	store     *feedstore.Store
	repo      data.Repository
	sink      RoundSink
	validator *Validator
	logger    *zap.Logger
	metrics   *EngineMetrics

	// archivePool persists round archives off the submission path.
	archivePool pond.Pool

	feeds map[string]*feedRuntime
	mu    sync.RWMutex
}

// feedRuntime holds one feed's live round. Its lock is the serialization
// point for all state transitions of that feed.
type feedRuntime struct {
	feed    *data.Feed
	round   *Round
	haltErr error
	mu      sync.Mutex
}

// NewEngine creates the consensus round engine.
func NewEngine(cfg *config.EngineConfig, reg *registry.Registry, store *feedstore.Store, repo data.Repository, sink RoundSink, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		registry:    reg,
		store:       store,
		repo:        repo,
		sink:        sink,
		validator:   NewValidator(cfg, reg.MinStake()),
		logger:      logger,
		metrics:     NewEngineMetrics(),
		archivePool: pond.NewPool(cfg.ArchiveWorkers),
		feeds:       make(map[string]*feedRuntime),
	}
}

// RegisterFeed admits a feed and opens its first collecting round. The
// round sequence resumes after the highest sequence already recorded for
// the feed. Degraded rounds archive without advancing the published state,
// so the archive tail can be ahead of the store.
func (e *Engine) RegisterFeed(ctx context.Context, feed *data.Feed) error {
	if err := feed.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.feeds[feed.ID]; exists {
		return fmt.Errorf("feed already registered: %s", feed.ID)
	}

	var last uint64
	if state, ok := e.store.Get(feed.ID); ok {
		last = state.RoundSeq
	}
	archives, err := e.repo.ListRoundArchives(ctx, feed.ID, 1)
	if err != nil {
		return fmt.Errorf("reading archive tail for %s: %w", feed.ID, err)
	}
	if len(archives) > 0 && archives[0].RoundSeq > last {
		last = archives[0].RoundSeq
	}
	seq := last + 1

	rt := &feedRuntime{feed: feed}
	rt.round = newRound(feed, seq, time.Now().UTC(), e.registry.Snapshot())
	e.feeds[feed.ID] = rt
	e.metrics.IncrementRoundsStarted()

	e.logger.Info("Feed registered",
		zap.String("feedID", feed.ID),
		zap.Uint64("roundSeq", seq),
		zap.Int("minQuorum", feed.MinQuorum))

	return nil
}

// Submit validates and accepts one submission, finalizing the round if it
// reaches quorum. Rejections are local to the submission and never abort
// the round.
func (e *Engine) Submit(ctx context.Context, sub *data.Submission) error {
	rt, err := e.runtime(sub.FeedID)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.haltErr != nil {
		return fmt.Errorf("%w: %s", ErrFeedHalted, rt.haltErr)
	}

	now := time.Now().UTC()

	// A deadline that lapsed between ticks closes the round first; the
	// late submission then fails the sequence check instead of being
	// queued for the next round.
	if rt.round.Expired(now) {
		if err := e.finalizeLocked(ctx, rt, now); err != nil {
			return err
		}
	}

	if err := e.validator.Validate(sub, rt.round); err != nil {
		reason := data.RejectReasonOf(err)
		e.metrics.RecordRejected(reason)
		e.logger.Debug("Submission rejected",
			zap.String("feedID", sub.FeedID),
			zap.String("reporterID", sub.ReporterID.String()),
			zap.String("reason", string(reason)))
		return err
	}

	rt.round.add(sub)
	e.metrics.RecordAccepted()

	if rt.round.DistinctReporters() >= rt.feed.MinQuorum {
		return e.finalizeLocked(ctx, rt, now)
	}

	return nil
}

// CurrentRound reports the open round for a feed so reporters can stamp
// their submissions. A lapsed deadline closes the round first, so the
// returned sequence is always one a submission can still land in.
func (e *Engine) CurrentRound(ctx context.Context, feedID string) (seq uint64, deadline time.Time, err error) {
	rt, err := e.runtime(feedID)
	if err != nil {
		return 0, time.Time{}, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.haltErr != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %s", ErrFeedHalted, rt.haltErr)
	}

	now := time.Now().UTC()
	if rt.round.Expired(now) {
		if err := e.finalizeLocked(ctx, rt, now); err != nil {
			return 0, time.Time{}, err
		}
	}
	return rt.round.Seq, rt.round.Deadline, nil
}

// Start runs the deadline ticker until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.CloseExpired(ctx, time.Now().UTC())
			}
		}
	}()
}

// Stop drains the archive pool.
func (e *Engine) Stop() {
	e.archivePool.StopAndWait()
}

// CloseExpired finalizes every round whose deadline has elapsed at the
// given instant.
func (e *Engine) CloseExpired(ctx context.Context, now time.Time) {
	e.mu.RLock()
	runtimes := make([]*feedRuntime, 0, len(e.feeds))
	for _, rt := range e.feeds {
		runtimes = append(runtimes, rt)
	}
	e.mu.RUnlock()

	for _, rt := range runtimes {
		rt.mu.Lock()
		if rt.haltErr == nil && rt.round.Expired(now) {
			if err := e.finalizeLocked(ctx, rt, now); err != nil {
				e.logger.Error("Deadline finalization failed",
					zap.String("feedID", rt.feed.ID),
					zap.Error(err))
			}
		}
		rt.mu.Unlock()
	}
}

// Stats returns current engine statistics.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	active := len(e.feeds)
	e.mu.RUnlock()
	return e.metrics.GetStats(active)
}

// HaltReason returns the fatal error for a halted feed, or nil.
func (e *Engine) HaltReason(feedID string) error {
	rt, err := e.runtime(feedID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.haltErr
}

func (e *Engine) runtime(feedID string) (*feedRuntime, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rt, ok := e.feeds[feedID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, feedID)
	}
	return rt, nil
}

// finalizeLocked runs the collecting → finalizing → finalized transition
// exactly once and opens the next round. Caller holds rt.mu.
func (e *Engine) finalizeLocked(ctx context.Context, rt *feedRuntime, now time.Time) error {
	round := rt.round
	round.Status = data.RoundFinalizing

	result := round.finalize(rt.feed, e.cfg)

	// Degraded outcomes retain the prior published record untouched.
	archiveValue, archiveConfidence := 0.0, 0.0
	if prior, ok := e.store.Get(rt.feed.ID); ok {
		archiveValue, archiveConfidence = prior.Value, prior.Confidence
	}

	if result.outcome == data.OutcomePublished {
		state := &data.FeedState{
			FeedID:     rt.feed.ID,
			Value:      result.value,
			Confidence: result.confidence,
			UpdatedAt:  now,
			RoundSeq:   round.Seq,
		}
		if err := e.store.Publish(ctx, state); err != nil {
			if errors.Is(err, data.ErrFeedCorrupted) {
				// Structural corruption halts the feed; substituting a
				// default value is never acceptable.
				rt.haltErr = err
				e.logger.Error("Feed halted",
					zap.String("feedID", rt.feed.ID),
					zap.Error(err))
			}
			return err
		}
		archiveValue, archiveConfidence = result.value, result.confidence
	}

	round.Status = data.RoundFinalized
	e.metrics.RecordOutcome(result.outcome)

	archive := data.NewRoundArchive(
		rt.feed.ID, round.Seq, result.outcome,
		archiveValue, archiveConfidence, now,
		round.submissions, result.outliers,
	)

	e.logger.Info("Round finalized",
		zap.String("feedID", rt.feed.ID),
		zap.Uint64("roundSeq", round.Seq),
		zap.String("outcome", string(result.outcome)),
		zap.Int("submissions", len(round.submissions)),
		zap.Int("outliers", len(result.outliers)))

	// Registry side effects run only after the round is fully finalized.
	if e.sink != nil {
		if err := e.sink.ProcessRound(ctx, archive); err != nil {
			e.logger.Error("Round sink failed",
				zap.String("feedID", rt.feed.ID),
				zap.Uint64("roundSeq", round.Seq),
				zap.Error(err))
		}
	}

	e.archivePool.Submit(func() {
		if err := e.repo.SaveRoundArchive(context.Background(), archive); err != nil {
			e.logger.Error("Archiving round failed",
				zap.String("feedID", archive.FeedID),
				zap.Uint64("roundSeq", archive.RoundSeq),
				zap.Error(err))
		}
	})

	rt.round = newRound(rt.feed, round.Seq+1, now, e.registry.Snapshot())
	e.metrics.IncrementRoundsStarted()

	return nil
}
