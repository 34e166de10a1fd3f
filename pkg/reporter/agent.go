package reporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"feed_oracle/pkg/data"
	"feed_oracle/pkg/security"
)

// Observation is one value read from an upstream source.
type Observation struct {
	Value      float64
	ObservedAt time.Time
}

// Source is the capability a data-source adapter exposes. The engine never
// sees a Source; only reporter agents call it, and they hand the engine
// nothing but signed submissions.
type Source interface {
	Fetch(ctx context.Context) (Observation, error)
}

// Submitter is the slice of the round engine an agent needs.
type Submitter interface {
	Submit(ctx context.Context, sub *data.Submission) error
	CurrentRound(ctx context.Context, feedID string) (seq uint64, deadline time.Time, err error)
}

// Agent runs one reporter's fetch → sign → submit loop for a single feed.
// Each agent is independent; suspending in Fetch or Submit never blocks
// another reporter.
type Agent struct {
	key     *security.ReporterKey
	feedID  string
	source  Source
	engine  Submitter
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewAgent creates a reporter agent that submits at most once per interval.
func NewAgent(key *security.ReporterKey, feedID string, source Source, engine Submitter, interval time.Duration, logger *zap.Logger) *Agent {
	return &Agent{
		key:     key,
		feedID:  feedID,
		source:  source,
		engine:  engine,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		logger:  logger,
	}
}

// Run loops until ctx is cancelled. An abandoned attempt leaves no trace
// engine-side; rejections are logged and retried next round.
func (a *Agent) Run(ctx context.Context) error {
	for {
		if err := a.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("rate limiter: %w", err)
		}

		if err := a.SubmitOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Debug("Submission attempt failed",
				zap.String("feedID", a.feedID),
				zap.String("reporterID", a.key.ID().String()),
				zap.Error(err))
		}
	}
}

// SubmitOnce performs a single fetch → sign → submit cycle.
func (a *Agent) SubmitOnce(ctx context.Context) error {
	obs, err := a.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetching observation: %w", err)
	}

	seq, _, err := a.engine.CurrentRound(ctx, a.feedID)
	if err != nil {
		return fmt.Errorf("resolving current round: %w", err)
	}

	sub, err := Sign(a.key, a.feedID, seq, obs.Value, obs.ObservedAt)
	if err != nil {
		return err
	}

	if err := a.engine.Submit(ctx, sub); err != nil {
		return fmt.Errorf("submitting: %w", err)
	}

	a.logger.Debug("Submission accepted",
		zap.String("feedID", a.feedID),
		zap.Uint64("roundSeq", seq),
		zap.Float64("value", obs.Value))

	return nil
}

// Sign builds a signed submission for the exact tuple the validator will
// verify.
func Sign(key *security.ReporterKey, feedID string, roundSeq uint64, value float64, observedAt time.Time) (*data.Submission, error) {
	payload, err := data.SubmissionPayload(feedID, roundSeq, value, observedAt)
	if err != nil {
		return nil, err
	}
	sig, err := key.Sign(payload)
	if err != nil {
		return nil, err
	}

	return &data.Submission{
		ReporterID: key.ID(),
		FeedID:     feedID,
		RoundSeq:   roundSeq,
		Value:      value,
		Timestamp:  observedAt,
		Signature:  sig,
	}, nil
}

// StaticSource returns a fixed observation stream; used in tests and as a
// placeholder adapter.
type StaticSource struct {
	Value float64
}

// Fetch implements Source.
func (s StaticSource) Fetch(ctx context.Context) (Observation, error) {
	return Observation{Value: s.Value, ObservedAt: time.Now().UTC()}, nil
}
