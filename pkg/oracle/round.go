package oracle

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"feed_oracle/pkg/config"
	"feed_oracle/pkg/data"
	"feed_oracle/pkg/registry"
)

// Round is one bounded collection window for a feed. Live rounds are owned
// exclusively by the engine; all access is serialized through the feed's
// runtime lock. The registry snapshot is taken at round open, so stake
// checks and weights see a consistent pre-finalization view.
type Round struct {
	FeedID    string
	Seq       uint64
	Status    data.RoundStatus
	StartTime time.Time
	Deadline  time.Time

	snapshot    *registry.Snapshot
	submissions []*data.Submission
	byReporter  map[peer.ID]struct{}
}

func newRound(feed *data.Feed, seq uint64, start time.Time, snapshot *registry.Snapshot) *Round {
	return &Round{
		FeedID:     feed.ID,
		Seq:        seq,
		Status:     data.RoundCollecting,
		StartTime:  start,
		Deadline:   start.Add(feed.RoundDuration),
		snapshot:   snapshot,
		byReporter: make(map[peer.ID]struct{}),
	}
}

// Has reports whether the reporter already has an accepted submission in
// this round.
func (r *Round) Has(id peer.ID) bool {
	_, ok := r.byReporter[id]
	return ok
}

// add appends an accepted submission in arrival order.
func (r *Round) add(sub *data.Submission) {
	r.submissions = append(r.submissions, sub)
	r.byReporter[sub.ReporterID] = struct{}{}
}

// DistinctReporters counts accepted submissions; duplicates never enter,
// so this equals the distinct reporter count.
func (r *Round) DistinctReporters() int {
	return len(r.byReporter)
}

// Expired reports whether the deadline has elapsed.
func (r *Round) Expired(now time.Time) bool {
	return now.After(r.Deadline)
}

// roundResult is the deterministic product of finalization.
type roundResult struct {
	outcome    data.RoundOutcome
	value      float64
	confidence float64
	outliers   []peer.ID
}

// finalize computes the round result. Pure with respect to the accepted
// submission set, the snapshot and the feed parameters: the same inputs in
// any arrival order produce the same value and the same outlier set.
func (r *Round) finalize(feed *data.Feed, cfg *config.EngineConfig) roundResult {
	if r.DistinctReporters() < feed.MinQuorum {
		return roundResult{outcome: data.OutcomeInsufficientQuorum}
	}

	values := make([]float64, len(r.submissions))
	for i, sub := range r.submissions {
		values[i] = sub.Value
	}

	_, flags := flagOutliers(values, feed.Tolerance, cfg.MADFloorRelative, cfg.MADFloorAbsolute)

	var outliers []peer.ID
	for i, flagged := range flags {
		if flagged {
			outliers = append(outliers, r.submissions[i].ReporterID)
		}
	}

	mean, stddev, kept := weightedAggregate(r.submissions, flags, r.snapshot.Stake)
	if kept < feed.MinAgreement {
		// Too few reporters concur once outliers are stripped; mutual
		// agreement among a tiny remainder must not move the feed.
		return roundResult{outcome: data.OutcomeInsufficientAgreement, outliers: outliers}
	}

	return roundResult{
		outcome:    data.OutcomePublished,
		value:      mean,
		confidence: stddev,
		outliers:   outliers,
	}
}
