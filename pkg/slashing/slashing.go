package slashing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"feed_oracle/pkg/config"
	"feed_oracle/pkg/data"
	"feed_oracle/pkg/registry"
)

// Manager consumes finalized round archives and applies the economic
// incentive gradient: outliers lose reputation, honest reporters in rounds
// that had an outlier gain a little, and repeat offenders inside the
// sliding window are slashed. All side effects land in the registry; feed
// and round state are never touched here.
type Manager struct {
	registry *registry.Registry
	repo     data.Repository
	logger   *zap.Logger

	penalty       float64
	reward        float64
	windowRounds  uint64
	threshold     int
	slashFraction float64

	// offenses records the round sequences in which a reporter was
	// flagged, per feed. Cleared for a reporter when it is slashed, so
	// each breach slashes exactly once.
	offenses map[string]map[peer.ID][]uint64
	mu       sync.Mutex
}

// NewManager creates an anomaly and slashing manager.
func NewManager(cfg *config.SlashingConfig, reg *registry.Registry, repo data.Repository, logger *zap.Logger) *Manager {
	return &Manager{
		registry:      reg,
		repo:          repo,
		logger:        logger,
		penalty:       cfg.ReputationPenalty,
		reward:        cfg.ReputationReward,
		windowRounds:  uint64(cfg.WindowRounds),
		threshold:     cfg.OffenseThreshold,
		slashFraction: cfg.SlashFraction,
		offenses:      make(map[string]map[peer.ID][]uint64),
	}
}

// ProcessRound applies reputation and stake consequences for one finalized
// round.
func (m *Manager) ProcessRound(ctx context.Context, archive *data.RoundArchive) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range archive.Submissions {
		if err := m.registry.MarkActive(ctx, sub.ReporterID, archive.ClosedAt); err != nil {
			m.logger.Debug("Marking reporter activity failed",
				zap.String("reporterID", sub.ReporterID.String()),
				zap.Error(err))
		}
	}

	if len(archive.Outliers) == 0 {
		return nil
	}

	var errs []error
	for _, sub := range archive.Submissions {
		if archive.IsOutlier(sub.ReporterID) {
			if err := m.punishOutlier(ctx, archive, sub.ReporterID); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		// Honest reporting next to a flagged outlier earns a small
		// reputation recovery.
		if _, err := m.registry.AdjustReputation(ctx, sub.ReporterID, m.reward); err != nil {
			errs = append(errs, fmt.Errorf("rewarding %s: %w", sub.ReporterID, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("processing round %s/%d: %v", archive.FeedID, archive.RoundSeq, errs)
	}
	return nil
}

func (m *Manager) punishOutlier(ctx context.Context, archive *data.RoundArchive, id peer.ID) error {
	if _, err := m.registry.AdjustReputation(ctx, id, -m.penalty); err != nil {
		return fmt.Errorf("penalizing %s: %w", id, err)
	}

	byReporter, ok := m.offenses[archive.FeedID]
	if !ok {
		byReporter = make(map[peer.ID][]uint64)
		m.offenses[archive.FeedID] = byReporter
	}

	flags := append(byReporter[id], archive.RoundSeq)
	flags = pruneWindow(flags, archive.RoundSeq, m.windowRounds)
	byReporter[id] = flags

	if len(flags) < m.threshold {
		return nil
	}

	confiscated, err := m.registry.Slash(ctx, id, m.slashFraction)
	if err != nil {
		if errors.Is(err, registry.ErrReporterSlashed) {
			return nil
		}
		return fmt.Errorf("slashing %s: %w", id, err)
	}
	delete(byReporter, id)

	event := data.NewAuditEvent(
		data.AuditReporterSlashed, id, archive.FeedID, archive.RoundSeq, confiscated,
		fmt.Sprintf("%d outlier flags within %d rounds", len(flags), m.windowRounds),
	)
	if err := m.repo.SaveAuditEvent(ctx, event); err != nil {
		return fmt.Errorf("recording slash event: %w", err)
	}

	m.logger.Warn("Reporter slashed for repeated outliers",
		zap.String("reporterID", id.String()),
		zap.String("feedID", archive.FeedID),
		zap.Uint64("roundSeq", archive.RoundSeq),
		zap.Uint64("confiscated", confiscated))

	return nil
}

// pruneWindow drops offense flags that fall outside the sliding window
// ending at the given round.
func pruneWindow(flags []uint64, current, window uint64) []uint64 {
	if current < window {
		return flags
	}
	low := current - window + 1
	kept := flags[:0]
	for _, seq := range flags {
		if seq >= low {
			kept = append(kept, seq)
		}
	}
	return kept
}
