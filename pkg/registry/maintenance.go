package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"feed_oracle/pkg/data"
)

// Maintenance runs the periodic registry sweep: reporters that have not
// submitted within the inactivity window lose a small amount of reputation,
// the same pressure the per-round reward/penalty gradient applies to
// reporters that do participate.
type Maintenance struct {
	registry *Registry
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewMaintenance creates the registry maintenance job.
func NewMaintenance(registry *Registry, schedule string, logger *zap.Logger) *Maintenance {
	return &Maintenance{
		registry: registry,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start schedules the sweep. The job stops when ctx is cancelled.
func (m *Maintenance) Start(ctx context.Context) error {
	_, err := m.cron.AddFunc(m.schedule, func() {
		m.Sweep(ctx, time.Now().UTC())
	})
	if err != nil {
		return fmt.Errorf("scheduling maintenance sweep: %w", err)
	}

	m.cron.Start()
	go func() {
		<-ctx.Done()
		m.cron.Stop()
	}()

	return nil
}

// Sweep applies the inactivity decay once. Exposed for tests and for the
// cron callback.
func (m *Maintenance) Sweep(ctx context.Context, now time.Time) {
	reg := m.registry

	reg.mu.RLock()
	var idle []peer.ID
	for id, reporter := range reg.reporters {
		if reporter.Status != data.ReporterActive {
			continue
		}
		if now.Sub(reporter.LastActive) > reg.inactivityAfter {
			idle = append(idle, id)
		}
	}
	reg.mu.RUnlock()

	for _, id := range idle {
		if _, err := reg.AdjustReputation(ctx, id, -reg.inactivityDecay); err != nil {
			m.logger.Error("Inactivity decay failed",
				zap.String("reporterID", id.String()),
				zap.Error(err))
		}
	}

	if len(idle) > 0 {
		m.logger.Info("Maintenance sweep applied inactivity decay",
			zap.Int("reporters", len(idle)))
	}
}
