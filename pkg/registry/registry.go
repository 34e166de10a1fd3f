package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"feed_oracle/pkg/config"
	"feed_oracle/pkg/data"
)

var (
	ErrUnknownReporter    = errors.New("reporter not registered")
	ErrAlreadyRegistered  = errors.New("reporter already registered")
	ErrStakeBelowMinimum  = errors.New("stake below registration minimum")
	ErrWithdrawBelowStake = errors.New("withdrawal would drop stake below minimum")
	ErrReporterSlashed    = errors.New("reporter is slashed")
)

// Registry owns all reporter records. Other components get read-only copies
// and snapshots; mutation happens only through the operations below, and
// reputation/stake writes only arrive from the slashing manager after a
// round fully finalizes.
type Registry struct {
	reporters map[peer.ID]*data.Reporter
	repo      data.Repository
	logger    *zap.Logger

	minStake          uint64
	initialReputation float64
	suspendBelow      float64
	inactivityAfter   time.Duration
	inactivityDecay   float64

	mu sync.RWMutex
}

// NewRegistry creates a reporter registry.
func NewRegistry(cfg *config.RegistryConfig, repo data.Repository, logger *zap.Logger) *Registry {
	return &Registry{
		reporters:         make(map[peer.ID]*data.Reporter),
		repo:              repo,
		logger:            logger,
		minStake:          cfg.MinStake,
		initialReputation: cfg.InitialReputation,
		suspendBelow:      cfg.SuspendBelow,
		inactivityAfter:   cfg.InactivityAfter,
		inactivityDecay:   cfg.InactivityDecay,
	}
}

// Load restores reporter records from the repository.
func (r *Registry) Load(ctx context.Context) error {
	reporters, err := r.repo.ListReporters(ctx)
	if err != nil {
		return fmt.Errorf("loading reporters: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reporter := range reporters {
		r.reporters[reporter.ID] = reporter
	}

	r.logger.Info("Registry loaded", zap.Int("reporters", len(reporters)))
	return nil
}

// Register admits a reporter with the given public key and initial stake.
// A previously slashed or suspended reporter may re-register, which resets
// its reputation and replaces its stake.
func (r *Registry) Register(ctx context.Context, publicKey crypto.PubKey, stake uint64) (data.Reporter, error) {
	if stake < r.minStake {
		return data.Reporter{}, fmt.Errorf("%w: %d < %d", ErrStakeBelowMinimum, stake, r.minStake)
	}

	id, err := peer.IDFromPublicKey(publicKey)
	if err != nil {
		return data.Reporter{}, fmt.Errorf("deriving reporter ID: %w", err)
	}
	raw, err := crypto.MarshalPublicKey(publicKey)
	if err != nil {
		return data.Reporter{}, fmt.Errorf("marshaling public key: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prior, hadPrior := r.reporters[id]
	if hadPrior && prior.Status == data.ReporterActive {
		return data.Reporter{}, ErrAlreadyRegistered
	}

	reporter, err := data.NewReporter(id, raw, stake, r.initialReputation)
	if err != nil {
		return data.Reporter{}, err
	}
	r.reporters[id] = reporter

	if err := r.persist(ctx, reporter); err != nil {
		// Roll back to the pre-registration record, not to nothing.
		if hadPrior {
			r.reporters[id] = prior
		} else {
			delete(r.reporters, id)
		}
		return data.Reporter{}, err
	}

	r.logger.Info("Reporter registered",
		zap.String("reporterID", id.String()),
		zap.Uint64("stake", stake))

	return *reporter, nil
}

// Deposit adds stake to a reporter.
func (r *Registry) Deposit(ctx context.Context, id peer.ID, amount uint64) (data.Reporter, error) {
	if amount == 0 {
		return data.Reporter{}, data.ErrInvalidAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reporter, ok := r.reporters[id]
	if !ok {
		return data.Reporter{}, ErrUnknownReporter
	}
	if reporter.Status == data.ReporterSlashed {
		return data.Reporter{}, ErrReporterSlashed
	}

	reporter.Stake += amount
	reporter.UpdatedAt = time.Now().UTC()

	if err := r.persist(ctx, reporter); err != nil {
		reporter.Stake -= amount
		return data.Reporter{}, err
	}

	return *reporter, nil
}

// Withdraw removes stake from a reporter. Fails if the withdrawal would
// drop an active reporter below the registration minimum.
func (r *Registry) Withdraw(ctx context.Context, id peer.ID, amount uint64) (data.Reporter, error) {
	if amount == 0 {
		return data.Reporter{}, data.ErrInvalidAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reporter, ok := r.reporters[id]
	if !ok {
		return data.Reporter{}, ErrUnknownReporter
	}
	if amount > reporter.Stake {
		return data.Reporter{}, fmt.Errorf("%w: %d > %d", data.ErrInvalidAmount, amount, reporter.Stake)
	}
	if reporter.Status == data.ReporterActive && reporter.Stake-amount < r.minStake {
		return data.Reporter{}, ErrWithdrawBelowStake
	}

	reporter.Stake -= amount
	reporter.UpdatedAt = time.Now().UTC()

	if err := r.persist(ctx, reporter); err != nil {
		reporter.Stake += amount
		return data.Reporter{}, err
	}

	return *reporter, nil
}

// Get returns a read-only copy of a reporter record.
func (r *Registry) Get(id peer.ID) (data.Reporter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reporter, ok := r.reporters[id]
	if !ok {
		return data.Reporter{}, ErrUnknownReporter
	}
	return *reporter, nil
}

// Snapshot captures a point-in-time copy of every reporter record. The
// round engine takes one at round open so stake checks and weights are
// unaffected by mid-round registry writes.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reporters := make(map[peer.ID]data.Reporter, len(r.reporters))
	for id, reporter := range r.reporters {
		reporters[id] = *reporter
	}

	return &Snapshot{
		TakenAt:   time.Now().UTC(),
		reporters: reporters,
	}
}

// AdjustReputation applies a reputation delta on behalf of the slashing
// manager. Falling below the suspension floor deactivates the reporter.
func (r *Registry) AdjustReputation(ctx context.Context, id peer.ID, delta float64) (data.Reporter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reporter, ok := r.reporters[id]
	if !ok {
		return data.Reporter{}, ErrUnknownReporter
	}

	reporter.AdjustReputation(delta)
	if reporter.Status == data.ReporterActive && reporter.Reputation < r.suspendBelow {
		reporter.Status = data.ReporterSuspended
		r.logger.Warn("Reporter suspended",
			zap.String("reporterID", id.String()),
			zap.Float64("reputation", reporter.Reputation))
	}

	if err := r.persist(ctx, reporter); err != nil {
		return data.Reporter{}, err
	}

	return *reporter, nil
}

// Slash marks a reporter slashed and confiscates the given fraction of its
// stake, returning the confiscated amount.
func (r *Registry) Slash(ctx context.Context, id peer.ID, fraction float64) (uint64, error) {
	if fraction <= 0 || fraction > 1 {
		return 0, fmt.Errorf("slash fraction must be between 0 and 1")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reporter, ok := r.reporters[id]
	if !ok {
		return 0, ErrUnknownReporter
	}
	if reporter.Status == data.ReporterSlashed {
		return 0, ErrReporterSlashed
	}

	confiscated := uint64(math.Floor(float64(reporter.Stake) * fraction))
	reporter.Stake -= confiscated
	reporter.Status = data.ReporterSlashed
	reporter.UpdatedAt = time.Now().UTC()

	if err := r.persist(ctx, reporter); err != nil {
		return 0, err
	}

	r.logger.Warn("Reporter slashed",
		zap.String("reporterID", id.String()),
		zap.Uint64("confiscated", confiscated),
		zap.Uint64("remainingStake", reporter.Stake))

	return confiscated, nil
}

// MarkActive records submission activity for inactivity decay tracking.
func (r *Registry) MarkActive(ctx context.Context, id peer.ID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reporter, ok := r.reporters[id]
	if !ok {
		return ErrUnknownReporter
	}
	if at.After(reporter.LastActive) {
		reporter.LastActive = at
		reporter.UpdatedAt = time.Now().UTC()
	}
	return r.persist(ctx, reporter)
}

// MinStake returns the registration minimum.
func (r *Registry) MinStake() uint64 {
	return r.minStake
}

func (r *Registry) persist(ctx context.Context, reporter *data.Reporter) error {
	if err := r.repo.SaveReporter(ctx, reporter); err != nil {
		return fmt.Errorf("persisting reporter: %w", err)
	}
	return nil
}
