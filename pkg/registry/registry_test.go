package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"feed_oracle/pkg/config"
	"feed_oracle/pkg/data"
	"feed_oracle/pkg/security"
)

func newTestRegistry(t *testing.T) (*Registry, *data.MockRepository) {
	t.Helper()
	repo := data.NewMockRepository()
	cfg := &config.RegistryConfig{
		MinStake:          1000,
		InitialReputation: 0.5,
		SuspendBelow:      0.1,
		InactivityAfter:   24 * time.Hour,
		InactivityDecay:   0.01,
	}
	return NewRegistry(cfg, repo, zap.NewNop()), repo
}

// flakySaveRepository fails SaveReporter on demand.
type flakySaveRepository struct {
	*data.MockRepository
	failSave bool
}

func (f *flakySaveRepository) SaveReporter(ctx context.Context, reporter *data.Reporter) error {
	if f.failSave {
		return errors.New("connection reset")
	}
	return f.MockRepository.SaveReporter(ctx, reporter)
}

func registerTestReporter(t *testing.T, reg *Registry, stake uint64) *security.ReporterKey {
	t.Helper()
	key, err := security.GenerateReporterKey()
	require.NoError(t, err)
	_, err = reg.Register(context.Background(), key.PublicKey(), stake)
	require.NoError(t, err)
	return key
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("AdmitsWithMinimumStake", func(t *testing.T) {
		reg, repo := newTestRegistry(t)
		key := registerTestReporter(t, reg, 1000)

		reporter, err := reg.Get(key.ID())
		require.NoError(t, err)
		assert.Equal(t, data.ReporterActive, reporter.Status)
		assert.Equal(t, uint64(1000), reporter.Stake)
		assert.Equal(t, 0.5, reporter.Reputation)

		// Admission is durable.
		persisted, err := repo.GetReporter(ctx, key.ID())
		require.NoError(t, err)
		assert.Equal(t, reporter.ID, persisted.ID)
	})

	t.Run("RejectsBelowMinimumStake", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		key, err := security.GenerateReporterKey()
		require.NoError(t, err)

		_, err = reg.Register(ctx, key.PublicKey(), 999)
		assert.ErrorIs(t, err, ErrStakeBelowMinimum)
	})

	t.Run("RejectsDoubleRegistration", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		key := registerTestReporter(t, reg, 1000)

		_, err := reg.Register(ctx, key.PublicKey(), 2000)
		assert.ErrorIs(t, err, ErrAlreadyRegistered)
	})

	t.Run("SlashedReporterMayReRegister", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		key := registerTestReporter(t, reg, 1000)

		_, err := reg.Slash(ctx, key.ID(), 0.25)
		require.NoError(t, err)

		reporter, err := reg.Register(ctx, key.PublicKey(), 5000)
		require.NoError(t, err)
		assert.Equal(t, data.ReporterActive, reporter.Status)
		assert.Equal(t, uint64(5000), reporter.Stake)
		assert.Equal(t, 0.5, reporter.Reputation)
	})

	t.Run("PersistFailureRestoresPriorRecord", func(t *testing.T) {
		repo := &flakySaveRepository{MockRepository: data.NewMockRepository()}
		cfg := &config.RegistryConfig{
			MinStake:          1000,
			InitialReputation: 0.5,
			SuspendBelow:      0.1,
			InactivityAfter:   24 * time.Hour,
			InactivityDecay:   0.01,
		}
		reg := NewRegistry(cfg, repo, zap.NewNop())

		key, err := security.GenerateReporterKey()
		require.NoError(t, err)
		_, err = reg.Register(ctx, key.PublicKey(), 1000)
		require.NoError(t, err)
		_, err = reg.Slash(ctx, key.ID(), 0.25)
		require.NoError(t, err)

		repo.failSave = true
		_, err = reg.Register(ctx, key.PublicKey(), 5000)
		require.Error(t, err)

		// The slashed record survives the failed re-registration instead
		// of vanishing from memory.
		reporter, err := reg.Get(key.ID())
		require.NoError(t, err)
		assert.Equal(t, data.ReporterSlashed, reporter.Status)
		assert.Equal(t, uint64(750), reporter.Stake)
	})
}

func TestStakeOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("DepositAndWithdraw", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		key := registerTestReporter(t, reg, 1000)

		reporter, err := reg.Deposit(ctx, key.ID(), 500)
		require.NoError(t, err)
		assert.Equal(t, uint64(1500), reporter.Stake)

		reporter, err = reg.Withdraw(ctx, key.ID(), 400)
		require.NoError(t, err)
		assert.Equal(t, uint64(1100), reporter.Stake)
	})

	t.Run("WithdrawBelowMinimumFails", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		key := registerTestReporter(t, reg, 1200)

		_, err := reg.Withdraw(ctx, key.ID(), 300)
		assert.ErrorIs(t, err, ErrWithdrawBelowStake)

		// Stake is unchanged after the refused withdrawal.
		reporter, err := reg.Get(key.ID())
		require.NoError(t, err)
		assert.Equal(t, uint64(1200), reporter.Stake)
	})

	t.Run("WithdrawMoreThanHeldFails", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		key := registerTestReporter(t, reg, 1000)

		_, err := reg.Withdraw(ctx, key.ID(), 5000)
		assert.ErrorIs(t, err, data.ErrInvalidAmount)
	})

	t.Run("ZeroAmountFails", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		key := registerTestReporter(t, reg, 1000)

		_, err := reg.Deposit(ctx, key.ID(), 0)
		assert.ErrorIs(t, err, data.ErrInvalidAmount)
	})
}

func TestReputationAndSlashing(t *testing.T) {
	ctx := context.Background()

	t.Run("AdjustClampsToUnitRange", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		key := registerTestReporter(t, reg, 1000)

		reporter, err := reg.AdjustReputation(ctx, key.ID(), 0.9)
		require.NoError(t, err)
		assert.Equal(t, 1.0, reporter.Reputation)
	})

	t.Run("SuspendsBelowFloor", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		key := registerTestReporter(t, reg, 1000)

		reporter, err := reg.AdjustReputation(ctx, key.ID(), -0.45)
		require.NoError(t, err)
		assert.Equal(t, data.ReporterSuspended, reporter.Status)
	})

	t.Run("SlashConfiscatesFraction", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		key := registerTestReporter(t, reg, 1001)

		confiscated, err := reg.Slash(ctx, key.ID(), 0.25)
		require.NoError(t, err)
		assert.Equal(t, uint64(250), confiscated)

		reporter, err := reg.Get(key.ID())
		require.NoError(t, err)
		assert.Equal(t, data.ReporterSlashed, reporter.Status)
		assert.Equal(t, uint64(751), reporter.Stake)
	})

	t.Run("SlashTwiceFails", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		key := registerTestReporter(t, reg, 1000)

		_, err := reg.Slash(ctx, key.ID(), 0.25)
		require.NoError(t, err)

		_, err = reg.Slash(ctx, key.ID(), 0.25)
		assert.ErrorIs(t, err, ErrReporterSlashed)
	})
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("IsolatedFromLaterWrites", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		key := registerTestReporter(t, reg, 1000)

		snapshot := reg.Snapshot()

		_, err := reg.Deposit(ctx, key.ID(), 9000)
		require.NoError(t, err)
		_, err = reg.Slash(ctx, key.ID(), 0.5)
		require.NoError(t, err)

		reporter, ok := snapshot.Reporter(key.ID())
		require.True(t, ok)
		assert.Equal(t, uint64(1000), reporter.Stake)
		assert.Equal(t, data.ReporterActive, reporter.Status)
		assert.Equal(t, uint64(1000), snapshot.Stake(key.ID()))
	})

	t.Run("UnknownReporterHasZeroStake", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		snapshot := reg.Snapshot()

		assert.Equal(t, uint64(0), snapshot.Stake("unknown"))
		assert.Equal(t, 0, snapshot.Len())
	})
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	reg, repo := newTestRegistry(t)
	key := registerTestReporter(t, reg, 1000)

	restored := NewRegistry(&config.RegistryConfig{
		MinStake:          1000,
		InitialReputation: 0.5,
		SuspendBelow:      0.1,
	}, repo, zap.NewNop())
	require.NoError(t, restored.Load(ctx))

	reporter, err := restored.Get(key.ID())
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), reporter.Stake)
}

func TestMaintenanceSweep(t *testing.T) {
	ctx := context.Background()

	repo := data.NewMockRepository()
	reg := NewRegistry(&config.RegistryConfig{
		MinStake:          1000,
		InitialReputation: 0.5,
		SuspendBelow:      0.1,
		InactivityAfter:   time.Hour,
		InactivityDecay:   0.05,
	}, repo, zap.NewNop())

	idle := registerTestReporter(t, reg, 1000)
	active := registerTestReporter(t, reg, 1000)

	future := time.Now().UTC().Add(2 * time.Hour)
	require.NoError(t, reg.MarkActive(ctx, active.ID(), future))

	maintenance := NewMaintenance(reg, "@every 1h", zap.NewNop())
	maintenance.Sweep(ctx, future)

	idleReporter, err := reg.Get(idle.ID())
	require.NoError(t, err)
	assert.InDelta(t, 0.45, idleReporter.Reputation, 1e-12)

	activeReporter, err := reg.Get(active.ID())
	require.NoError(t, err)
	assert.Equal(t, 0.5, activeReporter.Reputation)
}
