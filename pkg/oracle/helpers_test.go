package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"feed_oracle/pkg/config"
	"feed_oracle/pkg/data"
	"feed_oracle/pkg/feedstore"
	"feed_oracle/pkg/registry"
	"feed_oracle/pkg/reporter"
	"feed_oracle/pkg/security"
)

func testEngineConfig() *config.EngineConfig {
	return &config.EngineConfig{
		DefaultQuorum:        3,
		DefaultMinAgreement:  2,
		DefaultRoundDuration: time.Hour,
		DefaultTolerance:     3.0,
		MADFloorRelative:     1e-9,
		MADFloorAbsolute:     1e-12,
		ClockSkew:            5 * time.Second,
		TickInterval:         time.Second,
		ArchiveWorkers:       2,
	}
}

func testRegistryConfig(minStake uint64) *config.RegistryConfig {
	return &config.RegistryConfig{
		MinStake:          minStake,
		InitialReputation: 0.5,
		SuspendBelow:      0.1,
		InactivityAfter:   24 * time.Hour,
		InactivityDecay:   0.01,
	}
}

// fixture holds a registry with n funded reporters and their signing keys.
type fixture struct {
	repo  *data.MockRepository
	reg   *registry.Registry
	store *feedstore.Store
	keys  []*security.ReporterKey
}

func newFixture(t *testing.T, n int, stake uint64) *fixture {
	t.Helper()

	repo := data.NewMockRepository()
	reg := registry.NewRegistry(testRegistryConfig(stake), repo, zap.NewNop())

	keys := make([]*security.ReporterKey, n)
	for i := range keys {
		key, err := security.GenerateReporterKey()
		require.NoError(t, err)
		keys[i] = key

		_, err = reg.Register(context.Background(), key.PublicKey(), stake)
		require.NoError(t, err)
	}

	return &fixture{
		repo:  repo,
		reg:   reg,
		store: feedstore.NewStore(repo, zap.NewNop()),
		keys:  keys,
	}
}

func (f *fixture) signed(t *testing.T, key *security.ReporterKey, feedID string, seq uint64, value float64) *data.Submission {
	t.Helper()
	sub, err := reporter.Sign(key, feedID, seq, value, time.Now().UTC())
	require.NoError(t, err)
	return sub
}

func (f *fixture) signedAt(key *security.ReporterKey, feedID string, seq uint64, value float64, at time.Time) (*data.Submission, error) {
	return reporter.Sign(key, feedID, seq, value, at)
}

// captureSink records the archives handed to it.
type captureSink struct {
	archives []*data.RoundArchive
}

func (s *captureSink) ProcessRound(ctx context.Context, archive *data.RoundArchive) error {
	s.archives = append(s.archives, archive)
	return nil
}
