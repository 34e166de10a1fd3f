package registry

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"feed_oracle/pkg/data"
)

// Snapshot is an immutable point-in-time view of the registry. Reads
// against it never race with registry mutation.
type Snapshot struct {
	TakenAt   time.Time
	reporters map[peer.ID]data.Reporter
}

// Reporter returns the reporter record as of snapshot time.
func (s *Snapshot) Reporter(id peer.ID) (data.Reporter, bool) {
	reporter, ok := s.reporters[id]
	return reporter, ok
}

// Stake returns the stake held by a reporter at snapshot time, or 0 for
// unknown reporters.
func (s *Snapshot) Stake(id peer.ID) uint64 {
	return s.reporters[id].Stake
}

// Len returns the number of reporters in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.reporters)
}
