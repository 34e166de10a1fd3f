package oracle

import (
	"sync"
	"time"

	"feed_oracle/pkg/data"
)

// EngineMetrics tracks round engine activity
type EngineMetrics struct {
	roundsStarted         int64
	roundsPublished       int64
	roundsDegradedQuorum  int64
	roundsDegradedAgree   int64
	submissionsAccepted   int64
	submissionsRejected   int64
	rejectionsByReason    map[data.RejectReason]int64
	lastUpdate            time.Time
	mu                    sync.RWMutex
}

// NewEngineMetrics creates a new EngineMetrics instance
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		rejectionsByReason: make(map[data.RejectReason]int64),
	}
}

// IncrementRoundsStarted counts a newly opened round
func (em *EngineMetrics) IncrementRoundsStarted() {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.roundsStarted++
	em.lastUpdate = time.Now()
}

// RecordOutcome counts a finalized round by outcome
func (em *EngineMetrics) RecordOutcome(outcome data.RoundOutcome) {
	em.mu.Lock()
	defer em.mu.Unlock()
	switch outcome {
	case data.OutcomePublished:
		em.roundsPublished++
	case data.OutcomeInsufficientQuorum:
		em.roundsDegradedQuorum++
	case data.OutcomeInsufficientAgreement:
		em.roundsDegradedAgree++
	}
	em.lastUpdate = time.Now()
}

// RecordAccepted counts an accepted submission
func (em *EngineMetrics) RecordAccepted() {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.submissionsAccepted++
	em.lastUpdate = time.Now()
}

// RecordRejected counts a rejected submission by reason
func (em *EngineMetrics) RecordRejected(reason data.RejectReason) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.submissionsRejected++
	em.rejectionsByReason[reason]++
	em.lastUpdate = time.Now()
}

// EngineStats represents a point-in-time view of engine activity
type EngineStats struct {
	ActiveFeeds           int
	RoundsStarted         int64
	RoundsPublished       int64
	RoundsDegradedQuorum  int64
	RoundsDegradedAgree   int64
	SubmissionsAccepted   int64
	SubmissionsRejected   int64
	RejectionsByReason    map[data.RejectReason]int64
	LastUpdate            time.Time
}

// GetStats returns the current engine statistics
func (em *EngineMetrics) GetStats(activeFeeds int) EngineStats {
	em.mu.RLock()
	defer em.mu.RUnlock()

	byReason := make(map[data.RejectReason]int64, len(em.rejectionsByReason))
	for reason, count := range em.rejectionsByReason {
		byReason[reason] = count
	}

	return EngineStats{
		ActiveFeeds:          activeFeeds,
		RoundsStarted:        em.roundsStarted,
		RoundsPublished:      em.roundsPublished,
		RoundsDegradedQuorum: em.roundsDegradedQuorum,
		RoundsDegradedAgree:  em.roundsDegradedAgree,
		SubmissionsAccepted:  em.submissionsAccepted,
		SubmissionsRejected:  em.submissionsRejected,
		RejectionsByReason:   byReason,
		LastUpdate:           em.lastUpdate,
	}
}
