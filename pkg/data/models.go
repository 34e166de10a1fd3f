package data

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Error variables for consistent error handling
var (
	ErrInvalidFeed      = errors.New("invalid feed definition")
	ErrInvalidValue     = errors.New("invalid value")
	ErrInvalidTime      = errors.New("invalid timestamp")
	ErrMissingSignature = errors.New("missing required signature")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrFeedCorrupted    = errors.New("feed state corrupted")
)

// ReporterStatus describes the lifecycle state of a reporter.
type ReporterStatus string

const (
	ReporterActive    ReporterStatus = "active"
	ReporterSuspended ReporterStatus = "suspended"
	ReporterSlashed   ReporterStatus = "slashed"
)

// RejectReason identifies why a submission was refused. Every rejection is
// recoverable by resubmitting in a later round.
type RejectReason string

const (
	RejectUnknownReporter   RejectReason = "unknown_reporter"
	RejectReporterNotActive RejectReason = "reporter_not_active"
	RejectInsufficientStake RejectReason = "insufficient_stake"
	RejectBadSignature      RejectReason = "bad_signature"
	RejectWrongRound        RejectReason = "wrong_round"
	RejectDuplicate         RejectReason = "duplicate"
	RejectStale             RejectReason = "stale_timestamp"
)

// RejectedError carries the reason code for a refused submission.
type RejectedError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("submission rejected: %s", e.Reason)
	}
	return fmt.Sprintf("submission rejected: %s: %s", e.Reason, e.Detail)
}

// Rejected builds a RejectedError with a formatted detail message.
func Rejected(reason RejectReason, format string, args ...interface{}) error {
	return &RejectedError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// RejectReasonOf extracts the reason code from an error, or "" if the error
// is not a submission rejection.
func RejectReasonOf(err error) RejectReason {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// Reporter is a registered reporting node. Records are never deleted, only
// deactivated, so audit history stays resolvable.
type Reporter struct {
	ID           peer.ID        `json:"id"`
	PublicKey    []byte         `json:"public_key"`
	Stake        uint64         `json:"stake"`
	Reputation   float64        `json:"reputation"`
	Status       ReporterStatus `json:"status"`
	RegisteredAt time.Time      `json:"registered_at"`
	LastActive   time.Time      `json:"last_active"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewReporter creates an active reporter with the given identity and stake.
func NewReporter(id peer.ID, publicKey []byte, stake uint64, reputation float64) (*Reporter, error) {
	if id == "" {
		return nil, errors.New("reporter ID cannot be empty")
	}
	if len(publicKey) == 0 {
		return nil, errors.New("public key cannot be empty")
	}
	if reputation < 0 || reputation > 1 {
		return nil, errors.New("reputation must be between 0 and 1")
	}

	now := time.Now().UTC()
	return &Reporter{
		ID:           id,
		PublicKey:    publicKey,
		Stake:        stake,
		Reputation:   reputation,
		Status:       ReporterActive,
		RegisteredAt: now,
		LastActive:   now,
		UpdatedAt:    now,
	}, nil
}

// AdjustReputation moves the reputation score by delta, clamped to [0, 1].
func (r *Reporter) AdjustReputation(delta float64) {
	r.Reputation = math.Max(0, math.Min(1, r.Reputation+delta))
	r.UpdatedAt = time.Now().UTC()
}

// Feed defines a tracked external value and its consensus parameters.
// Parameters are set at feed registration; only the round engine mutates
// the published state afterwards.
type Feed struct {
	ID            string        `json:"id"`
	MinQuorum     int           `json:"min_quorum"`
	MinAgreement  int           `json:"min_agreement"`
	RoundDuration time.Duration `json:"round_duration"`
	Tolerance     float64       `json:"tolerance"` // multiple of the MAD
}

// NewFeed creates a feed definition with validation.
func NewFeed(id string, minQuorum, minAgreement int, roundDuration time.Duration, tolerance float64) (*Feed, error) {
	f := &Feed{
		ID:            id,
		MinQuorum:     minQuorum,
		MinAgreement:  minAgreement,
		RoundDuration: roundDuration,
		Tolerance:     tolerance,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the feed definition.
func (f *Feed) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("%w: feed ID cannot be empty", ErrInvalidFeed)
	}
	if len(f.ID) > FeedIDSize {
		return fmt.Errorf("%w: feed ID longer than %d bytes", ErrInvalidFeed, FeedIDSize)
	}
	if f.MinQuorum <= 0 {
		return fmt.Errorf("%w: min_quorum must be positive", ErrInvalidFeed)
	}
	if f.MinAgreement <= 0 || f.MinAgreement > f.MinQuorum {
		return fmt.Errorf("%w: min_agreement must be in [1, min_quorum]", ErrInvalidFeed)
	}
	if f.RoundDuration <= 0 {
		return fmt.Errorf("%w: round_duration must be positive", ErrInvalidFeed)
	}
	if f.Tolerance <= 0 {
		return fmt.Errorf("%w: tolerance must be positive", ErrInvalidFeed)
	}
	return nil
}

// FeedState is the published record for a feed: the latest finalized value,
// its confidence interval and the round that produced it. Readable by any
// consumer without authentication.
type FeedState struct {
	FeedID     string    `json:"feed_id"`
	Value      float64   `json:"value"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
	RoundSeq   uint64    `json:"round_seq"`
}

// Validate checks the published state for structural corruption. A failure
// here is fatal for the feed, never papered over with a default value.
func (s *FeedState) Validate() error {
	if s.FeedID == "" {
		return fmt.Errorf("%w: empty feed ID", ErrFeedCorrupted)
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return fmt.Errorf("%w: non-finite value", ErrFeedCorrupted)
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 {
		return fmt.Errorf("%w: invalid confidence interval", ErrFeedCorrupted)
	}
	return nil
}

// Submission is one reporter's signed value for a feed round. Ephemeral:
// consumed at finalization and retained only in the round archive.
type Submission struct {
	ReporterID peer.ID   `json:"reporter_id"`
	FeedID     string    `json:"feed_id"`
	RoundSeq   uint64    `json:"round_seq"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
	Signature  []byte    `json:"signature"`
}

// Validate checks structural completeness of a submission.
func (s *Submission) Validate() error {
	if s.ReporterID == "" {
		return errors.New("reporter ID cannot be empty")
	}
	if s.FeedID == "" {
		return fmt.Errorf("%w: feed ID cannot be empty", ErrInvalidFeed)
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return ErrInvalidValue
	}
	if s.Timestamp.IsZero() {
		return ErrInvalidTime
	}
	if len(s.Signature) == 0 {
		return ErrMissingSignature
	}
	return nil
}

// RoundStatus is the lifecycle state of a consensus round.
type RoundStatus string

const (
	RoundCollecting RoundStatus = "collecting"
	RoundFinalizing RoundStatus = "finalizing"
	RoundFinalized  RoundStatus = "finalized"
)

// RoundOutcome classifies how a round finalized. Degraded outcomes retain
// the prior published value; they are normal results, not faults.
type RoundOutcome string

const (
	OutcomePublished             RoundOutcome = "published"
	OutcomeInsufficientQuorum    RoundOutcome = "insufficient-quorum"
	OutcomeInsufficientAgreement RoundOutcome = "insufficient-agreement"
)

// RoundArchive is the durable audit record of a finalized round: the full
// submission set, which of them were excluded as outliers, and the outcome.
type RoundArchive struct {
	ID          string        `json:"id"`
	FeedID      string        `json:"feed_id"`
	RoundSeq    uint64        `json:"round_seq"`
	Outcome     RoundOutcome  `json:"outcome"`
	Value       float64       `json:"value"`
	Confidence  float64       `json:"confidence"`
	ClosedAt    time.Time     `json:"closed_at"`
	Submissions []*Submission `json:"submissions"`
	Outliers    []peer.ID     `json:"outliers"`
}

// NewRoundArchive builds an archive record for a finalized round.
func NewRoundArchive(feedID string, seq uint64, outcome RoundOutcome, value, confidence float64, closedAt time.Time, subs []*Submission, outliers []peer.ID) *RoundArchive {
	return &RoundArchive{
		ID:          uuid.New().String(),
		FeedID:      feedID,
		RoundSeq:    seq,
		Outcome:     outcome,
		Value:       value,
		Confidence:  confidence,
		ClosedAt:    closedAt,
		Submissions: subs,
		Outliers:    outliers,
	}
}

// IsOutlier reports whether the given reporter was flagged in this round.
func (a *RoundArchive) IsOutlier(id peer.ID) bool {
	for _, o := range a.Outliers {
		if o == id {
			return true
		}
	}
	return false
}

// AuditEventType classifies registry audit events.
type AuditEventType string

const (
	AuditReporterSlashed    AuditEventType = "reporter_slashed"
	AuditReporterSuspended  AuditEventType = "reporter_suspended"
	AuditReporterRegistered AuditEventType = "reporter_registered"
)

// AuditEvent records a registry side effect for later inspection.
type AuditEvent struct {
	ID         string         `json:"id"`
	Type       AuditEventType `json:"type"`
	ReporterID peer.ID        `json:"reporter_id"`
	FeedID     string         `json:"feed_id,omitempty"`
	RoundSeq   uint64         `json:"round_seq,omitempty"`
	Amount     uint64         `json:"amount,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewAuditEvent creates an audit event stamped with the current time.
func NewAuditEvent(evType AuditEventType, reporterID peer.ID, feedID string, roundSeq uint64, amount uint64, detail string) *AuditEvent {
	return &AuditEvent{
		ID:         uuid.New().String(),
		Type:       evType,
		ReporterID: reporterID,
		FeedID:     feedID,
		RoundSeq:   roundSeq,
		Amount:     amount,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
}
