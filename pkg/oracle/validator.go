package oracle

import (
	"time"

	"feed_oracle/pkg/config"
	"feed_oracle/pkg/data"
	"feed_oracle/pkg/security"
)

// Validator performs the structural and cryptographic checks on a single
// candidate submission against the current round. It never looks at other
// reporters' values; statistical judgement stays in finalization.
type Validator struct {
	minStake  uint64
	clockSkew time.Duration
}

// NewValidator creates a submission validator.
func NewValidator(cfg *config.EngineConfig, minStake uint64) *Validator {
	return &Validator{
		minStake:  minStake,
		clockSkew: cfg.ClockSkew,
	}
}

// Validate accepts or rejects a candidate submission. Checks run in a fixed
// order; the first failure wins. A nil return means the submission may be
// appended to the round.
func (v *Validator) Validate(sub *data.Submission, round *Round) error {
	if err := sub.Validate(); err != nil {
		return data.Rejected(data.RejectBadSignature, "malformed submission: %v", err)
	}

	// (a) reporter standing
	reporter, ok := round.snapshot.Reporter(sub.ReporterID)
	if !ok {
		return data.Rejected(data.RejectUnknownReporter, "reporter %s not in registry", sub.ReporterID)
	}
	if reporter.Status != data.ReporterActive {
		return data.Rejected(data.RejectReporterNotActive, "reporter status is %s", reporter.Status)
	}
	if reporter.Stake < v.minStake {
		return data.Rejected(data.RejectInsufficientStake, "stake %d below minimum %d", reporter.Stake, v.minStake)
	}

	// (b) signature over the exact tuple (feed, round, value, timestamp)
	payload, err := sub.Payload()
	if err != nil {
		return data.Rejected(data.RejectBadSignature, "building payload: %v", err)
	}
	valid, err := security.VerifySignature(reporter.PublicKey, payload, sub.Signature)
	if err != nil {
		return data.Rejected(data.RejectBadSignature, "verifying signature: %v", err)
	}
	if !valid {
		return data.Rejected(data.RejectBadSignature, "signature does not match submission")
	}

	// (c) round sequence
	if sub.RoundSeq != round.Seq {
		return data.Rejected(data.RejectWrongRound, "submission for round %d, current round is %d", sub.RoundSeq, round.Seq)
	}

	// (d) one accepted submission per reporter per round
	if round.Has(sub.ReporterID) {
		return data.Rejected(data.RejectDuplicate, "reporter already submitted in round %d", round.Seq)
	}

	// (e) timestamp inside the round window, allowing bounded clock skew
	if sub.Timestamp.Before(round.StartTime.Add(-v.clockSkew)) {
		return data.Rejected(data.RejectStale, "timestamp precedes round start")
	}
	if sub.Timestamp.After(round.Deadline.Add(v.clockSkew)) {
		return data.Rejected(data.RejectStale, "timestamp past round deadline")
	}

	return nil
}
