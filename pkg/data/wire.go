package data

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Submission wire format. All fields are fixed width and big endian so the
// encoding is bit-exact across implementations:
//
//	[38] reporter ID (ed25519 identity multihash)
//	[32] feed ID, zero padded
//	[ 8] round sequence
//	[ 8] value, IEEE-754 double bits
//	[ 8] timestamp, unix seconds
//	[64] ed25519 signature over the preceding four fields
const (
	ReporterIDSize = 38
	FeedIDSize     = 32
	SignatureSize  = 64

	payloadSize    = FeedIDSize + 8 + 8 + 8
	submissionSize = ReporterIDSize + payloadSize + SignatureSize
)

var ErrWireFormat = fmt.Errorf("malformed submission encoding")

// SubmissionPayload is the canonical byte string a reporter signs: feed ID,
// round sequence, value and timestamp in that exact order. Any change to any
// field yields a different payload, so a reused signature cannot cover a
// modified value.
func SubmissionPayload(feedID string, roundSeq uint64, value float64, timestamp time.Time) ([]byte, error) {
	if len(feedID) == 0 || len(feedID) > FeedIDSize {
		return nil, fmt.Errorf("%w: feed ID must be 1..%d bytes", ErrWireFormat, FeedIDSize)
	}

	buf := make([]byte, payloadSize)
	copy(buf[:FeedIDSize], feedID)
	binary.BigEndian.PutUint64(buf[FeedIDSize:], roundSeq)
	binary.BigEndian.PutUint64(buf[FeedIDSize+8:], math.Float64bits(value))
	binary.BigEndian.PutUint64(buf[FeedIDSize+16:], uint64(timestamp.Unix()))
	return buf, nil
}

// Payload returns the signing payload for this submission.
func (s *Submission) Payload() ([]byte, error) {
	return SubmissionPayload(s.FeedID, s.RoundSeq, s.Value, s.Timestamp)
}

// MarshalBinary encodes the submission into the fixed wire layout.
func (s *Submission) MarshalBinary() ([]byte, error) {
	id := []byte(s.ReporterID)
	if len(id) != ReporterIDSize {
		return nil, fmt.Errorf("%w: reporter ID must be %d bytes, got %d", ErrWireFormat, ReporterIDSize, len(id))
	}
	if len(s.Signature) != SignatureSize {
		return nil, fmt.Errorf("%w: signature must be %d bytes, got %d", ErrWireFormat, SignatureSize, len(s.Signature))
	}
	payload, err := s.Payload()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, submissionSize)
	buf = append(buf, id...)
	buf = append(buf, payload...)
	buf = append(buf, s.Signature...)
	return buf, nil
}

// UnmarshalBinary decodes a submission from the fixed wire layout.
func (s *Submission) UnmarshalBinary(raw []byte) error {
	if len(raw) != submissionSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrWireFormat, submissionSize, len(raw))
	}

	s.ReporterID = peer.ID(raw[:ReporterIDSize])
	rest := raw[ReporterIDSize:]
	s.FeedID = string(bytes.TrimRight(rest[:FeedIDSize], "\x00"))
	s.RoundSeq = binary.BigEndian.Uint64(rest[FeedIDSize:])
	s.Value = math.Float64frombits(binary.BigEndian.Uint64(rest[FeedIDSize+8:]))
	s.Timestamp = time.Unix(int64(binary.BigEndian.Uint64(rest[FeedIDSize+16:])), 0).UTC()
	s.Signature = append([]byte(nil), rest[payloadSize:]...)
	return s.Validate()
}
