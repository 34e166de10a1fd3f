package data

import (
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubmission(t *testing.T) (*Submission, crypto.PrivKey) {
	t.Helper()

	priv, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)

	sub := &Submission{
		ReporterID: id,
		FeedID:     "ETH/USD",
		RoundSeq:   42,
		Value:      1847.25,
		Timestamp:  time.Unix(1700000000, 0).UTC(),
	}
	payload, err := sub.Payload()
	require.NoError(t, err)
	sub.Signature, err = priv.Sign(payload)
	require.NoError(t, err)

	return sub, priv
}

func TestSubmissionPayload(t *testing.T) {
	t.Run("EveryFieldChangesPayload", func(t *testing.T) {
		base, err := SubmissionPayload("ETH/USD", 42, 1847.25, time.Unix(1700000000, 0))
		require.NoError(t, err)

		variants := [][]byte{}
		appendPayload := func(feedID string, seq uint64, value float64, ts time.Time) {
			p, err := SubmissionPayload(feedID, seq, value, ts)
			require.NoError(t, err)
			variants = append(variants, p)
		}
		appendPayload("BTC/USD", 42, 1847.25, time.Unix(1700000000, 0))
		appendPayload("ETH/USD", 43, 1847.25, time.Unix(1700000000, 0))
		appendPayload("ETH/USD", 42, 1847.26, time.Unix(1700000000, 0))
		appendPayload("ETH/USD", 42, 1847.25, time.Unix(1700000001, 0))

		for i, variant := range variants {
			assert.NotEqual(t, base, variant, "variant %d should differ", i)
		}
	})

	t.Run("SubSecondPrecisionDropped", func(t *testing.T) {
		a, err := SubmissionPayload("ETH/USD", 1, 100, time.Unix(1700000000, 0))
		require.NoError(t, err)
		b, err := SubmissionPayload("ETH/USD", 1, 100, time.Unix(1700000000, 999999999))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("OverlongFeedID", func(t *testing.T) {
		_, err := SubmissionPayload(strings.Repeat("x", FeedIDSize+1), 1, 100, time.Now())
		assert.ErrorIs(t, err, ErrWireFormat)
	})
}

func TestSubmissionBinaryRoundTrip(t *testing.T) {
	sub, _ := testSubmission(t)

	raw, err := sub.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, raw, submissionSize)

	var decoded Submission
	require.NoError(t, decoded.UnmarshalBinary(raw))

	assert.Equal(t, sub.ReporterID, decoded.ReporterID)
	assert.Equal(t, sub.FeedID, decoded.FeedID)
	assert.Equal(t, sub.RoundSeq, decoded.RoundSeq)
	assert.Equal(t, sub.Value, decoded.Value)
	assert.True(t, sub.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, sub.Signature, decoded.Signature)

	// The decoded payload must verify under the original key, so signing
	// and re-encoding commute.
	origPayload, err := sub.Payload()
	require.NoError(t, err)
	decodedPayload, err := decoded.Payload()
	require.NoError(t, err)
	assert.Equal(t, origPayload, decodedPayload)
}

func TestSubmissionBinaryErrors(t *testing.T) {
	t.Run("TruncatedInput", func(t *testing.T) {
		var decoded Submission
		err := decoded.UnmarshalBinary(make([]byte, submissionSize-1))
		assert.ErrorIs(t, err, ErrWireFormat)
	})

	t.Run("MissingSignature", func(t *testing.T) {
		sub, _ := testSubmission(t)
		sub.Signature = nil
		_, err := sub.MarshalBinary()
		assert.ErrorIs(t, err, ErrWireFormat)
	})
}
