package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporterKey(t *testing.T) {
	key, err := GenerateReporterKey()
	require.NoError(t, err)

	t.Run("IDMatchesPublicKey", func(t *testing.T) {
		raw, err := key.PublicKeyBytes()
		require.NoError(t, err)
		require.NotEmpty(t, raw)
		assert.NotEmpty(t, key.ID())
	})

	t.Run("SignAndVerify", func(t *testing.T) {
		payload := []byte("ETH/USD round 42")
		sig, err := key.Sign(payload)
		require.NoError(t, err)
		assert.Len(t, sig, 64)

		raw, err := key.PublicKeyBytes()
		require.NoError(t, err)

		ok, err := VerifySignature(raw, payload, sig)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("TamperedPayloadFails", func(t *testing.T) {
		payload := []byte("ETH/USD round 42")
		sig, err := key.Sign(payload)
		require.NoError(t, err)

		raw, err := key.PublicKeyBytes()
		require.NoError(t, err)

		ok, err := VerifySignature(raw, []byte("ETH/USD round 43"), sig)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("WrongKeyFails", func(t *testing.T) {
		other, err := GenerateReporterKey()
		require.NoError(t, err)

		payload := []byte("ETH/USD round 42")
		sig, err := key.Sign(payload)
		require.NoError(t, err)

		raw, err := other.PublicKeyBytes()
		require.NoError(t, err)

		ok, err := VerifySignature(raw, payload, sig)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("GarbagePublicKey", func(t *testing.T) {
		_, err := VerifySignature([]byte("not a key"), []byte("payload"), []byte("sig"))
		assert.Error(t, err)
	})
}

func TestKeystore(t *testing.T) {
	t.Run("SaveLoadRoundTrip", func(t *testing.T) {
		key, err := GenerateReporterKey()
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "reporter.key")
		require.NoError(t, SaveKey(path, key, []byte("correct horse")))

		loaded, err := LoadKey(path, []byte("correct horse"))
		require.NoError(t, err)
		assert.Equal(t, key.ID(), loaded.ID())

		// The restored key signs identically.
		payload := []byte("payload")
		sig, err := loaded.Sign(payload)
		require.NoError(t, err)

		raw, err := key.PublicKeyBytes()
		require.NoError(t, err)
		ok, err := VerifySignature(raw, payload, sig)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("WrongPassphraseFails", func(t *testing.T) {
		key, err := GenerateReporterKey()
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "reporter.key")
		require.NoError(t, SaveKey(path, key, []byte("correct horse")))

		_, err = LoadKey(path, []byte("battery staple"))
		assert.Error(t, err)
	})

	t.Run("MissingFileFails", func(t *testing.T) {
		_, err := LoadKey(filepath.Join(t.TempDir(), "absent.key"), []byte("x"))
		assert.Error(t, err)
	})
}
