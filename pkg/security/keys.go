package security

import (
	"crypto/rand"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// ReporterKey is an ed25519 reporter identity. The reporter ID is the
// identity multihash of the public key, so any holder of a submission can
// resolve the key that must have signed it.
type ReporterKey struct {
	priv crypto.PrivKey
	pub  crypto.PubKey
	id   peer.ID
}

// GenerateReporterKey creates a fresh ed25519 reporter identity.
func GenerateReporterKey() (*ReporterKey, error) {
	priv, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return newReporterKey(priv, pub)
}

func newReporterKey(priv crypto.PrivKey, pub crypto.PubKey) (*ReporterKey, error) {
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("deriving reporter ID: %w", err)
	}
	return &ReporterKey{priv: priv, pub: pub, id: id}, nil
}

// ID returns the reporter identity derived from the public key.
func (k *ReporterKey) ID() peer.ID {
	return k.id
}

// PublicKey returns the public half of the identity.
func (k *ReporterKey) PublicKey() crypto.PubKey {
	return k.pub
}

// PublicKeyBytes returns the marshaled public key for registry storage.
func (k *ReporterKey) PublicKeyBytes() ([]byte, error) {
	raw, err := crypto.MarshalPublicKey(k.pub)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return raw, nil
}

// Sign produces an ed25519 signature over the payload.
func (k *ReporterKey) Sign(payload []byte) ([]byte, error) {
	sig, err := k.priv.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}
	return sig, nil
}

// VerifySignature checks a signature against a marshaled public key.
func VerifySignature(publicKey, payload, signature []byte) (bool, error) {
	pub, err := crypto.UnmarshalPublicKey(publicKey)
	if err != nil {
		return false, fmt.Errorf("unmarshaling public key: %w", err)
	}
	ok, err := pub.Verify(payload, signature)
	if err != nil {
		return false, fmt.Errorf("verifying signature: %w", err)
	}
	return ok, nil
}
