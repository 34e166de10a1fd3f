package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/libp2p/go-libp2p/core/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Key derivation parameters
	pbkdfIterations = 100000
	saltLength      = 32
	keyLength       = 32
)

// SaveKey writes a reporter's private key to disk, encrypted with a key
// derived from the passphrase. File layout: salt || nonce || ciphertext.
func SaveKey(path string, key *ReporterKey, passphrase []byte) error {
	raw, err := crypto.MarshalPrivateKey(key.priv)
	if err != nil {
		return fmt.Errorf("marshaling private key: %w", err)
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	blob := append(salt, gcm.Seal(nonce, nonce, raw, nil)...)
	if err := os.WriteFile(path, blob, 0600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}

	return nil
}

// LoadKey reads and decrypts a reporter's private key from disk.
func LoadKey(path string, passphrase []byte) (*ReporterKey, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if len(blob) < saltLength {
		return nil, fmt.Errorf("key file too short")
	}

	salt := blob[:saltLength]
	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	sealed := blob[saltLength:]
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("key file too short")
	}

	raw, err := gcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting key file: %w", err)
	}

	priv, err := crypto.UnmarshalPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling private key: %w", err)
	}

	return newReporterKey(priv, priv.GetPublic())
}

func deriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, pbkdfIterations, keyLength, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
