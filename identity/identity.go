// Package identity manages the long-lived Ed25519 identity key pair used
// to sign and verify transfer metadata envelopes.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/rshare/rshare/internal/metrics"
	"github.com/rshare/rshare/rerr"
)

// KeyPair is one host's long-lived Ed25519 identity. The fingerprint is the
// lowercase hex encoding of the public key itself, not a hash of it.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Generate creates a fresh Ed25519 identity key pair.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, rerr.WrapCryptoError(err, "generate ed25519 identity")
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// FromPrivateKey reconstructs a KeyPair from a raw 64-byte Ed25519 private
// key (seed || public key, as produced by ed25519.GenerateKey).
func FromPrivateKey(priv ed25519.PrivateKey) (*KeyPair, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, rerr.InvalidInput("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, rerr.InvalidInput("unexpected public key type derived from private key")
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// Fingerprint returns the lowercase hex encoding of the public key.
func (k *KeyPair) Fingerprint() string {
	return hex.EncodeToString(k.Public)
}

// Sign signs message with this identity's private key.
func (k *KeyPair) Sign(message []byte) []byte {
	metrics.CryptoOperations.WithLabelValues("sign", "ed25519").Inc()
	return ed25519.Sign(k.Private, message)
}

// ParseFingerprint decodes a hex fingerprint into an Ed25519 public key,
// validating its length.
func ParseFingerprint(fingerprint string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(fingerprint)
	if err != nil {
		return nil, rerr.InvalidInput("fingerprint is not valid hex: %v", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, rerr.InvalidInput("fingerprint must decode to %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Verify checks that signature is a valid Ed25519 signature over message
// under the identity named by fingerprint. Verification is strict: it
// rejects malformed signatures rather than treating them as merely
// mismatched.
func Verify(fingerprint string, message, signature []byte) error {
	pub, err := ParseFingerprint(fingerprint)
	if err != nil {
		return err
	}
	if len(signature) != ed25519.SignatureSize {
		return rerr.CryptoError("invalid signature length: %d", len(signature))
	}
	if !ed25519.Verify(pub, message, signature) {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return rerr.CryptoError("signature verification failed")
	}
	metrics.CryptoOperations.WithLabelValues("verify", "ed25519").Inc()
	return nil
}

// Envelope builds the canonical byte string that is signed to authenticate
// a transfer's metadata: "<filename>|<filesize>|<filehash_hex>".
func Envelope(filename string, fileSize uint64, fileHashHex string) []byte {
	return []byte(fmt.Sprintf("%s|%d|%s", filename, fileSize, fileHashHex))
}
