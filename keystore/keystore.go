// Package keystore persists a host's long-lived Ed25519 identity key pair
// to disk as two files, private.key and public.key, under a directory
// locked down to the owning user.
package keystore

import (
	"crypto/ed25519"
	"os"
	"path/filepath"

	"github.com/rshare/rshare/identity"
	"github.com/rshare/rshare/rerr"
)

const (
	privateKeyFile = "private.key"
	publicKeyFile  = "public.key"

	dirMode     = 0o700
	privateMode = 0o600
	publicMode  = 0o644
)

// Exists reports whether both key files are present under dir.
func Exists(dir string) bool {
	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)
	if _, err := os.Stat(privPath); err != nil {
		return false
	}
	if _, err := os.Stat(pubPath); err != nil {
		return false
	}
	return true
}

// Generate creates a fresh identity key pair, verifies it round-trips a
// self-test signature, and returns it without touching disk.
func Generate() (*identity.KeyPair, error) {
	kp, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	if err := selfTest(kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// Save writes kp's seed and public key to dir, creating the directory if
// necessary and locking down permissions: 0700 on the directory, 0600 on
// the private key, 0644 on the public key.
func Save(dir string, kp *identity.KeyPair) error {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return rerr.WrapFileError(err, "create keystore directory %s", dir)
	}

	seed := kp.Private.Seed()
	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)

	if err := os.WriteFile(privPath, seed, privateMode); err != nil {
		return rerr.WrapFileError(err, "write private key")
	}
	if err := os.WriteFile(pubPath, kp.Public, publicMode); err != nil {
		return rerr.WrapFileError(err, "write public key")
	}

	if err := os.Chmod(privPath, privateMode); err != nil {
		return rerr.WrapFileError(err, "set private key permissions")
	}
	if err := os.Chmod(pubPath, publicMode); err != nil {
		return rerr.WrapFileError(err, "set public key permissions")
	}
	if err := os.Chmod(dir, dirMode); err != nil {
		return rerr.WrapFileError(err, "set keystore directory permissions")
	}
	return nil
}

// Load reads a key pair back from dir.
func Load(dir string) (*identity.KeyPair, error) {
	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)

	seed, err := os.ReadFile(privPath)
	if err != nil {
		return nil, rerr.WrapFileError(err, "read private key")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, rerr.InvalidInput("private key file has invalid size: %d", len(seed))
	}

	pub, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, rerr.WrapFileError(err, "read public key")
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, rerr.InvalidInput("public key file has invalid size: %d", len(pub))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	kp := &identity.KeyPair{Public: ed25519.PublicKey(pub), Private: priv}

	if !kp.Public.Equal(priv.Public().(ed25519.PublicKey)) {
		return nil, rerr.InvalidInput("private and public key files do not match")
	}
	if err := selfTest(kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// LoadOrGenerate loads an existing identity from dir, or generates and
// persists a new one if none exists yet.
func LoadOrGenerate(dir string) (*identity.KeyPair, error) {
	if Exists(dir) {
		return Load(dir)
	}
	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := Save(dir, kp); err != nil {
		return nil, err
	}
	return kp, nil
}

func selfTest(kp *identity.KeyPair) error {
	const probe = "rshare-keystore-self-test"
	sig := kp.Sign([]byte(probe))
	if err := identity.Verify(kp.Fingerprint(), []byte(probe), sig); err != nil {
		return rerr.WrapCryptoError(err, "generated keypair failed self-test")
	}
	return nil
}
