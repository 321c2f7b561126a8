// Package crypto implements the key material and signing primitives used by
// securenet parties.
//
// Every party owns a KeyBundle: an X25519 box key pair used to open
// encrypted envelopes and an Ed25519 signing key pair used to prove control
// of an identifier. The corresponding PublicKey is what a directory
// publishes.
//
// Example:
//
//	bundle, err := crypto.GenerateKeyBundle()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer crypto.WipeKeyBundle(bundle)
//	fmt.Println("Public key:", bundle.PublicKey())
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeyPair represents an X25519 (NaCl crypto_box) key pair.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// SigningKeyPair represents an Ed25519 key pair stored as its 32-byte seed.
type SigningKeyPair struct {
	Public [32]byte
	Seed   [32]byte
}

// KeyBundle is the full set of secrets owned by one party.
type KeyBundle struct {
	Box     KeyPair
	Signing SigningKeyPair
}

// GenerateKeyPair creates a new random X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	keyPair := &KeyPair{
		Public:  *publicKey,
		Private: *privateKey,
	}
	ZeroBytes(privateKey[:])

	return keyPair, nil
}

// FromSecretKey rebuilds an X25519 key pair from its private half.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		NewLogger("FromSecretKey").Warn("Rejected all-zero secret key")
		return nil, errors.New("invalid secret key: all zeros")
	}

	publicKey, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], publicKey)
	return kp, nil
}

// GenerateSigningKeyPair creates a new random Ed25519 key pair.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	defer ZeroBytes(seed[:])
	return SigningKeyFromSeed(seed)
}

// SigningKeyFromSeed rebuilds an Ed25519 key pair from its seed.
func SigningKeyFromSeed(seed [32]byte) (*SigningKeyPair, error) {
	if isZeroKey(seed) {
		NewLogger("SigningKeyFromSeed").Warn("Rejected all-zero signing seed")
		return nil, errors.New("invalid signing seed: all zeros")
	}

	priv := ed25519.NewKeyFromSeed(seed[:])
	defer ZeroBytes(priv)

	kp := &SigningKeyPair{Seed: seed}
	copy(kp.Public[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

// GenerateKeyBundle creates fresh box and signing key pairs.
func GenerateKeyBundle() (*KeyBundle, error) {
	logger := NewLogger("GenerateKeyBundle")
	boxKeys, err := GenerateKeyPair()
	if err != nil {
		logger.WithError(err, "rng", "box.GenerateKey").Error("Box key generation failed")
		return nil, fmt.Errorf("failed to generate box key pair: %w", err)
	}
	signKeys, err := GenerateSigningKeyPair()
	if err != nil {
		logger.WithError(err, "rng", "ed25519.NewKeyFromSeed").Error("Signing key generation failed")
		return nil, fmt.Errorf("failed to generate signing key pair: %w", err)
	}
	logger.WithFields(SecureFieldHash(boxKeys.Public[:], "box_key")).Info("Generated key bundle")
	return &KeyBundle{Box: *boxKeys, Signing: *signKeys}, nil
}

// PublicKey returns the publishable half of the bundle.
func (b *KeyBundle) PublicKey() PublicKey {
	return PublicKey{Sign: b.Signing.Public, Box: b.Box.Public}
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
