package crypto

import (
	"crypto/ed25519"
	"errors"
)

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// Signature represents an Ed25519 signature.
type Signature [SignatureSize]byte

// Sign creates an Ed25519 signature for a message using the signing seed.
func Sign(message []byte, seed [32]byte) (Signature, error) {
	if len(message) == 0 {
		return Signature{}, errors.New("empty message")
	}

	// Ed25519 private keys are 64 bytes (32 bytes seed + 32 bytes public key)
	edPrivateKey := ed25519.NewKeyFromSeed(seed[:])
	defer ZeroBytes(edPrivateKey)

	var signature Signature
	copy(signature[:], ed25519.Sign(edPrivateKey, message))

	return signature, nil
}

// Verify checks if a signature is valid for a message and public key.
func Verify(message []byte, signature Signature, publicKey [32]byte) (bool, error) {
	if len(message) == 0 {
		return false, errors.New("empty message")
	}

	return ed25519.Verify(ed25519.PublicKey(publicKey[:]), message, signature[:]), nil
}
