package crypto

import (
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// DeriveSharedSecret computes a shared secret between two parties
// using Elliptic Curve Diffie-Hellman (ECDH) on Curve25519.
func DeriveSharedSecret(peerPublicKey, privateKey [32]byte) ([32]byte, error) {
	logger := NewLogger("DeriveSharedSecret").WithFields(SecureFieldHash(peerPublicKey[:], "peer_key"))
	logger.Debug("Computing shared secret using ECDH")

	// Work on a copy so the caller's key is never aliased by the wipe below
	var privateKeyCopy [32]byte
	copy(privateKeyCopy[:], privateKey[:])
	defer ZeroBytes(privateKeyCopy[:])

	sharedSecret, err := curve25519.X25519(privateKeyCopy[:], peerPublicKey[:])
	if err != nil {
		logger.WithError(err, "ecdh", "X25519").Error("X25519 computation failed")
		return [32]byte{}, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	var result [32]byte
	copy(result[:], sharedSecret)
	ZeroBytes(sharedSecret)

	logger.Debug("Shared secret computed, intermediate data wiped")
	return result, nil
}
