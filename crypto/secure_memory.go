package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// SecureWipe overwrites a byte slice holding sensitive data with zeros.
// It returns an error if the byte slice is nil.
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("cannot wipe nil data")
	}

	zeros := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)

	// Keep the compiler from eliding the overwrite
	runtime.KeepAlive(data)
	runtime.KeepAlive(zeros)

	return nil
}

// ZeroBytes is SecureWipe without the error.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// WipeKeyPair erases the private half of a box key pair.
func WipeKeyPair(kp *KeyPair) error {
	if kp == nil {
		return errors.New("cannot wipe nil KeyPair")
	}
	return SecureWipe(kp.Private[:])
}

// WipeKeyBundle erases every secret in the bundle.
func WipeKeyBundle(b *KeyBundle) error {
	if b == nil {
		return errors.New("cannot wipe nil KeyBundle")
	}
	if err := WipeKeyPair(&b.Box); err != nil {
		return err
	}
	return SecureWipe(b.Signing.Seed[:])
}
