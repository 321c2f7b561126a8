package crypto

import (
	"context"
	"errors"
	"fmt"
)

// ErrCapabilityUnsupported is returned when a KeyCapability lacks an
// optional operation the caller needs.
var ErrCapabilityUnsupported = errors.New("key capability does not support operation")

// KeyCapability is the signing authority of a single party. It is supplied
// by the caller and never transmitted.
type KeyCapability interface {
	// SignToken signs payload and returns a compact verifiable token.
	SignToken(ctx context.Context, payload string) (string, error)

	// PublicKey returns the key others use to verify and encrypt to us.
	PublicKey() PublicKey
}

// SharedSecretDeriver is implemented by capabilities that can run ECDH
// against a peer's box key.
type SharedSecretDeriver interface {
	DeriveSharedSecret(ctx context.Context, peer PublicKey) ([32]byte, error)
}

// Decrypter is implemented by capabilities that can open envelopes
// addressed to them.
type Decrypter interface {
	DecryptMessage(ctx context.Context, envelope []byte) ([]byte, error)
}

// AsDecrypter returns the Decrypter view of k, or ErrCapabilityUnsupported.
func AsDecrypter(k KeyCapability) (Decrypter, error) {
	if d, ok := k.(Decrypter); ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: decrypt", ErrCapabilityUnsupported)
}

// AsSharedSecretDeriver returns the SharedSecretDeriver view of k, or
// ErrCapabilityUnsupported.
func AsSharedSecretDeriver(k KeyCapability) (SharedSecretDeriver, error) {
	if d, ok := k.(SharedSecretDeriver); ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: derive shared secret", ErrCapabilityUnsupported)
}
