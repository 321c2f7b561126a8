// Package keymanager provides an in-process crypto.KeyCapability backed by
// a KeyBundle held in memory.
//
// Local implements every optional capability: token signing, ECDH and
// envelope decryption. Remote signers (HSMs, agents) can implement
// crypto.KeyCapability directly and opt in to the extras they support.
package keymanager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/envelope"
	"github.com/sirupsen/logrus"
)

// ErrWiped is returned by every operation after Wipe.
var ErrWiped = errors.New("key material has been wiped")

// Local holds a key bundle and performs all private-key operations.
type Local struct {
	mu     sync.RWMutex
	bundle *crypto.KeyBundle
	public crypto.PublicKey
	wiped  bool
}

// New wraps an existing bundle. The Local takes ownership of it.
func New(bundle *crypto.KeyBundle) *Local {
	return &Local{bundle: bundle, public: bundle.PublicKey()}
}

// Generate creates a Local with a fresh key bundle.
func Generate() (*Local, error) {
	bundle, err := crypto.GenerateKeyBundle()
	if err != nil {
		return nil, err
	}
	return New(bundle), nil
}

// LoadOrGenerate reads the bundle called name from ks, creating and saving
// a new one when none exists.
func LoadOrGenerate(ks *crypto.EncryptedKeyStore, name string) (*Local, bool, error) {
	bundle, err := ks.LoadKeyBundle(name)
	if err == nil {
		return New(bundle), false, nil
	}
	if !errors.Is(err, crypto.ErrKeyFileNotFound) {
		return nil, false, err
	}

	l, err := Generate()
	if err != nil {
		return nil, false, err
	}
	if err := ks.SaveKeyBundle(name, l.bundle); err != nil {
		return nil, false, fmt.Errorf("failed to save new key bundle: %w", err)
	}

	logrus.WithFields(crypto.SecureFieldHash(l.public.Box[:], "public_key")).
		WithFields(logrus.Fields{
			"function": "LoadOrGenerate",
			"name":     name,
		}).Info("Generated new key bundle")
	return l, true, nil
}

// Save writes the bundle to ks under name.
func (l *Local) Save(ks *crypto.EncryptedKeyStore, name string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.wiped {
		return ErrWiped
	}
	return ks.SaveKeyBundle(name, l.bundle)
}

// PublicKey returns the bundle's public half. It stays valid after Wipe.
func (l *Local) PublicKey() crypto.PublicKey {
	return l.public
}

// SignToken signs payload with the Ed25519 key.
func (l *Local) SignToken(ctx context.Context, payload string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.wiped {
		return "", ErrWiped
	}
	return crypto.SignToken(payload, l.bundle.Signing.Seed)
}

// DeriveSharedSecret runs X25519 between our box key and peer's.
func (l *Local) DeriveSharedSecret(ctx context.Context, peer crypto.PublicKey) ([32]byte, error) {
	if err := ctx.Err(); err != nil {
		return [32]byte{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.wiped {
		return [32]byte{}, ErrWiped
	}
	return crypto.DeriveSharedSecret(peer.Box, l.bundle.Box.Private)
}

// DecryptMessage opens an envelope addressed to our box key.
func (l *Local) DecryptMessage(ctx context.Context, env []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.wiped {
		return nil, ErrWiped
	}
	return envelope.Open(env, &l.bundle.Box)
}

// Wipe zeroes the private key material. Later private-key operations fail
// with ErrWiped.
func (l *Local) Wipe() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.wiped {
		return nil
	}
	l.wiped = true
	return crypto.WipeKeyBundle(l.bundle)
}

// signingOnly hides every optional capability of the wrapped key.
type signingOnly struct {
	inner crypto.KeyCapability
}

// SigningOnly returns a view of k that can sign but not decrypt or derive
// shared secrets. Send-only parties can hand this to a context.
func SigningOnly(k crypto.KeyCapability) crypto.KeyCapability {
	return signingOnly{inner: k}
}

func (s signingOnly) SignToken(ctx context.Context, payload string) (string, error) {
	return s.inner.SignToken(ctx, payload)
}

func (s signingOnly) PublicKey() crypto.PublicKey {
	return s.inner.PublicKey()
}
