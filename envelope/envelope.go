// Package envelope implements public-key encryption of arbitrary payloads to
// a recipient's X25519 key.
//
// The result is a JSON document, never raw binary, so it can travel inside
// textual transports:
//
//	{"scheme":"sealedbox","ephemeral":"<b64>","ciphertext":"<b64>","mac":"<b64>"}
//
// Three schemes are available. All of them use a fresh ephemeral key per
// envelope and an AEAD tag, and all of them open with the same X25519 key:
//
//   - sealedbox: NaCl anonymous box (X25519, XSalsa20-Poly1305)
//   - noise: one-way Noise_N_25519_ChaChaPoly_BLAKE2b handshake message
//   - hpke: RFC 9180 HPKE (DHKEM X25519, HKDF-SHA256, ChaCha20-Poly1305)
//
// Receivers read the scheme from the envelope, so senders may pick any of
// them independently.
package envelope

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/securenet/crypto"
	"github.com/sirupsen/logrus"
)

// MaxPlaintextSize bounds the payload accepted by Encrypt.
const MaxPlaintextSize = 1024 * 1024

// Scheme names an envelope construction.
type Scheme string

const (
	SchemeSealedBox Scheme = "sealedbox"
	SchemeNoise     Scheme = "noise"
	SchemeHPKE      Scheme = "hpke"
)

// DefaultScheme is used by the package-level Encrypt.
const DefaultScheme = SchemeSealedBox

var (
	// ErrDecryptionFailed is the single error kind for authentication
	// failures, whatever the underlying library reported.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrMACMismatch is returned by Open when the AEAD tag does not verify.
	// Decrypt normalises it to ErrDecryptionFailed.
	ErrMACMismatch = errors.New("envelope: bad MAC")

	// ErrMalformedEnvelope is returned when an envelope cannot be parsed.
	ErrMalformedEnvelope = errors.New("envelope: malformed")

	// ErrUnknownScheme is returned for schemes this build does not know.
	ErrUnknownScheme = errors.New("envelope: unknown scheme")

	// ErrEmptyPlaintext is returned when encrypting nothing.
	ErrEmptyPlaintext = errors.New("envelope: empty plaintext")

	// ErrPlaintextTooLarge is returned when a payload exceeds a size limit.
	ErrPlaintextTooLarge = errors.New("envelope: plaintext too large")
)

var b64 = base64.StdEncoding

// Envelope is the wire form of an encrypted payload.
type Envelope struct {
	Scheme     Scheme `json:"scheme"`
	Ephemeral  string `json:"ephemeral"`
	Ciphertext string `json:"ciphertext"`
	MAC        string `json:"mac"`
}

// sealed is the binary view of an Envelope.
type sealed struct {
	ephemeral  []byte
	ciphertext []byte
	mac        []byte
}

type scheme interface {
	seal(plaintext []byte, recipient [32]byte) (*sealed, error)
	open(s *sealed, kp *crypto.KeyPair) ([]byte, error)
}

var schemes = map[Scheme]scheme{
	SchemeSealedBox: sealedBoxScheme{},
	SchemeNoise:     noiseScheme{},
	SchemeHPKE:      hpkeScheme{},
}

// Supported reports whether s is a known scheme.
func Supported(s Scheme) bool {
	_, ok := schemes[s]
	return ok
}

// Manager encrypts with a chosen scheme. The zero value uses DefaultScheme.
type Manager struct {
	Scheme Scheme
}

// Encrypt seals plaintext to recipient and returns the JSON envelope.
func (m Manager) Encrypt(plaintext []byte, recipient crypto.PublicKey) ([]byte, error) {
	name := m.Scheme
	if name == "" {
		name = DefaultScheme
	}
	impl, ok := schemes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}

	if len(plaintext) == 0 {
		return nil, ErrEmptyPlaintext
	}
	if len(plaintext) > MaxPlaintextSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPlaintextTooLarge, len(plaintext))
	}

	s, err := impl.seal(plaintext, recipient.Box)
	if err != nil {
		return nil, fmt.Errorf("%s seal: %w", name, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Manager.Encrypt",
		"scheme":          name,
		"plaintext_size":  len(plaintext),
		"ciphertext_size": len(s.ciphertext),
	}).Debug("Sealed envelope")

	return json.Marshal(Envelope{
		Scheme:     name,
		Ephemeral:  b64.EncodeToString(s.ephemeral),
		Ciphertext: b64.EncodeToString(s.ciphertext),
		MAC:        b64.EncodeToString(s.mac),
	})
}

// Decrypt opens env with the local capability. keys must implement
// crypto.Decrypter. Authentication failures are reported as
// ErrDecryptionFailed; any other error is returned as is.
func (m Manager) Decrypt(ctx context.Context, env []byte, keys crypto.KeyCapability) ([]byte, error) {
	return Decrypt(ctx, env, keys)
}

// Encrypt seals plaintext with DefaultScheme.
func Encrypt(plaintext []byte, recipient crypto.PublicKey) ([]byte, error) {
	return Manager{}.Encrypt(plaintext, recipient)
}

// Decrypt opens env using keys' Decrypter capability.
func Decrypt(ctx context.Context, env []byte, keys crypto.KeyCapability) ([]byte, error) {
	dec, err := crypto.AsDecrypter(keys)
	if err != nil {
		return nil, err
	}

	plaintext, err := dec.DecryptMessage(ctx, env)
	if err != nil {
		if errors.Is(err, ErrMACMismatch) || errors.Is(err, ErrDecryptionFailed) {
			logrus.WithFields(logrus.Fields{
				"function": "envelope.Decrypt",
				"error":    err.Error(),
			}).Warn("Envelope failed authentication")
			return nil, ErrDecryptionFailed
		}
		return nil, err
	}
	return plaintext, nil
}

// Open parses env and opens it with a box key pair. It is the primitive
// behind local Decrypter implementations.
func Open(env []byte, kp *crypto.KeyPair) ([]byte, error) {
	var e Envelope
	if err := json.Unmarshal(env, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	impl, ok := schemes[e.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, e.Scheme)
	}

	s, err := e.decode()
	if err != nil {
		return nil, err
	}
	return impl.open(s, kp)
}

func (e Envelope) decode() (*sealed, error) {
	var s sealed
	var err error

	if s.ephemeral, err = b64.DecodeString(e.Ephemeral); err != nil {
		return nil, fmt.Errorf("%w: ephemeral: %v", ErrMalformedEnvelope, err)
	}
	if s.ciphertext, err = b64.DecodeString(e.Ciphertext); err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedEnvelope, err)
	}
	if s.mac, err = b64.DecodeString(e.MAC); err != nil {
		return nil, fmt.Errorf("%w: mac: %v", ErrMalformedEnvelope, err)
	}
	if len(s.ephemeral) != 32 || len(s.mac) != 16 {
		return nil, fmt.Errorf("%w: bad field lengths", ErrMalformedEnvelope)
	}
	return &s, nil
}
