package envelope

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"github.com/opd-ai/securenet/crypto"
)

const noisePrologue = "securenet/envelope/noise/v1"

// noiseMaxPlaintext is the largest payload fitting one Noise message after
// the ephemeral key and tag.
const noiseMaxPlaintext = noise.MaxMsgLen - 32 - 16

var noiseSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b)

// noiseScheme sends the payload in the single message of the one-way N
// pattern (-> e, es). The message is e(32) || ciphertext || tag(16).
type noiseScheme struct{}

func (noiseScheme) seal(plaintext []byte, recipient [32]byte) (*sealed, error) {
	if len(plaintext) > noiseMaxPlaintext {
		return nil, fmt.Errorf("%w: noise carries at most %d bytes", ErrPlaintextTooLarge, noiseMaxPlaintext)
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: noiseSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeN,
		Initiator:   true,
		Prologue:    []byte(noisePrologue),
		PeerStatic:  recipient[:],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	msg, _, _, err := hs.WriteMessage(nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("handshake write failed: %w", err)
	}

	tagAt := len(msg) - 16
	return &sealed{
		ephemeral:  msg[:32],
		ciphertext: msg[32:tagAt],
		mac:        msg[tagAt:],
	}, nil
}

func (noiseScheme) open(s *sealed, kp *crypto.KeyPair) ([]byte, error) {
	static := noise.DHKey{
		Private: make([]byte, 32),
		Public:  make([]byte, 32),
	}
	copy(static.Private, kp.Private[:])
	copy(static.Public, kp.Public[:])
	defer crypto.ZeroBytes(static.Private)

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeN,
		Initiator:     false,
		Prologue:      []byte(noisePrologue),
		StaticKeypair: static,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	msg := make([]byte, 0, len(s.ephemeral)+len(s.ciphertext)+len(s.mac))
	msg = append(msg, s.ephemeral...)
	msg = append(msg, s.ciphertext...)
	msg = append(msg, s.mac...)

	plaintext, _, _, err := hs.ReadMessage(nil, msg)
	if err != nil {
		if errors.Is(err, noise.ErrShortMessage) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMACMismatch, err)
	}
	return plaintext, nil
}
