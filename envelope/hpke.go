package envelope

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/opd-ai/securenet/crypto"
)

const hpkeInfo = "securenet/envelope/hpke/v1"

var (
	hpkeKEM   = hpke.KEM_X25519_HKDF_SHA256
	hpkeSuite = hpke.NewSuite(hpkeKEM, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305)
)

// hpkeScheme is single-shot base-mode HPKE. enc is the ephemeral key and
// the AEAD output is ciphertext || tag(16).
type hpkeScheme struct{}

func (hpkeScheme) seal(plaintext []byte, recipient [32]byte) (*sealed, error) {
	pk, err := hpkeKEM.Scheme().UnmarshalBinaryPublicKey(recipient[:])
	if err != nil {
		return nil, fmt.Errorf("invalid recipient key: %w", err)
	}

	sender, err := hpkeSuite.NewSender(pk, []byte(hpkeInfo))
	if err != nil {
		return nil, err
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("hpke setup failed: %w", err)
	}

	ct, err := sealer.Seal(plaintext, nil)
	if err != nil {
		return nil, err
	}

	tagAt := len(ct) - 16
	return &sealed{
		ephemeral:  enc,
		ciphertext: ct[:tagAt],
		mac:        ct[tagAt:],
	}, nil
}

func (hpkeScheme) open(s *sealed, kp *crypto.KeyPair) ([]byte, error) {
	sk, err := hpkeKEM.Scheme().UnmarshalBinaryPrivateKey(kp.Private[:])
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	receiver, err := hpkeSuite.NewReceiver(sk, []byte(hpkeInfo))
	if err != nil {
		return nil, err
	}
	opener, err := receiver.Setup(s.ephemeral)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	ct := make([]byte, 0, len(s.ciphertext)+len(s.mac))
	ct = append(ct, s.ciphertext...)
	ct = append(ct, s.mac...)

	plaintext, err := opener.Open(ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMACMismatch, err)
	}
	return plaintext, nil
}
