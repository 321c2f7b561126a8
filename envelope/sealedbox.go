package envelope

import (
	"crypto/rand"
	"fmt"

	"github.com/opd-ai/securenet/crypto"
	"golang.org/x/crypto/nacl/box"
)

// sealedBoxScheme wraps NaCl's anonymous box. Its output is
// ephemeral(32) || tag(16) || ciphertext.
type sealedBoxScheme struct{}

func (sealedBoxScheme) seal(plaintext []byte, recipient [32]byte) (*sealed, error) {
	out, err := box.SealAnonymous(nil, plaintext, &recipient, rand.Reader)
	if err != nil {
		return nil, err
	}
	return &sealed{
		ephemeral:  out[:32],
		mac:        out[32 : 32+box.Overhead],
		ciphertext: out[32+box.Overhead:],
	}, nil
}

func (sealedBoxScheme) open(s *sealed, kp *crypto.KeyPair) ([]byte, error) {
	raw := make([]byte, 0, len(s.ephemeral)+len(s.mac)+len(s.ciphertext))
	raw = append(raw, s.ephemeral...)
	raw = append(raw, s.mac...)
	raw = append(raw, s.ciphertext...)

	plaintext, ok := box.OpenAnonymous(nil, raw, &kp.Public, &kp.Private)
	if !ok {
		return nil, fmt.Errorf("%w: sealedbox open failed", ErrMACMismatch)
	}
	return plaintext, nil
}
