package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPublicKey is returned when a public key string cannot be parsed.
var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey is the publishable identity of a party: the Ed25519 key that
// verifies its certificates and the X25519 key envelopes are sealed to.
type PublicKey struct {
	Sign [32]byte
	Box  [32]byte
}

// ParsePublicKey parses the "<sign-hex>:<box-hex>" form produced by String.
func ParsePublicKey(s string) (PublicKey, error) {
	signHex, boxHex, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return PublicKey{}, fmt.Errorf("%w: missing separator", ErrInvalidPublicKey)
	}

	var pk PublicKey
	if err := decodeKeyHex(signHex, pk.Sign[:]); err != nil {
		return PublicKey{}, fmt.Errorf("%w: signing key: %v", ErrInvalidPublicKey, err)
	}
	if err := decodeKeyHex(boxHex, pk.Box[:]); err != nil {
		return PublicKey{}, fmt.Errorf("%w: box key: %v", ErrInvalidPublicKey, err)
	}
	if pk.IsZero() {
		return PublicKey{}, fmt.Errorf("%w: all zeros", ErrInvalidPublicKey)
	}
	return pk, nil
}

// String returns the hexadecimal "<sign>:<box>" representation.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk.Sign[:]) + ":" + hex.EncodeToString(pk.Box[:])
}

// IsZero reports whether both halves are unset.
func (pk PublicKey) IsZero() bool {
	return isZeroKey(pk.Sign) && isZeroKey(pk.Box)
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

func decodeKeyHex(s string, dst []byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("want %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
