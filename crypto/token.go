package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// TokenAlgorithm is the only algorithm accepted in token headers.
const TokenAlgorithm = string(jose.EdDSA)

// ErrMalformedToken is returned when a token does not have the compact
// header.payload.signature shape or one of its parts fails to decode.
var ErrMalformedToken = errors.New("malformed token")

// tokenSegment rejects non-zero trailing bits, so every token has exactly
// one accepted spelling.
var tokenSegment = base64.RawURLEncoding.Strict()

// Token is a decoded compact JWS whose payload is a JSON string.
type Token struct {
	Algorithm string
	Type      string
	Payload   string

	jws *jose.JSONWebSignature
}

// SignToken signs the JSON encoding of payload as a compact JWS with
// header {"alg":"EdDSA","typ":"JWT"}.
func SignToken(payload string, seed [32]byte) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	priv := ed25519.NewKeyFromSeed(seed[:])
	defer ZeroBytes(priv)

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.EdDSA, Key: priv},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create token signer: %w", err)
	}
	signed, err := signer.Sign(body)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed.CompactSerialize()
}

// DecodeToken parses a token without checking its signature.
func DecodeToken(token string) (*Token, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 parts, got %d", ErrMalformedToken, len(parts))
	}
	for i, part := range parts {
		raw, err := tokenSegment.DecodeString(part)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %d: %v", ErrMalformedToken, i, err)
		}
		if i == 2 && len(raw) != SignatureSize {
			return nil, fmt.Errorf("%w: signature is %d bytes", ErrMalformedToken, len(raw))
		}
	}

	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("%w: expected 1 signature, got %d", ErrMalformedToken, len(jws.Signatures))
	}

	t := &Token{jws: jws}
	if err := json.Unmarshal(jws.UnsafePayloadWithoutVerification(), &t.Payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	header := jws.Signatures[0].Protected
	t.Algorithm = header.Algorithm
	t.Type, _ = header.ExtraHeaders[jose.HeaderType].(string)
	return t, nil
}

// Verify checks the token signature against an Ed25519 public key.
func (t *Token) Verify(publicKey [32]byte) bool {
	if t == nil || t.jws == nil || t.Algorithm != TokenAlgorithm {
		return false
	}
	_, err := t.jws.Verify(ed25519.PublicKey(publicKey[:]))
	return err == nil
}
