package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base64URLAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

func signedToken(t *testing.T) (string, *SigningKeyPair) {
	t.Helper()
	kp, err := GenerateSigningKeyPair()
	require.NoError(t, err)
	token, err := SignToken("alice@example", kp.Seed)
	require.NoError(t, err)
	return token, kp
}

func TestSignTokenRoundTrip(t *testing.T) {
	token, kp := signedToken(t)
	assert.Equal(t, 2, strings.Count(token, "."))

	decoded, err := DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example", decoded.Payload)
	assert.Equal(t, TokenAlgorithm, decoded.Algorithm)
	assert.Equal(t, "JWT", decoded.Type)
	assert.True(t, decoded.Verify(kp.Public))

	other, err := GenerateSigningKeyPair()
	require.NoError(t, err)
	assert.False(t, decoded.Verify(other.Public))
}

func TestTokenHeader(t *testing.T) {
	token, _ := signedToken(t)
	header, err := tokenSegment.DecodeString(strings.Split(token, ".")[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"alg":"EdDSA","typ":"JWT"}`, string(header))
}

func TestDecodeTokenMalformed(t *testing.T) {
	token, _ := signedToken(t)
	parts := strings.Split(token, ".")

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"two parts", parts[0] + "." + parts[1]},
		{"bad header encoding", "!!!." + parts[1] + "." + parts[2]},
		{"bad payload json", parts[0] + "." + tokenSegment.EncodeToString([]byte("{")) + "." + parts[2]},
		{"payload not a string", parts[0] + "." + tokenSegment.EncodeToString([]byte("42")) + "." + parts[2]},
		{"short signature", parts[0] + "." + parts[1] + "." + tokenSegment.EncodeToString([]byte("sig"))},
		{"foreign algorithm", tokenSegment.EncodeToString([]byte(`{"alg":"HS256"}`)) + "." + parts[1] + "." + parts[2]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeToken(tt.token)
			assert.ErrorIs(t, err, ErrMalformedToken)
		})
	}
}

func TestTokenRejectsEverySignatureSubstitution(t *testing.T) {
	token, kp := signedToken(t)
	last := len(token) - 1

	for _, c := range base64URLAlphabet {
		if byte(c) == token[last] {
			continue
		}
		variant := token[:last] + string(c)
		decoded, err := DecodeToken(variant)
		if err != nil {
			assert.ErrorIs(t, err, ErrMalformedToken)
			continue
		}
		assert.False(t, decoded.Verify(kp.Public), "variant ending in %q verified", c)
	}
}

func TestTokenRejectsForeignAlgorithm(t *testing.T) {
	token, kp := signedToken(t)

	decoded, err := DecodeToken(token)
	require.NoError(t, err)
	decoded.Algorithm = "none"
	assert.False(t, decoded.Verify(kp.Public))

	var zero Token
	assert.False(t, zero.Verify(kp.Public))
}
