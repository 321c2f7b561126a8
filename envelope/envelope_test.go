package envelope_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/envelope"
	"github.com/opd-ai/securenet/keymanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envelopeB64 = base64.StdEncoding

var allSchemes = []envelope.Scheme{
	envelope.SchemeSealedBox,
	envelope.SchemeNoise,
	envelope.SchemeHPKE,
}

func newKeys(t *testing.T) *keymanager.Local {
	t.Helper()
	l, err := keymanager.Generate()
	require.NoError(t, err)
	return l
}

func TestRoundTrip(t *testing.T) {
	for _, s := range allSchemes {
		t.Run(string(s), func(t *testing.T) {
			keys := newKeys(t)
			m := envelope.Manager{Scheme: s}

			plaintext := []byte(`{"certificate":null,"data":{"text":"secret-marker-4711"}}`)
			env, err := m.Encrypt(plaintext, keys.PublicKey())
			require.NoError(t, err)

			assert.False(t, bytes.Contains(env, []byte("secret-marker-4711")))

			var parsed envelope.Envelope
			require.NoError(t, json.Unmarshal(env, &parsed))
			assert.Equal(t, s, parsed.Scheme)

			got, err := m.Decrypt(context.Background(), env, keys)
			require.NoError(t, err)
			assert.Equal(t, plaintext, got)
		})
	}
}

func TestFreshEphemeralPerEnvelope(t *testing.T) {
	keys := newKeys(t)
	for _, s := range allSchemes {
		m := envelope.Manager{Scheme: s}
		a, err := m.Encrypt([]byte("same"), keys.PublicKey())
		require.NoError(t, err)
		b, err := m.Encrypt([]byte("same"), keys.PublicKey())
		require.NoError(t, err)
		assert.NotEqual(t, a, b, s)
	}
}

func TestWrongKeyFails(t *testing.T) {
	for _, s := range allSchemes {
		t.Run(string(s), func(t *testing.T) {
			bob := newKeys(t)
			eve := newKeys(t)

			env, err := envelope.Manager{Scheme: s}.Encrypt([]byte("for bob"), bob.PublicKey())
			require.NoError(t, err)

			_, err = envelope.Decrypt(context.Background(), env, eve)
			assert.Equal(t, envelope.ErrDecryptionFailed, err)
		})
	}
}

func TestTamperedCiphertextFails(t *testing.T) {
	for _, s := range allSchemes {
		t.Run(string(s), func(t *testing.T) {
			keys := newKeys(t)
			env, err := envelope.Manager{Scheme: s}.Encrypt([]byte("attack at dawn"), keys.PublicKey())
			require.NoError(t, err)

			var parsed envelope.Envelope
			require.NoError(t, json.Unmarshal(env, &parsed))
			parsed.MAC = flipFirstByte(t, parsed.MAC)
			tampered, err := json.Marshal(parsed)
			require.NoError(t, err)

			_, err = envelope.Decrypt(context.Background(), tampered, keys)
			assert.ErrorIs(t, err, envelope.ErrDecryptionFailed)
			assert.NotContains(t, err.Error(), "chacha20")
		})
	}
}

func flipFirstByte(t *testing.T, b64 string) string {
	t.Helper()
	raw, err := envelopeB64.DecodeString(b64)
	require.NoError(t, err)
	raw[0] ^= 0x01
	return envelopeB64.EncodeToString(raw)
}

func TestMalformedEnvelope(t *testing.T) {
	keys := newKeys(t)
	ctx := context.Background()

	_, err := envelope.Decrypt(ctx, []byte("not json"), keys)
	assert.ErrorIs(t, err, envelope.ErrMalformedEnvelope)

	_, err = envelope.Decrypt(ctx, []byte(`{"scheme":"rot13"}`), keys)
	assert.ErrorIs(t, err, envelope.ErrUnknownScheme)

	_, err = envelope.Decrypt(ctx, []byte(`{"scheme":"sealedbox","ephemeral":"!!","ciphertext":"","mac":""}`), keys)
	assert.ErrorIs(t, err, envelope.ErrMalformedEnvelope)
	assert.NotErrorIs(t, err, envelope.ErrDecryptionFailed)
}

func TestDecryptRequiresCapability(t *testing.T) {
	keys := newKeys(t)
	env, err := envelope.Encrypt([]byte("x"), keys.PublicKey())
	require.NoError(t, err)

	_, err = envelope.Decrypt(context.Background(), env, keymanager.SigningOnly(keys))
	assert.ErrorIs(t, err, crypto.ErrCapabilityUnsupported)
}

func TestEncryptLimits(t *testing.T) {
	keys := newKeys(t)

	_, err := envelope.Encrypt(nil, keys.PublicKey())
	assert.ErrorIs(t, err, envelope.ErrEmptyPlaintext)

	_, err = envelope.Encrypt(make([]byte, envelope.MaxPlaintextSize+1), keys.PublicKey())
	assert.ErrorIs(t, err, envelope.ErrPlaintextTooLarge)

	_, err = envelope.Manager{Scheme: envelope.SchemeNoise}.Encrypt(make([]byte, 70000), keys.PublicKey())
	assert.ErrorIs(t, err, envelope.ErrPlaintextTooLarge)

	_, err = envelope.Manager{Scheme: "rot13"}.Encrypt([]byte("x"), keys.PublicKey())
	assert.ErrorIs(t, err, envelope.ErrUnknownScheme)
}

func TestSupported(t *testing.T) {
	for _, s := range allSchemes {
		assert.True(t, envelope.Supported(s))
	}
	assert.False(t, envelope.Supported(envelope.Scheme(strings.ToUpper("hpke"))))
}
