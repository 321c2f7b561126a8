// Package crypto holds the key material and primitives used across securenet.
//
// A node owns a [KeyBundle]: an X25519 [KeyPair] for envelope encryption and
// an Ed25519 [SigningKeyPair] for certificate proofs. Its public half is a
// [PublicKey], rendered as "signHex:boxHex" in directories and config files.
//
// Private material is reached through the [KeyCapability] interface rather
// than raw arrays. A capability always signs tokens; decryption and shared
// secret derivation are optional and discovered with [AsDecrypter] and
// [AsSharedSecretDeriver]:
//
//	dec, err := crypto.AsDecrypter(keys)
//	if errors.Is(err, crypto.ErrCapabilityUnsupported) {
//	    // signing-only key
//	}
//
// Tokens are compact JWS strings signed with EdDSA through go-jose. Each
// segment must be canonical unpadded base64url. See [SignToken] and
// [DecodeToken].
//
// # Key storage
//
// [EncryptedKeyStore] persists bundles under a data directory, encrypted with
// AES-GCM under a PBKDF2-derived key. Bundles are CBOR encoded before
// encryption.
//
//	ks, err := crypto.NewEncryptedKeyStore(dataDir, passphrase)
//	if err != nil {
//	    return err
//	}
//	defer ks.Close()
//	bundle, err := ks.LoadKeyBundle("alice@example")
//
// # Memory hygiene
//
// [SecureWipe], [WipeKeyPair] and [WipeKeyBundle] overwrite secrets in place.
// Log lines never carry key bytes; [SecureFieldHash] emits a short preview and
// a size instead.
package crypto
