package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the number of iterations for key derivation (NIST recommendation)
	PBKDF2Iterations = 100000
	// EncryptionVersion is the current on-disk format version
	EncryptionVersion = 1
	// SaltSize is the size of the salt for PBKDF2
	SaltSize = 32
)

// ErrKeyFileNotFound is returned by LoadKeyBundle when no key file exists.
var ErrKeyFileNotFound = errors.New("key file not found")

// EncryptedKeyStore keeps key bundles on disk encrypted with AES-256-GCM
// under a passphrase-derived key.
type EncryptedKeyStore struct {
	encryptionKey [32]byte
	dataDir       string
	saltFile      string
}

// storedBundle is the CBOR form of a KeyBundle.
type storedBundle struct {
	Version  int    `cbor:"1,keyasint"`
	BoxKey   []byte `cbor:"2,keyasint"`
	SignSeed []byte `cbor:"3,keyasint"`
}

// NewEncryptedKeyStore opens (or creates) a key store rooted at dataDir.
// The passphrase slice is wiped before returning.
func NewEncryptedKeyStore(dataDir string, passphrase []byte) (*EncryptedKeyStore, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	ks := &EncryptedKeyStore{
		dataDir:  dataDir,
		saltFile: filepath.Join(dataDir, ".salt"),
	}

	salt, err := ks.loadOrGenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize salt: %w", err)
	}

	derivedKey := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, 32, sha256.New)
	copy(ks.encryptionKey[:], derivedKey)

	ZeroBytes(derivedKey)
	ZeroBytes(passphrase)

	NewLogger("NewEncryptedKeyStore").WithField("data_dir", dataDir).Debug("Key store opened")
	return ks, nil
}

func (ks *EncryptedKeyStore) loadOrGenerateSalt() ([]byte, error) {
	data, err := os.ReadFile(ks.saltFile)
	if err == nil {
		if len(data) != SaltSize {
			return nil, fmt.Errorf("invalid salt file size: got %d, want %d", len(data), SaltSize)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read salt file: %w", err)
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := os.WriteFile(ks.saltFile, salt, 0o600); err != nil {
		return nil, fmt.Errorf("failed to save salt: %w", err)
	}
	NewLogger("loadOrGenerateSalt").WithField("salt_file", ks.saltFile).Info("Generated new key store salt")
	return salt, nil
}

// SaveKeyBundle encrypts and stores a bundle under name.
func (ks *EncryptedKeyStore) SaveKeyBundle(name string, bundle *KeyBundle) error {
	plaintext, err := cbor.Marshal(storedBundle{
		Version:  EncryptionVersion,
		BoxKey:   bundle.Box.Private[:],
		SignSeed: bundle.Signing.Seed[:],
	})
	if err != nil {
		return fmt.Errorf("failed to encode key bundle: %w", err)
	}
	defer ZeroBytes(plaintext)

	if err := ks.WriteEncrypted(name, plaintext); err != nil {
		return err
	}
	NewLogger("SaveKeyBundle").
		WithField("name", name).
		WithFields(SecureFieldHash(bundle.Signing.Public[:], "sign_key")).
		Info("Key bundle saved")
	return nil
}

// LoadKeyBundle reads and decrypts the bundle stored under name.
func (ks *EncryptedKeyStore) LoadKeyBundle(name string) (*KeyBundle, error) {
	plaintext, err := ks.ReadEncrypted(name)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(plaintext)

	var stored storedBundle
	if err := cbor.Unmarshal(plaintext, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode key bundle: %w", err)
	}
	defer ZeroBytes(stored.BoxKey)
	defer ZeroBytes(stored.SignSeed)

	if len(stored.BoxKey) != 32 || len(stored.SignSeed) != 32 {
		NewLogger("LoadKeyBundle").WithField("name", name).Error("Key bundle has wrong key sizes")
		return nil, fmt.Errorf("corrupt key bundle %q", name)
	}

	var boxSecret, seed [32]byte
	copy(boxSecret[:], stored.BoxKey)
	copy(seed[:], stored.SignSeed)
	defer ZeroBytes(boxSecret[:])
	defer ZeroBytes(seed[:])

	boxKeys, err := FromSecretKey(boxSecret)
	if err != nil {
		return nil, err
	}
	signKeys, err := SigningKeyFromSeed(seed)
	if err != nil {
		return nil, err
	}
	return &KeyBundle{Box: *boxKeys, Signing: *signKeys}, nil
}

// WriteEncrypted encrypts and writes data to a file.
// Format: [version:2][nonce:12][ciphertext+tag:N]
func (ks *EncryptedKeyStore) WriteEncrypted(filename string, plaintext []byte) error {
	gcm, err := ks.aead()
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	output := make([]byte, 2+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(output[0:2], EncryptionVersion)
	copy(output[2:2+len(nonce)], nonce)
	copy(output[2+len(nonce):], ciphertext)

	// Atomic write using temporary file + rename
	tmpFile := filepath.Join(ks.dataDir, filename+".tmp")
	finalFile := filepath.Join(ks.dataDir, filename)

	if err := os.WriteFile(tmpFile, output, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpFile, finalFile); err != nil {
		os.Remove(tmpFile)
		NewLogger("WriteEncrypted").WithField("file", filename).WithError(err, "io", "rename").Error("Atomic write failed")
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// ReadEncrypted reads and decrypts data from a file.
func (ks *EncryptedKeyStore) ReadEncrypted(filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(ks.dataDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyFileNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	gcm, err := ks.aead()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < 2+nonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("file too short: %d bytes", len(data))
	}

	version := binary.BigEndian.Uint16(data[0:2])
	if version != EncryptionVersion {
		return nil, fmt.Errorf("unsupported encryption version: %d (expected %d)", version, EncryptionVersion)
	}

	nonce := data[2 : 2+nonceSize]
	plaintext, err := gcm.Open(nil, nonce, data[2+nonceSize:], nil)
	if err != nil {
		NewLogger("ReadEncrypted").WithField("file", filename).WithError(err, "aead", "open").Warn("Key file did not decrypt")
		return nil, fmt.Errorf("decryption failed (wrong passphrase or corrupted data): %w", err)
	}

	return plaintext, nil
}

// Close wipes the derived encryption key. The store must not be used after.
func (ks *EncryptedKeyStore) Close() error {
	ZeroBytes(ks.encryptionKey[:])
	return nil
}

func (ks *EncryptedKeyStore) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(ks.encryptionKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
