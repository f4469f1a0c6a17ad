// Package credentials persists venue API keys as an authenticated,
// password-derived encrypted blob on disk: PBKDF2-HMAC-SHA256 key
// derivation feeding AES-256-GCM, written atomically and readable only
// by its owner.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/titan-scanner/core/pkg/types"
)

const (
	pbkdf2Iterations = 200000
	saltSize         = 32 // 256 bit
	keySize          = 32 // AES-256
	blobVersion      = 1

	// MinPasswordLength is the minimum accepted master password length.
	MinPasswordLength = 12
)

// ErrPasswordTooShort is returned when a password is below MinPasswordLength.
var ErrPasswordTooShort = fmt.Errorf("credentials: password must be at least %d characters", MinPasswordLength)

// ErrAuthenticationFailed is returned when decryption fails its auth tag
// check, i.e. the password is wrong or the blob has been tampered with.
var ErrAuthenticationFailed = errors.New("credentials: authentication failed")

// Store persists venue credentials at path, encrypted under password.
type Store struct {
	path string
}

// New builds a Store backed by the file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Save encrypts secrets under password and atomically writes them to
// Store's path with owner-only permissions.
func (s *Store) Save(password string, secrets map[string]types.VenueCredential) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("credentials: marshal secrets: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("credentials: generate salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("credentials: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	blob := types.EncryptedSecretsBlob{
		Version:    blobVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}
	return writeAtomic(s.path, &blob)
}

// Load decrypts Store's path under password.
func (s *Store) Load(password string) (map[string]types.VenueCredential, error) {
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", s.path, err)
	}
	var blob types.EncryptedSecretsBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("credentials: decode blob: %w", err)
	}

	gcm, err := newGCM(password, blob.Salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	var secrets map[string]types.VenueCredential
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("credentials: decode secrets: %w", err)
	}
	return secrets, nil
}

// ChangePassword decrypts under oldPassword and re-encrypts the same
// secrets under newPassword, atomically.
func (s *Store) ChangePassword(oldPassword, newPassword string) error {
	secrets, err := s.Load(oldPassword)
	if err != nil {
		return err
	}
	return s.Save(newPassword, secrets)
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentials: build gcm: %w", err)
	}
	return gcm, nil
}

// writeAtomic writes blob to path via a temp file in the same directory
// followed by rename, so a crash mid-write never leaves a corrupt blob in
// place of a good one. The file is owner-read/write only.
func writeAtomic(path string, blob *types.EncryptedSecretsBlob) error {
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("credentials: marshal blob: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("credentials: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credentials: write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("credentials: chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credentials: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("credentials: rename into place: %w", err)
	}
	return nil
}
