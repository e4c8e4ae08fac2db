// Package cryptocodec implements the AES-256-GCM file encryption codec
// (C5): PBKDF2-HMAC-SHA256 key derivation and the
// salt(16) || nonce(12) || ciphertext||tag on-disk layout from spec.md §4.5.
//
// AES-GCM and the HMAC-SHA256 PRF underneath PBKDF2 are taken from the
// standard library (crypto/aes, crypto/cipher) rather than reimplemented —
// hand-rolling an AEAD cipher is the one place "idiomatic Go" and "use a
// library from the examples" point in different directions, and correctness
// of an authenticated cipher is not something to relearn per project.
package cryptocodec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	// pbkdf2Iterations matches spec.md §4.5 exactly.
	pbkdf2Iterations = 600_000

	// EncryptedSuffix is appended to the plaintext filename on encryption.
	EncryptedSuffix = ".enc"

	// manifestPrefix/manifestSuffix mirror manifest.IsManifestFile's
	// naming convention without importing the manifest package, to avoid
	// a dependency cycle (manifest files are plain JSON, never encrypted).
	manifestPrefix = "backup_manifest_"
	manifestSuffix = ".json"
)

var (
	// ErrCiphertextTooShort is returned when an .enc file is smaller than
	// the fixed salt+nonce header, so it cannot possibly be well-formed.
	ErrCiphertextTooShort = errors.New("cryptocodec: ciphertext shorter than salt+nonce header")
)

// Credential is either a passphrase (PBKDF2-derived key, fresh salt per
// file) or a raw 32-byte key (salt field zero-filled and ignored).
type Credential struct {
	Passphrase string
	RawKey     []byte // must be exactly 32 bytes when set
}

// DeriveKey runs PBKDF2-HMAC-SHA256 with 600,000 iterations, producing a
// 32-byte AES-256 key.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

// resolveKey returns the AES-256 key and the salt to store in the file
// header for the given credential. For a raw key the header salt is all
// zero and ignored on decrypt.
func resolveKey(cred Credential) (key, headerSalt []byte, err error) {
	if len(cred.RawKey) > 0 {
		if len(cred.RawKey) != keySize {
			return nil, nil, fmt.Errorf("cryptocodec: raw key must be %d bytes, got %d", keySize, len(cred.RawKey))
		}
		return cred.RawKey, make([]byte, saltSize), nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("cryptocodec: generate salt: %w", err)
	}
	return DeriveKey(cred.Passphrase, salt), salt, nil
}

// EncryptFile reads plaintext, encrypts it under a fresh random nonce (and,
// for a passphrase credential, a fresh random salt), and writes
// salt||nonce||ciphertext||tag to path+".enc". The plaintext original is
// deleted only after the .enc write has fully succeeded.
func EncryptFile(path string, cred Credential) (string, error) {
	plaintext, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cryptocodec: read %s: %w", path, err)
	}

	key, headerSalt, err := resolveKey(cred)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("cryptocodec: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return "", fmt.Errorf("cryptocodec: new gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cryptocodec: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	out = append(out, headerSalt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	dstPath := path + EncryptedSuffix
	if err := os.WriteFile(dstPath, out, 0o600); err != nil {
		return "", fmt.Errorf("cryptocodec: write %s: %w", dstPath, err)
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("cryptocodec: remove plaintext %s after encrypt: %w", path, err)
	}
	return dstPath, nil
}

// DecryptFile is the inverse of EncryptFile: it reads an .enc file and
// writes the recovered plaintext to dstPath.
func DecryptFile(encPath, dstPath string, cred Credential) error {
	data, err := os.ReadFile(encPath)
	if err != nil {
		return fmt.Errorf("cryptocodec: read %s: %w", encPath, err)
	}
	plaintext, err := Decrypt(data, cred)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("cryptocodec: create dir for %s: %w", dstPath, err)
	}
	if err := os.WriteFile(dstPath, plaintext, 0o644); err != nil {
		return fmt.Errorf("cryptocodec: write %s: %w", dstPath, err)
	}
	return nil
}

// Decrypt parses the salt||nonce||ciphertext layout and returns the
// recovered plaintext. For a raw-key credential the stored salt is
// ignored; for a passphrase credential it is fed into PBKDF2.
func Decrypt(data []byte, cred Credential) ([]byte, error) {
	if len(data) < saltSize+nonceSize {
		return nil, ErrCiphertextTooShort
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	ciphertext := data[saltSize+nonceSize:]

	var key []byte
	if len(cred.RawKey) > 0 {
		if len(cred.RawKey) != keySize {
			return nil, fmt.Errorf("cryptocodec: raw key must be %d bytes, got %d", keySize, len(cred.RawKey))
		}
		key = cred.RawKey
	} else {
		key = DeriveKey(cred.Passphrase, salt)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptocodec: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("cryptocodec: new gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptocodec: decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptDirectory walks root and encrypts every regular file in place,
// skipping files that are already encrypted (.enc) or are manifests
// (backup_manifest_*.json).
func EncryptDirectory(root string, cred Credential) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if shouldSkipEncryption(info.Name()) {
			return nil
		}
		_, err = EncryptFile(path, cred)
		return err
	})
}

func shouldSkipEncryption(name string) bool {
	if strings.HasSuffix(name, EncryptedSuffix) {
		return true
	}
	return strings.HasPrefix(name, manifestPrefix) && strings.HasSuffix(name, manifestSuffix)
}
