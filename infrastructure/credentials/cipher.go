// Package credentials resolves provider secrets through an ordered chain of
// sources: the encrypted configuration store, then the process
// environment. Stored values are AES-256-GCM blobs encoded as
// base64(nonce || ciphertext+tag), keyed by an Argon2id derivation of a
// server-side secret.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

const (
	// Argon2id parameters.
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256
)

// DefaultSalt is used when no deployment-specific salt is configured. The
// salt must stay stable for the lifetime of the stored blobs.
var DefaultSalt = []byte("alfatechflow-gateway/credentials/v1")

// ErrEmptySecret is returned when a Cipher is built without key material.
var ErrEmptySecret = errors.New("encryption secret is empty")

// Cipher encrypts and decrypts credential blobs. It is safe for
// concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives an AES-256 key from secret and salt. A nil salt
// selects DefaultSalt.
func NewCipher(secret string, salt []byte) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if len(salt) == 0 {
		salt = DefaultSalt
	}

	key := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Cipher{aead: gcm}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64(nonce || ciphertext+tag).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Every failure, including malformed base64 and
// authentication failure, wraps ports.ErrDecrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ports.ErrDecrypt, err)
	}

	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", fmt.Errorf("%w: blob too short (%d bytes)", ports.ErrDecrypt, len(raw))
	}

	plaintext, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ports.ErrDecrypt, err)
	}
	return string(plaintext), nil
}
