package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keySalt   = "tamarindo-data-source-credentials"
	keyInfo   = "credential-encryption-v1"
	keySize   = 32
	nonceSize = 12
)

var (
	ErrEmptySecret      = errors.New("encryption secret cannot be empty")
	ErrEmptyPlaintext   = errors.New("plaintext cannot be empty")
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or authentication tag")
)

// Encryptor seals credentials with AES-256-GCM. The key is derived from
// the server secret with HKDF-SHA256. Output is nonce || ciphertext || tag.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives the key from secret.
func NewEncryptor(secret string) (*Encryptor, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(keySalt), []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, ErrEmptyPlaintext
	}
	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+e.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt. Any tampering, truncation or a
// wrong key yields ErrDecryptionFailed.
func (e *Encryptor) Decrypt(data []byte) ([]byte, error) {
	if len(data) < nonceSize+1+e.aead.Overhead() {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
