package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCiphertext is returned when a sealed value cannot be decoded or authenticated.
var ErrCiphertext = errors.New("invalid ciphertext")

// TokenCipher encrypts provider credentials at rest with XChaCha20-Poly1305.
// Sealed values are base64url(nonce || ciphertext).
type TokenCipher struct {
	key []byte
}

// NewTokenCipher returns a TokenCipher for a 32-byte key.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("token cipher key must be 32 bytes")
	}
	return &TokenCipher{key: key}, nil
}

// NewTokenCipherFromSecret derives the encryption key from the application secret.
func NewTokenCipherFromSecret(secret string) (*TokenCipher, error) {
	key, err := DeriveKey(secret, PurposeIdentityTokens, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	return NewTokenCipher(key)
}

// Seal encrypts plaintext. Empty input returns empty output.
func (c *TokenCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Empty input returns empty output.
func (c *TokenCipher) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrCiphertext
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrCiphertext
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrCiphertext
	}
	return string(pt), nil
}
