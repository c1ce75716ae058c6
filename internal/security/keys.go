package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes derived from the application secret. Each purpose yields an independent key.
const (
	PurposeSessionCookie  = "session cookie signing"
	PurposeIdentityTokens = "identity token encryption"
)

// ErrWeakSecret is returned when the root secret is too short to derive keys from.
var ErrWeakSecret = errors.New("secret must be at least 32 bytes")

// DeriveKey derives a size-byte key for purpose from secret using HKDF-SHA256.
// The same secret and purpose always yield the same key.
func DeriveKey(secret, purpose string, size int) ([]byte, error) {
	if len(secret) < 32 {
		return nil, ErrWeakSecret
	}
	key := make([]byte, size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// RandomHex returns n random bytes hex-encoded (2n characters). Used for OAuth state.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
