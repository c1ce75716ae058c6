package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, tampered with, or signed with another key.
	ErrInvalidToken = errors.New("invalid token")
)

// SessionClaims is the signed payload of the session cookie.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"uid,omitempty"`
	SignedOut bool   `json:"so,omitempty"`
}

// DefaultSessionTTL is the session lifetime when none is configured.
const DefaultSessionTTL = 14 * 24 * time.Hour

// SessionSigner signs and verifies session payloads with HS256.
type SessionSigner struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionSigner returns a SessionSigner using key (at least 32 bytes).
// Tokens expire after DefaultSessionTTL; see WithTTL.
func NewSessionSigner(key []byte, issuer string) (*SessionSigner, error) {
	if len(key) < 32 {
		return nil, ErrWeakSecret
	}
	return &SessionSigner{key: key, issuer: issuer, ttl: DefaultSessionTTL, now: time.Now}, nil
}

// WithTTL returns a copy of s whose tokens expire ttl after signing. ttl <= 0 keeps the current lifetime.
func (s *SessionSigner) WithTTL(ttl time.Duration) *SessionSigner {
	c := *s
	if ttl > 0 {
		c.ttl = ttl
	}
	return &c
}

// TTL is the lifetime stamped into each token's exp claim.
func (s *SessionSigner) TTL() time.Duration { return s.ttl }

// NewSessionSignerFromSecret derives the cookie signing key from the application secret.
func NewSessionSignerFromSecret(secret, issuer string) (*SessionSigner, error) {
	key, err := DeriveKey(secret, PurposeSessionCookie, 32)
	if err != nil {
		return nil, err
	}
	return NewSessionSigner(key, issuer)
}

// Sign returns the compact JWS for the given user reference and signed-out flag.
func (s *SessionSigner) Sign(userID string, signedOut bool) (string, error) {
	now := s.now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		UserID:    userID,
		SignedOut: signedOut,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify parses token and checks signature, algorithm, issuer, and expiry. Tokens without exp are rejected.
func (s *SessionSigner) Verify(token string) (*SessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
