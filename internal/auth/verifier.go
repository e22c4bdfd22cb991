package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"supporthub-ws/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is what the hub trusts about a connecting principal after
// verification. Token issuance lives in the external auth service; the
// hub only verifies.
type Claims struct {
	Subject   string      `json:"sub"`
	Role      domain.Role `json:"role"`
	ExpiresAt time.Time   `json:"exp"`
}

// Verifier checks a bearer token and extracts its claims.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// TokenCodec verifies HMAC-SHA256 signed tokens of the form
// base64url(payload).base64url(signature). It can also mint tokens,
// which the ops tooling and tests use; production issuance stays with
// the auth service that shares the secret.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret), now: time.Now}
}

func (c *TokenCodec) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Issue creates a signed token for the given identity and role.
func (c *TokenCodec) Issue(subject string, role domain.Role, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", ErrInvalidToken
	}
	if _, err := domain.ParseRole(string(role)); err != nil {
		return "", err
	}
	payload, err := json.Marshal(Claims{
		Subject:   subject,
		Role:      role,
		ExpiresAt: c.now().Add(ttl).UTC(),
	})
	if err != nil {
		return "", err
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(c.sign(payload)), nil
}

// Verify checks signature and expiry, then validates the role claim.
// A token with an unknown or missing role fails with
// domain.ErrUnauthorizedRole before any registration happens.
func (c *TokenCodec) Verify(token string) (Claims, error) {
	payloadB64, sigB64, ok := strings.Cut(token, ".")
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	enc := base64.RawURLEncoding
	payload, err := enc.DecodeString(payloadB64)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sig, err := enc.DecodeString(sigB64)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !hmac.Equal(sig, c.sign(payload)) {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	if !claims.ExpiresAt.After(c.now()) {
		return Claims{}, ErrTokenExpired
	}
	if _, err := domain.ParseRole(string(claims.Role)); err != nil {
		return Claims{}, err
	}
	return claims, nil
}
