// Package challenge signs and verifies the cookie that carries WebAuthn
// ceremony state between the options request and the verification request.
//
// The provider keeps no server-side ceremony session: the cookie is the only
// continuity, so it must be tamper-evident and short-lived.
package challenge

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
)

// MinKeySize is the smallest accepted HMAC key length in bytes.
const MinKeySize = 32

// ErrInvalidCookie indicates a missing, malformed, expired, or forged
// challenge cookie. Every decode failure folds into this error so callers
// cannot distinguish forgery from expiry.
var ErrInvalidCookie = apperrors.New(apperrors.CodeCeremonyCookieMissing, "challenge cookie is missing or invalid")

// Payload is the ceremony state carried by the signed cookie.
type Payload struct {
	Challenge         string
	ProviderAccountID string
}

// cookieClaims is the internal claims type used for JWT signing and parsing.
type cookieClaims struct {
	jwt.RegisteredClaims
	Challenge         string `json:"challenge"`
	ProviderAccountID string `json:"providerAccountId,omitempty"`
}

// Codec encodes and decodes signed challenge cookies.
type Codec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewCodec creates a codec signing with the given HMAC key. The ttl bounds
// how long an issued challenge stays valid and should be shorter than a
// typical ceremony timeout.
func NewCodec(key []byte, ttl time.Duration, now func() time.Time) (*Codec, error) {
	if len(key) < MinKeySize {
		return nil, fmt.Errorf("challenge cookie key must be at least %d bytes", MinKeySize)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("challenge cookie ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{key: key, ttl: ttl, now: now}, nil
}

// TTL returns how long issued cookies stay valid.
func (c *Codec) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

// Encode signs a payload into a compact cookie value.
func (c *Codec) Encode(payload Payload) (string, error) {
	if c == nil {
		return "", fmt.Errorf("codec is not configured")
	}
	if strings.TrimSpace(payload.Challenge) == "" {
		return "", fmt.Errorf("challenge is required")
	}

	issued := c.now().UTC()
	claims := cookieClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(c.ttl)),
		},
		Challenge:         payload.Challenge,
		ProviderAccountID: payload.ProviderAccountID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign challenge cookie: %w", err)
	}
	return token, nil
}

// Decode verifies a cookie value and returns its payload and expiry.
func (c *Codec) Decode(value string) (Payload, time.Time, error) {
	if c == nil {
		return Payload{}, time.Time{}, fmt.Errorf("codec is not configured")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return Payload{}, time.Time{}, ErrInvalidCookie
	}

	var parsed cookieClaims
	_, err := jwt.ParseWithClaims(value, &parsed, func(token *jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Payload{}, time.Time{}, apperrors.Wrap(apperrors.CodeCeremonyCookieMissing, "parse challenge cookie", err)
	}
	if strings.TrimSpace(parsed.Challenge) == "" {
		return Payload{}, time.Time{}, ErrInvalidCookie
	}

	payload := Payload{
		Challenge:         parsed.Challenge,
		ProviderAccountID: parsed.ProviderAccountID,
	}
	return payload, parsed.ExpiresAt.Time, nil
}
