// ABOUTME: Signed claim codec for access and renewal tokens
// ABOUTME: HS256 JWTs sharing one secret and issuer tag across all services

package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Codec errors. Decode never returns partial claims alongside an error.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// DefaultLeeway bounds acceptable clock skew between services when
// validating expiry. Configurable per codec; never zero in production.
const DefaultLeeway = 30 * time.Second

// AccessClaims is the short-lived claim set attached to every request.
// It is transmitted and verified, never persisted.
type AccessClaims struct {
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RenewalClaims is the long-lived claim set used only to mint a fresh
// access token. Its identity (see RenewalID) is persisted per principal.
type RenewalClaims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// accessJWT is the wire form of AccessClaims.
type accessJWT struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// renewalJWT is the wire form of RenewalClaims.
type renewalJWT struct {
	jwt.RegisteredClaims
}

// Codec encodes and decodes signed claim sets. Decoding is a pure local
// operation: any service holding the shared secret verifies tokens without
// talking to the issuer.
type Codec struct {
	secret []byte
	issuer string
	leeway time.Duration

	// now is the clock used for expiry validation; replaced in tests.
	now func() time.Time
}

// NewCodec creates a codec for the given shared secret and issuer tag.
// An empty secret or issuer tag is a configuration error: every service
// must refuse to start rather than verify tokens it cannot trust.
func NewCodec(secret []byte, issuer string, leeway time.Duration) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: signing secret must not be empty")
	}
	if issuer == "" {
		return nil, errors.New("token: issuer tag must not be empty")
	}
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Codec{
		secret: secret,
		issuer: issuer,
		leeway: leeway,
		now:    time.Now,
	}, nil
}

// WithClock overrides the codec's time source for expiry validation.
// Intended for simulations.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// EncodeAccess signs an access claim set into a compact token string.
func (c *Codec) EncodeAccess(claims AccessClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, accessJWT{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
		Role: claims.Role,
	})
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// DecodeAccess verifies a token string and returns its access claims.
// Returns ErrTokenExpired only when expiry is the sole failure; any
// tampering, malformed input, or issuer mismatch yields ErrTokenInvalid.
func (c *Codec) DecodeAccess(tokenString string) (*AccessClaims, error) {
	var wire accessJWT
	if err := c.decode(tokenString, &wire); err != nil {
		return nil, err
	}
	if wire.Subject == "" || wire.Role == "" {
		return nil, fmt.Errorf("%w: missing subject or role claim", ErrTokenInvalid)
	}
	if wire.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing issued-at claim", ErrTokenInvalid)
	}
	return &AccessClaims{
		Subject:   wire.Subject,
		Role:      wire.Role,
		IssuedAt:  wire.IssuedAt.Time,
		ExpiresAt: wire.ExpiresAt.Time,
	}, nil
}

// EncodeRenewal signs a renewal claim set into a compact token string.
func (c *Codec) EncodeRenewal(claims RenewalClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, renewalJWT{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing renewal token: %w", err)
	}
	return signed, nil
}

// DecodeRenewal verifies a token string and returns its renewal claims.
func (c *Codec) DecodeRenewal(tokenString string) (*RenewalClaims, error) {
	var wire renewalJWT
	if err := c.decode(tokenString, &wire); err != nil {
		return nil, err
	}
	if wire.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrTokenInvalid)
	}
	if wire.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing issued-at claim", ErrTokenInvalid)
	}
	return &RenewalClaims{
		Subject:   wire.Subject,
		IssuedAt:  wire.IssuedAt.Time,
		ExpiresAt: wire.ExpiresAt.Time,
	}, nil
}

// decode parses and verifies a token into the given claims struct,
// mapping library errors onto the codec's two-error contract.
func (c *Codec) decode(tokenString string, claims jwt.Claims) error {
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	if err != nil {
		// A tampered or mis-issued token must never surface as "expired":
		// expiry is reported only when it is the sole reason for rejection.
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed),
			errors.Is(err, jwt.ErrTokenSignatureInvalid),
			errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return ErrTokenExpired
		default:
			return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}
	if !tok.Valid {
		return ErrTokenInvalid
	}
	return nil
}

// RenewalID derives the stored identity of a renewal token. The token
// itself is never persisted; only this digest is compared against the
// principal's current renewal reference.
func RenewalID(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}
