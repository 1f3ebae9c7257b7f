// Package bazaarauth verifies the bearer tokens presented on websocket
// handshakes and resolves the identity they belong to.
package bazaarauth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultIdentityClaim = "sub"

// fallbackClaims are consulted, in order, when the default identity claim is empty.
var fallbackClaims = []string{"user_id", "id"}

var ErrNoSigningKey = errors.New("no signing key configured")

// JWTVerifier validates HMAC signed JWTs.
type JWTVerifier struct {
	key      []byte
	issuer   string
	audience string
	leeway   time.Duration
	claim    string
	now      func() time.Time
}

type Option func(v *JWTVerifier)

func WithIssuer(issuer string) Option {
	return func(v *JWTVerifier) { v.issuer = issuer }
}

func WithAudience(audience string) Option {
	return func(v *JWTVerifier) { v.audience = audience }
}

func WithLeeway(leeway time.Duration) Option {
	return func(v *JWTVerifier) { v.leeway = leeway }
}

// WithIdentityClaim names the claim holding the identity. Only the default
// claim falls back to user_id and id.
func WithIdentityClaim(claim string) Option {
	return func(v *JWTVerifier) {
		if claim != "" {
			v.claim = claim
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *JWTVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

func NewJWTVerifier(secret string, opts ...Option) (*JWTVerifier, error) {
	if secret == "" {
		return nil, ErrNoSigningKey
	}
	v := &JWTVerifier{
		key:   []byte(secret),
		claim: DefaultIdentityClaim,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *JWTVerifier) parser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	return jwt.NewParser(opts...)
}

// Verify implements registry.Verifier.
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", registry.ErrVerifierUnavailable, err)
	}

	claims := jwt.MapClaims{}
	_, err := v.parser().ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		return "", classify(err)
	}

	identity, ok := v.identity(claims)
	if !ok {
		return "", fmt.Errorf("claim %v: %w", v.claim, registry.ErrMissingIdentity)
	}
	return identity, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", registry.ErrMalformedCredential, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", registry.ErrExpiredCredential, err)
	default:
		return fmt.Errorf("%w: %w", registry.ErrInvalidCredential, err)
	}
}

func (v *JWTVerifier) identity(claims jwt.MapClaims) (string, bool) {
	if id, ok := claimString(claims[v.claim]); ok {
		return id, true
	}
	if v.claim != DefaultIdentityClaim {
		return "", false
	}
	for _, name := range fallbackClaims {
		if id, ok := claimString(claims[name]); ok {
			return id, true
		}
	}
	return "", false
}

// claimString accepts string claims and integral numeric claims.
func claimString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, v != ""
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Issue mints a token for identity valid for ttl.
func (v *JWTVerifier) Issue(identity string, ttl time.Duration) (string, error) {
	if identity == "" {
		return "", registry.ErrMissingIdentity
	}
	if ttl <= 0 {
		return "", fmt.Errorf("invalid ttl %v", ttl)
	}

	now := v.now()
	claims := jwt.MapClaims{
		v.claim: identity,
		"iat":   jwt.NewNumericDate(now),
		"exp":   jwt.NewNumericDate(now.Add(ttl)),
		"jti":   uuid.NewString(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	if v.audience != "" {
		claims["aud"] = v.audience
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token for %v: %w", identity, err)
	}
	return signed, nil
}
