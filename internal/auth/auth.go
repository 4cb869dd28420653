// Package auth verifies the bearer tokens presented when a client connects.
//
// Tokens are opaque to the rest of the runtime: a successful verification
// yields an [Identity] and nothing else. Waystone never issues tokens;
// credential issuance belongs to the surrounding platform.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification:
// bad signature, expired, wrong issuer or audience, or missing identity.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is the verified principal behind a session.
type Identity struct {
	// UserID is the stable player identifier. Pub/sub subjects and player
	// views are keyed by it.
	UserID string

	// Email is informational; may be empty.
	Email string

	// IsAdmin gates the @-prefixed admin verbs.
	IsAdmin bool
}

// Verifier validates a bearer token into an [Identity].
type Verifier interface {
	// Verify returns the identity encoded in token, or an error wrapping
	// [ErrInvalidToken]. The context covers implementations that need a
	// network round trip; the JWT verifier ignores it.
	Verify(ctx context.Context, token string) (Identity, error)
}

// tokenClaims is the claim set Waystone understands. UserID falls back to
// the registered subject claim when absent.
type tokenClaims struct {
	UserID  string `json:"user_id,omitempty"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256-signed JWTs against a shared HMAC key.
type JWTVerifier struct {
	key      []byte
	issuer   string
	audience string
	leeway   time.Duration
}

// Option configures a [JWTVerifier].
type Option func(*JWTVerifier)

// WithIssuer requires the token's iss claim to equal issuer.
// An empty issuer disables the check.
func WithIssuer(issuer string) Option {
	return func(v *JWTVerifier) { v.issuer = issuer }
}

// WithAudience requires audience to appear in the token's aud claim.
// An empty audience disables the check.
func WithAudience(audience string) Option {
	return func(v *JWTVerifier) { v.audience = audience }
}

// WithLeeway tolerates clock skew of up to d when checking time claims.
func WithLeeway(d time.Duration) Option {
	return func(v *JWTVerifier) { v.leeway = d }
}

// NewJWTVerifier creates a verifier for HS256 tokens signed with key.
func NewJWTVerifier(key []byte, opts ...Option) *JWTVerifier {
	v := &JWTVerifier{key: key}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify implements [Verifier].
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}
	if v.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(v.leeway))
	}

	claims := &tokenClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, v.keyFunc, parserOpts...); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: no user id claim", ErrInvalidToken)
	}

	return Identity{
		UserID:  userID,
		Email:   claims.Email,
		IsAdmin: claims.IsAdmin,
	}, nil
}

func (v *JWTVerifier) keyFunc(*jwt.Token) (any, error) {
	return v.key, nil
}

// Ensure JWTVerifier implements Verifier at compile time.
var _ Verifier = (*JWTVerifier)(nil)
