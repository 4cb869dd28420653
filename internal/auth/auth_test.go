package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/emberfield/waystone/internal/auth"
)

var testKey = []byte("unit-test-secret")

// signToken builds an HS256 token for the given claims.
func signToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerify_ValidToken(t *testing.T) {
	t.Parallel()

	v := auth.NewJWTVerifier(testKey)
	token := signToken(t, testKey, jwt.MapClaims{
		"user_id":  "u1",
		"email":    "u1@example.com",
		"is_admin": true,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != "u1" {
		t.Errorf("user id: got %q, want %q", id.UserID, "u1")
	}
	if id.Email != "u1@example.com" {
		t.Errorf("email: got %q, want %q", id.Email, "u1@example.com")
	}
	if !id.IsAdmin {
		t.Error("is_admin claim was dropped")
	}
}

func TestVerify_SubjectFallback(t *testing.T) {
	t.Parallel()

	v := auth.NewJWTVerifier(testKey)
	token := signToken(t, testKey, jwt.MapClaims{
		"sub": "subject-user",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != "subject-user" {
		t.Errorf("user id: got %q, want sub fallback", id.UserID)
	}
	if id.IsAdmin {
		t.Error("token without is_admin must not be admin")
	}
}

func TestVerify_Rejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		v     *auth.JWTVerifier
		token func(t *testing.T) string
	}{
		{
			name:  "empty token",
			v:     auth.NewJWTVerifier(testKey),
			token: func(t *testing.T) string { return "" },
		},
		{
			name:  "garbage token",
			v:     auth.NewJWTVerifier(testKey),
			token: func(t *testing.T) string { return "not.a.jwt" },
		},
		{
			name: "wrong key",
			v:    auth.NewJWTVerifier(testKey),
			token: func(t *testing.T) string {
				return signToken(t, []byte("other-key"), jwt.MapClaims{"user_id": "u1"})
			},
		},
		{
			name: "expired",
			v:    auth.NewJWTVerifier(testKey),
			token: func(t *testing.T) string {
				return signToken(t, testKey, jwt.MapClaims{
					"user_id": "u1",
					"exp":     time.Now().Add(-time.Hour).Unix(),
				})
			},
		},
		{
			name: "no identity claim",
			v:    auth.NewJWTVerifier(testKey),
			token: func(t *testing.T) string {
				return signToken(t, testKey, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
			},
		},
		{
			name: "wrong issuer",
			v:    auth.NewJWTVerifier(testKey, auth.WithIssuer("waystone")),
			token: func(t *testing.T) string {
				return signToken(t, testKey, jwt.MapClaims{"user_id": "u1", "iss": "someone-else"})
			},
		},
		{
			name: "wrong audience",
			v:    auth.NewJWTVerifier(testKey, auth.WithAudience("runtime")),
			token: func(t *testing.T) string {
				return signToken(t, testKey, jwt.MapClaims{"user_id": "u1", "aud": "dashboard"})
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := tc.v.Verify(context.Background(), tc.token(t))
			if !errors.Is(err, auth.ErrInvalidToken) {
				t.Errorf("got %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestVerify_IssuerAndAudienceAccepted(t *testing.T) {
	t.Parallel()

	v := auth.NewJWTVerifier(testKey, auth.WithIssuer("waystone"), auth.WithAudience("runtime"))
	token := signToken(t, testKey, jwt.MapClaims{
		"user_id": "u1",
		"iss":     "waystone",
		"aud":     "runtime",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(context.Background(), token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVerify_Leeway(t *testing.T) {
	t.Parallel()

	v := auth.NewJWTVerifier(testKey, auth.WithLeeway(2*time.Minute))
	token := signToken(t, testKey, jwt.MapClaims{
		"user_id": "u1",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})

	if _, err := v.Verify(context.Background(), token); err != nil {
		t.Fatalf("token inside leeway window should verify, got %v", err)
	}
}
