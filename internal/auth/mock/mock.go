// Package mock provides a test double for the auth.Verifier interface.
//
// Use Verifier in unit tests to accept or reject tokens without minting
// real JWTs. All fields are safe to set before calling any method; mutating
// them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	v := &mock.Verifier{
//	    IdentityResult: auth.Identity{UserID: "u1"},
//	}
//	id, err := v.Verify(ctx, "any-token")
package mock

import (
	"context"
	"sync"

	"github.com/emberfield/waystone/internal/auth"
)

// VerifyCall records a single invocation of Verify.
type VerifyCall struct {
	// Token is the bearer token passed to Verify.
	Token string
}

// Verifier is a mock implementation of auth.Verifier.
// Zero values cause Verify to return a zero Identity and nil error.
// Set Err to inject a verification failure.
type Verifier struct {
	mu sync.Mutex

	// IdentityResult is returned by Verify when Err is nil.
	IdentityResult auth.Identity

	// Err, if non-nil, is returned as the error from Verify.
	Err error

	// Identities, if non-nil, overrides IdentityResult per token. Tokens
	// absent from the map fail with Err (or auth.ErrInvalidToken).
	Identities map[string]auth.Identity

	// VerifyCalls records every invocation of Verify in order.
	VerifyCalls []VerifyCall
}

// Verify records the call and returns the configured identity or error.
func (v *Verifier) Verify(_ context.Context, token string) (auth.Identity, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.VerifyCalls = append(v.VerifyCalls, VerifyCall{Token: token})

	if v.Identities != nil {
		id, ok := v.Identities[token]
		if !ok {
			if v.Err != nil {
				return auth.Identity{}, v.Err
			}
			return auth.Identity{}, auth.ErrInvalidToken
		}
		return id, nil
	}
	if v.Err != nil {
		return auth.Identity{}, v.Err
	}
	return v.IdentityResult, nil
}

// Reset clears all recorded calls. Thread-safe.
func (v *Verifier) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.VerifyCalls = nil
}

// Ensure Verifier implements auth.Verifier at compile time.
var _ auth.Verifier = (*Verifier)(nil)
