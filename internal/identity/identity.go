// Package identity turns an Authorization header into a caller identity.
//
// Resolution never fails: missing or rejected credentials produce an anonymous Identity
// carrying the reason, and each endpoint decides whether anonymity is acceptable.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/punchamoorthee/creditgate/internal/domain"
)

// Verifier checks a bearer token and returns the stable user id it belongs to.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (string, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (string, error) { return f(ctx, token) }

// Identity is the resolved caller. The zero value is anonymous.
type Identity struct {
	UserID string
	// Reason is set when credentials were presented but rejected.
	Reason error
}

func (i Identity) Authenticated() bool { return i.UserID != "" }

var errMissingCredentials = fmt.Errorf("%w: no bearer token", domain.ErrUnauthenticated)

// BearerToken extracts the token from "Bearer <token>".
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Resolve verifies the header if present. It never returns an error.
func Resolve(ctx context.Context, v Verifier, authorizationHeader string) Identity {
	if strings.TrimSpace(authorizationHeader) == "" {
		return Identity{}
	}
	token, ok := BearerToken(authorizationHeader)
	if !ok {
		return Identity{Reason: fmt.Errorf("%w: malformed authorization header", domain.ErrUnauthenticated)}
	}
	if v == nil {
		return Identity{Reason: fmt.Errorf("%w: no verifier configured", domain.ErrUnauthenticated)}
	}

	uid, err := v.Verify(ctx, token)
	if err != nil {
		if !errors.Is(err, domain.ErrUnauthenticated) {
			err = fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
		}
		return Identity{Reason: err}
	}
	if uid == "" {
		return Identity{Reason: fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated)}
	}
	return Identity{UserID: uid}
}

// Require is Resolve for endpoints that refuse anonymous callers.
func Require(ctx context.Context, v Verifier, authorizationHeader string) (Identity, error) {
	id := Resolve(ctx, v, authorizationHeader)
	if id.Authenticated() {
		return id, nil
	}
	if id.Reason != nil {
		return id, id.Reason
	}
	return id, errMissingCredentials
}
