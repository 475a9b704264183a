// Package auth verifies session tokens and extracts the user
// fingerprint that scopes all per-user state.
package auth

import (
	"context"
	"fmt"
	"strings"
)

// Claims are the verified session token claims. Fingerprint is the
// stable per-user identity every conversation, quota counter, and
// personal document is scoped by. It is never accepted from client
// input, only extracted here from a validated token.
type Claims struct {
	// Fingerprint is the user identity claim.
	Fingerprint string

	// Subject is the token's sub claim.
	Subject string

	// Email, when the token carries one.
	Email string

	// Custom holds all other non-standard claims.
	Custom map[string]interface{}
}

// Validator verifies a bearer token and returns its claims.
//
// Implementations must be safe for concurrent use.
type Validator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer x"
// header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrUnauthorized
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", fmt.Errorf("%w: expected Bearer <token>", ErrInvalidToken)
	}
	return token, nil
}
