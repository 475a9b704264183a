package auth

import (
	"context"
	"fmt"
	"net/http"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// HTTPMiddleware validates the Authorization header and stores the
// claims in the request context.
func HTTPMiddleware(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				unauthorized(w, "Authentication required")
				return
			}

			claims, err := v.ValidateToken(r.Context(), token)
			if err != nil {
				unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"detail":%q}`, detail)
}

// GetClaims returns the validated claims stored by HTTPMiddleware, or
// nil when the request was not authenticated.
func GetClaims(r *http.Request) *Claims {
	return GetClaimsFromContext(r.Context())
}

// GetClaimsFromContext returns the validated claims from a context.
func GetClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// WithClaims returns a context carrying claims. Used by the WebSocket
// handshake, which authenticates via query token rather than header.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
