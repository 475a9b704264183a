package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

// HS256Validator validates tokens signed with a shared secret.
type HS256Validator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewHS256Validator creates a shared-secret validator.
func NewHS256Validator(secret, issuer, audience string) (*HS256Validator, error) {
	if secret == "" {
		return nil, fmt.Errorf("hs256 secret is required")
	}
	return &HS256Validator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}, nil
}

var _ Validator = (*HS256Validator)(nil)

// ValidateToken verifies the signature, expiry, and (when configured)
// issuer and audience, then extracts claims.
func (v *HS256Validator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, classifyParseError(err)
	}

	return extractClaims(token)
}

// JWKSValidator validates tokens against a remote key set. The key set
// is cached and refreshed to handle key rotation.
type JWKSValidator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// NewJWKSValidator creates a validator that auto-fetches the key set.
func NewJWKSValidator(ctx context.Context, jwksURL, issuer, audience string) (*JWKSValidator, error) {
	cache := jwk.NewCache(ctx)

	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	// Initial fetch validates the configuration up front.
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWKSValidator{
		jwksURL:  jwksURL,
		cache:    cache,
		issuer:   issuer,
		audience: audience,
	}, nil
}

var _ Validator = (*JWKSValidator)(nil)

// ValidateToken verifies the token against the cached key set.
func (v *JWKSValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, classifyParseError(err)
	}

	return extractClaims(token)
}

// InsecureValidator trusts token claims without signature verification.
// Development only.
type InsecureValidator struct{}

var _ Validator = (*InsecureValidator)(nil)

func (InsecureValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.Parse([]byte(tokenString), jwt.WithVerify(false), jwt.WithValidate(true))
	if err != nil {
		return nil, classifyParseError(err)
	}
	return extractClaims(token)
}

// NewValidator builds the Validator selected by the auth config.
func NewValidator(ctx context.Context, cfg config.AuthConfig) (Validator, error) {
	switch cfg.Mode {
	case config.AuthModeHS256:
		return NewHS256Validator(cfg.Secret, cfg.Issuer, cfg.Audience)
	case config.AuthModeJWKS:
		return NewJWKSValidator(ctx, cfg.JWKSURL, cfg.Issuer, cfg.Audience)
	case config.AuthModeNone:
		return InsecureValidator{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// extractClaims pulls the fingerprint and standard claims from a
// validated token. The fingerprint claim is preferred; sub is the
// fallback identity.
func extractClaims(token jwt.Token) (*Claims, error) {
	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]interface{}),
	}

	if fp, ok := token.Get("fingerprint"); ok {
		if fpStr, ok := fp.(string); ok {
			claims.Fingerprint = fpStr
		}
	}
	if claims.Fingerprint == "" {
		claims.Fingerprint = claims.Subject
	}
	if claims.Fingerprint == "" {
		return nil, ErrMissingFingerprint
	}

	if email, ok := token.Get("email"); ok {
		if emailStr, ok := email.(string); ok {
			claims.Email = emailStr
		}
	}

	ctx := context.Background()
	for iter := token.Iterate(ctx); iter.Next(ctx); {
		pair := iter.Pair()
		key := pair.Key.(string)

		switch key {
		case "sub", "email", "fingerprint", "iss", "aud", "exp", "iat", "nbf":
		default:
			claims.Custom[key] = pair.Value
		}
	}

	return claims, nil
}

// classifyParseError maps jwx parse failures onto the package sentinels
// so callers can distinguish expiry from tampering.
func classifyParseError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "exp") && strings.Contains(msg, "not satisfied") {
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}
