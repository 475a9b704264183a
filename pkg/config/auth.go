// Copyright 2026 Tudor Baraboi
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
)

// AuthMode selects how bearer tokens are verified.
type AuthMode string

const (
	AuthModeHS256 AuthMode = "hs256"
	AuthModeJWKS  AuthMode = "jwks"
	AuthModeNone  AuthMode = "none"
)

// AuthConfig configures session token verification.
type AuthConfig struct {
	// Mode selects verification: hs256 (shared secret), jwks (remote key set),
	// or none (development only, trusts the fingerprint claim as-is).
	Mode AuthMode `yaml:"mode,omitempty" json:"mode,omitempty" jsonschema:"title=Mode,description=Token verification mode,enum=hs256,enum=jwks,enum=none,default=hs256"`

	// Secret is the HS256 signing secret. Supports ${VAR} expansion.
	Secret string `yaml:"secret,omitempty" json:"secret,omitempty" jsonschema:"title=Secret,description=HS256 shared secret (use ${ENV_VAR})"`

	// JWKSURL is the remote JSON Web Key Set endpoint for jwks mode.
	JWKSURL string `yaml:"jwks_url,omitempty" json:"jwks_url,omitempty" jsonschema:"title=JWKS URL,description=Remote key set endpoint"`

	// Issuer, when set, must match the token's iss claim.
	Issuer string `yaml:"issuer,omitempty" json:"issuer,omitempty" jsonschema:"title=Issuer,description=Expected iss claim"`

	// Audience, when set, must match the token's aud claim.
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty" jsonschema:"title=Audience,description=Expected aud claim"`

	// ServiceKey authorizes internal callers (null-owner index writes,
	// admin cache endpoints). Supports ${VAR} expansion.
	ServiceKey string `yaml:"service_key,omitempty" json:"service_key,omitempty" jsonschema:"title=Service Key,description=Shared key for internal service calls"`
}

// SetDefaults applies default values.
func (c *AuthConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = AuthModeHS256
	}
	if c.Secret == "" {
		c.Secret = os.Getenv("CFR_AGENTS_JWT_SECRET")
	}
	if c.ServiceKey == "" {
		c.ServiceKey = os.Getenv("CFR_AGENTS_SERVICE_KEY")
	}
}

// Validate checks the auth configuration.
func (c *AuthConfig) Validate() error {
	switch c.Mode {
	case AuthModeHS256:
		if c.Secret == "" {
			return fmt.Errorf("secret is required for hs256 mode")
		}
	case AuthModeJWKS:
		if c.JWKSURL == "" {
			return fmt.Errorf("jwks_url is required for jwks mode")
		}
	case AuthModeNone:
		// Development only.
	default:
		return fmt.Errorf("invalid mode %q (valid: hs256, jwks, none)", c.Mode)
	}
	return nil
}
