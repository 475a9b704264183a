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
	"time"
)

// LLMProvider identifies the completion adapter.
type LLMProvider string

const (
	LLMProviderAnthropic LLMProvider = "anthropic"
)

// LLMConfig configures the completion provider.
type LLMConfig struct {
	// Provider is the completion adapter id.
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Completion provider,enum=anthropic,default=anthropic"`

	// Model name (e.g., "claude-sonnet-4-20250514").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model identifier"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for authentication (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom base URL for API endpoint"`

	// Temperature for generation (0.0 - 1.0).
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,description=Sampling temperature,minimum=0,maximum=1,default=0.3"`

	// MaxTokens limits response length per round.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,description=Maximum tokens to generate,minimum=1,default=4096"`

	// ReasoningBudget is the token budget for extended thinking.
	// Zero disables reasoning.
	ReasoningBudget int `yaml:"reasoning_budget,omitempty" json:"reasoning_budget,omitempty" jsonschema:"title=Reasoning Budget,description=Tokens allotted to extended thinking (0 disables),minimum=0"`

	// Timeout per streaming request.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-request timeout,default=60s"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = LLMProviderAnthropic
	}
	if c.Model == "" {
		c.Model = "claude-sonnet-4-20250514"
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.3)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	if c.Provider != LLMProviderAnthropic {
		return fmt.Errorf("invalid provider %q (valid: anthropic)", c.Provider)
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required (set ANTHROPIC_API_KEY)")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if c.ReasoningBudget < 0 {
		return fmt.Errorf("reasoning_budget must be non-negative")
	}
	return nil
}
