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

// EmbedderProvider identifies the embedding adapter.
type EmbedderProvider string

const (
	EmbedderProviderCohere EmbedderProvider = "cohere"
)

// EmbedderConfig configures the text embedding provider used by the
// indexer and the search proxy.
type EmbedderConfig struct {
	// Provider type.
	Provider EmbedderProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Embedding provider,enum=cohere,default=cohere"`

	// Model name.
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Embedding model,default=embed-english-v3.0"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom API endpoint"`

	// Dimensions of the output vectors.
	Dimensions int `yaml:"dimensions,omitempty" json:"dimensions,omitempty" jsonschema:"title=Dimensions,description=Vector dimensionality,minimum=1,default=1024"`

	// Timeout per embedding request.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-request timeout,default=30s"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = EmbedderProviderCohere
	}
	if c.Model == "" {
		c.Model = "embed-english-v3.0"
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("COHERE_API_KEY")
	}
	if c.Dimensions == 0 {
		c.Dimensions = 1024
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks the embedder configuration.
func (c *EmbedderConfig) Validate() error {
	if c.Provider != EmbedderProviderCohere {
		return fmt.Errorf("invalid provider %q (valid: cohere)", c.Provider)
	}
	if c.Dimensions < 1 {
		return fmt.Errorf("dimensions must be positive")
	}
	return nil
}
