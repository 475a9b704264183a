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

// VectorBackend identifies the vector store behind the search proxy.
type VectorBackend string

const (
	VectorBackendChromem  VectorBackend = "chromem"
	VectorBackendQdrant   VectorBackend = "qdrant"
	VectorBackendPinecone VectorBackend = "pinecone"
)

// SearchProxyConfig configures the fingerprint-enforcing search proxy.
type SearchProxyConfig struct {
	// URL of the proxy as seen by the orchestrator's tools.
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=URL,description=Search proxy base URL,default=http://127.0.0.1:8081"`

	// ServiceKey authorizes regulatory (null-owner) index writes. Both
	// sides read it: the proxy checks the X-Service-Key header against
	// it, and the indexer sends it.
	ServiceKey string `yaml:"service_key,omitempty" json:"service_key,omitempty" jsonschema:"title=Service Key,description=Credential for regulatory index writes (use ${ENV_VAR})"`

	// Timeout for proxy API calls made by the backend.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Proxy request timeout,default=30s"`

	// Host to bind the proxy listener to.
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=Proxy bind address,default=127.0.0.1"`

	// Port to bind the proxy listener to.
	Port int `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port,description=Proxy listen port,minimum=1,maximum=65535,default=8081"`

	// Backend selects the vector store.
	Backend VectorBackend `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"title=Backend,description=Vector store backend,enum=chromem,enum=qdrant,enum=pinecone,default=chromem"`

	// TopK is the default result count for searches.
	TopK int `yaml:"top_k,omitempty" json:"top_k,omitempty" jsonschema:"title=Top K,description=Default search result count,minimum=1,default=5"`

	// Chromem configures the embedded store.
	Chromem ChromemConfig `yaml:"chromem,omitempty" json:"chromem,omitempty"`

	// Qdrant configures a qdrant backend.
	Qdrant QdrantConfig `yaml:"qdrant,omitempty" json:"qdrant,omitempty"`

	// Pinecone configures a pinecone backend.
	Pinecone PineconeConfig `yaml:"pinecone,omitempty" json:"pinecone,omitempty"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps data in memory.
	Path string `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"title=Path,description=Persistence directory (empty for in-memory)"`
}

// QdrantConfig configures a qdrant vector store.
type QdrantConfig struct {
	Host   string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=Qdrant host,default=localhost"`
	Port   int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port,description=Qdrant gRPC port,default=6334"`
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=Qdrant API key (use ${ENV_VAR})"`
	UseTLS bool   `yaml:"use_tls,omitempty" json:"use_tls,omitempty" jsonschema:"title=Use TLS,description=Connect with TLS"`
}

// PineconeConfig configures a pinecone vector store.
type PineconeConfig struct {
	APIKey    string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=Pinecone API key (use ${ENV_VAR})"`
	IndexHost string `yaml:"index_host,omitempty" json:"index_host,omitempty" jsonschema:"title=Index Host,description=Pinecone index host URL"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty" jsonschema:"title=Namespace,description=Pinecone namespace"`
}

// SetDefaults applies default values.
func (c *SearchProxyConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8081
	}
	if c.URL == "" {
		c.URL = fmt.Sprintf("http://%s:%d", c.Host, c.Port)
	}
	if c.ServiceKey == "" {
		c.ServiceKey = os.Getenv("SEARCH_PROXY_SERVICE_KEY")
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Backend == "" {
		c.Backend = VectorBackendChromem
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Pinecone.APIKey == "" {
		c.Pinecone.APIKey = os.Getenv("PINECONE_API_KEY")
	}
}

// Validate checks the search proxy configuration.
func (c *SearchProxyConfig) Validate() error {
	switch c.Backend {
	case VectorBackendChromem:
	case VectorBackendQdrant:
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant.host is required for qdrant backend")
		}
	case VectorBackendPinecone:
		if c.Pinecone.APIKey == "" {
			return fmt.Errorf("pinecone.api_key is required for pinecone backend")
		}
		if c.Pinecone.IndexHost == "" {
			return fmt.Errorf("pinecone.index_host is required for pinecone backend")
		}
	default:
		return fmt.Errorf("invalid backend %q (valid: chromem, qdrant, pinecone)", c.Backend)
	}
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// Addr returns the host:port listen address for the proxy.
func (c *SearchProxyConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
