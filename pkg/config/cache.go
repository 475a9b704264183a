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

import "fmt"

// CacheBackend identifies the blob cache backend.
type CacheBackend string

const (
	CacheBackendFS     CacheBackend = "fs"
	CacheBackendSQLite CacheBackend = "sqlite"
)

// CacheConfig configures the write-through document cache.
type CacheConfig struct {
	// Enabled bypasses the cache when false (testing only).
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,description=Bypass the cache when false,default=true"`

	// Backend selects the blob store: fs (one file per blob) or sqlite.
	Backend CacheBackend `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"title=Backend,description=Blob store backend,enum=fs,enum=sqlite,default=fs"`

	// Path is the root directory (fs) or database file (sqlite).
	Path string `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"title=Path,description=Cache root directory or database file,default=./data/cache"`
}

// SetDefaults applies default values.
func (c *CacheConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Backend == "" {
		c.Backend = CacheBackendFS
	}
	if c.Path == "" {
		switch c.Backend {
		case CacheBackendSQLite:
			c.Path = "./data/cache.db"
		default:
			c.Path = "./data/cache"
		}
	}
}

// Validate checks the cache configuration.
func (c *CacheConfig) Validate() error {
	switch c.Backend {
	case CacheBackendFS, CacheBackendSQLite:
	default:
		return fmt.Errorf("invalid backend %q (valid: fs, sqlite)", c.Backend)
	}
	return nil
}

// IndexConfig configures background vector indexing of cached documents.
type IndexConfig struct {
	// AutoOnSecondHit gates promotion: a cached document is scheduled for
	// indexing when it is served from cache and not yet indexed.
	AutoOnSecondHit *bool `yaml:"auto_on_second_hit,omitempty" json:"auto_on_second_hit,omitempty" jsonschema:"title=Auto On Second Hit,description=Schedule indexing on first cache hit,default=true"`

	// Workers is the background pool size.
	Workers int `yaml:"workers,omitempty" json:"workers,omitempty" jsonschema:"title=Workers,description=Indexing worker count,minimum=1,default=4"`

	// QueueSize bounds the pending task queue.
	QueueSize int `yaml:"queue_size,omitempty" json:"queue_size,omitempty" jsonschema:"title=Queue Size,description=Pending task queue bound,minimum=1,default=64"`

	// ChunkTokens is the maximum tokens per chunk.
	ChunkTokens int `yaml:"chunk_tokens,omitempty" json:"chunk_tokens,omitempty" jsonschema:"title=Chunk Tokens,description=Max tokens per chunk,minimum=1,default=1000"`

	// ChunkOverlap is the token overlap between adjacent chunks.
	ChunkOverlap int `yaml:"chunk_overlap,omitempty" json:"chunk_overlap,omitempty" jsonschema:"title=Chunk Overlap,description=Token overlap between chunks,minimum=0,default=100"`

	// MaxChunks caps chunks per document; longer documents are truncated.
	MaxChunks int `yaml:"max_chunks,omitempty" json:"max_chunks,omitempty" jsonschema:"title=Max Chunks,description=Max chunks per document,minimum=1,default=100"`

	// Encoding is the tiktoken encoding used for token counting.
	Encoding string `yaml:"encoding,omitempty" json:"encoding,omitempty" jsonschema:"title=Encoding,description=Tokenizer encoding,default=cl100k_base"`
}

// SetDefaults applies default values.
func (c *IndexConfig) SetDefaults() {
	if c.AutoOnSecondHit == nil {
		c.AutoOnSecondHit = BoolPtr(true)
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}
	if c.ChunkTokens == 0 {
		c.ChunkTokens = 1000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 100
	}
	if c.MaxChunks == 0 {
		c.MaxChunks = 100
	}
	if c.Encoding == "" {
		c.Encoding = "cl100k_base"
	}
}

// Validate checks the index configuration.
func (c *IndexConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive")
	}
	if c.ChunkOverlap >= c.ChunkTokens {
		return fmt.Errorf("chunk_overlap (%d) must be less than chunk_tokens (%d)", c.ChunkOverlap, c.ChunkTokens)
	}
	return nil
}
