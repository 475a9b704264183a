// Package embedder turns text into vectors for the search proxy.
package embedder

import (
	"context"
	"fmt"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

// Embedder produces embeddings. Queries and documents embed
// differently on models that distinguish input types, so the two
// paths are separate.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
	Close() error
}

// New builds the configured embedder.
func New(cfg config.EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case config.EmbedderProviderCohere, "":
		return NewCohereEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", cfg.Provider)
	}
}
