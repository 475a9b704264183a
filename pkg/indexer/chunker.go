package indexer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

// Chunker splits document text into token windows sized for embedding.
// Safe for concurrent use.
type Chunker struct {
	enc       *tiktoken.Tiktoken
	size      int
	overlap   int
	maxChunks int
}

// NewChunker builds a chunker for the configured encoding and window.
func NewChunker(cfg config.IndexConfig) (*Chunker, error) {
	enc, err := tiktoken.GetEncoding(cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %q: %w", cfg.Encoding, err)
	}
	return &Chunker{
		enc:       enc,
		size:      cfg.ChunkTokens,
		overlap:   cfg.ChunkOverlap,
		maxChunks: cfg.MaxChunks,
	}, nil
}

// Chunk splits text into windows of at most size tokens, with overlap
// tokens shared between neighbors. Text that fits in one window is
// returned unmodified. Output is capped at maxChunks windows; anything
// past the cap is dropped.
func (c *Chunker) Chunk(text string) []string {
	if text == "" {
		return nil
	}

	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= c.size {
		return []string{text}
	}

	step := c.size - c.overlap
	chunks := make([]string, 0, (len(tokens)+step-1)/step)
	for start := 0; start < len(tokens); start += step {
		if len(chunks) >= c.maxChunks {
			break
		}
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, c.enc.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// TokenCount returns the number of tokens in text under the chunker's
// encoding.
func (c *Chunker) TokenCount(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
