package searchproxy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

// Payload field names shared by the backends.
const (
	fieldChunkID    = "chunk_id"
	fieldTitle      = "title"
	fieldContent    = "content"
	fieldSource     = "source"
	fieldDocType    = "doc_type"
	fieldCitation   = "citation"
	fieldOwner      = "owner_fingerprint"
	fieldUploadedAt = "uploaded_at"
	fieldPageCount  = "page_count"
	fieldFileHash   = "file_hash"
)

// StoredChunk is one indexed chunk as the backends persist it. An empty
// OwnerFingerprint marks regulatory content visible to every user.
type StoredChunk struct {
	ID               string
	Title            string
	Content          string
	Source           string
	DocType          string
	Citation         string
	OwnerFingerprint string
	UploadedAt       string
	PageCount        int
	FileHash         string
	Embedding        []float32
}

// Hit is one ranked search result.
type Hit struct {
	StoredChunk
	Score float64
}

// Store is a vector backend. Search implementations compile the
// ownership restriction into the backend's native filter; callers
// cannot widen it.
type Store interface {
	// Search ranks chunks in index by similarity to vector, restricted
	// to regulatory chunks and chunks owned by fingerprint. A non-empty
	// docType narrows the results further.
	Search(ctx context.Context, index string, vector []float32, top int, fingerprint, docType string) ([]Hit, error)

	// Upsert writes chunks to index. Ownership has been authorized
	// before this point.
	Upsert(ctx context.Context, index string, chunks []StoredChunk) error

	// OwnedChunks returns every chunk in index owned by fingerprint.
	OwnedChunks(ctx context.Context, index, fingerprint string) ([]StoredChunk, error)

	// DeleteChunks removes chunks from index by id.
	DeleteChunks(ctx context.Context, index string, ids []string) error

	Name() string
	Close() error
}

// NewStore builds the configured backend. queryDim is the embedding
// dimension, needed by backends that probe with a synthetic vector.
func NewStore(cfg config.SearchProxyConfig, queryDim int) (Store, error) {
	switch cfg.Backend {
	case config.VectorBackendChromem, "":
		return newChromemStore(cfg.Chromem)
	case config.VectorBackendQdrant:
		return newQdrantStore(cfg.Qdrant)
	case config.VectorBackendPinecone:
		return newPineconeStore(cfg.Pinecone, queryDim)
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.Backend)
	}
}

// chunkBaseID strips the -chunk{n} suffix, returning the parent
// document id.
func chunkBaseID(id string) string {
	if i := strings.LastIndex(id, "-chunk"); i >= 0 {
		return id[:i]
	}
	return id
}

// chunkNumber parses the position suffix; chunks without one sort
// first.
func chunkNumber(id string) int {
	i := strings.LastIndex(id, "-chunk")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(id[i+len("-chunk"):])
	if err != nil {
		return 0
	}
	return n
}
