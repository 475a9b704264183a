package searchproxy

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

// maxOwnedChunks caps the listing query. Personal uploads are limited
// to a handful of documents per user, so this is far above anything a
// single fingerprint can accumulate.
const maxOwnedChunks = 10000

// pineconeStore maps each logical index onto a namespace of a single
// managed Pinecone index. Pinecone has no scroll API, so listing a
// user's chunks is a filtered query with a probe vector.
type pineconeStore struct {
	client   *pinecone.Client
	host     string
	prefix   string
	queryDim int
}

func newPineconeStore(cfg config.PineconeConfig, queryDim int) (*pineconeStore, error) {
	if queryDim <= 0 {
		return nil, fmt.Errorf("pinecone backend requires a known embedding dimension")
	}
	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create pinecone client: %w", err)
	}
	return &pineconeStore{
		client:   client,
		host:     cfg.IndexHost,
		prefix:   cfg.Namespace,
		queryDim: queryDim,
	}, nil
}

func (s *pineconeStore) Name() string { return "pinecone" }

func (s *pineconeStore) namespace(index string) string {
	if s.prefix == "" {
		return index
	}
	return s.prefix + "-" + index
}

func (s *pineconeStore) conn(index string) (*pinecone.IndexConnection, error) {
	conn, err := s.client.Index(pinecone.NewIndexConnParams{
		Host:      s.host,
		Namespace: s.namespace(index),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pinecone index: %w", err)
	}
	return conn, nil
}

func chunkMetadata(c StoredChunk) (*pinecone.Metadata, error) {
	fields := map[string]any{
		fieldTitle:   c.Title,
		fieldContent: c.Content,
		fieldDocType: c.DocType,
	}
	if c.Source != "" {
		fields[fieldSource] = c.Source
	}
	if c.Citation != "" {
		fields[fieldCitation] = c.Citation
	}
	if c.OwnerFingerprint != "" {
		fields[fieldOwner] = c.OwnerFingerprint
	}
	if c.UploadedAt != "" {
		fields[fieldUploadedAt] = c.UploadedAt
	}
	if c.PageCount > 0 {
		fields[fieldPageCount] = c.PageCount
	}
	if c.FileHash != "" {
		fields[fieldFileHash] = c.FileHash
	}
	meta, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build chunk metadata: %w", err)
	}
	return meta, nil
}

func chunkFromMetadata(id string, meta *pinecone.Metadata) StoredChunk {
	c := StoredChunk{ID: id}
	if meta == nil {
		return c
	}
	for key, value := range meta.AsMap() {
		switch key {
		case fieldTitle:
			c.Title, _ = value.(string)
		case fieldContent:
			c.Content, _ = value.(string)
		case fieldSource:
			c.Source, _ = value.(string)
		case fieldDocType:
			c.DocType, _ = value.(string)
		case fieldCitation:
			c.Citation, _ = value.(string)
		case fieldOwner:
			c.OwnerFingerprint, _ = value.(string)
		case fieldUploadedAt:
			c.UploadedAt, _ = value.(string)
		case fieldPageCount:
			if pages, ok := value.(float64); ok {
				c.PageCount = int(pages)
			}
		case fieldFileHash:
			c.FileHash, _ = value.(string)
		}
	}
	return c
}

// ownershipFilter admits chunks without an owner_fingerprint field
// (regulatory corpus) or owned by the caller.
func ownershipFilter(fingerprint, docType string) (*pinecone.MetadataFilter, error) {
	owned := map[string]any{
		"$or": []any{
			map[string]any{fieldOwner: map[string]any{"$exists": false}},
			map[string]any{fieldOwner: map[string]any{"$eq": fingerprint}},
		},
	}
	clause := owned
	if docType != "" {
		clause = map[string]any{
			"$and": []any{
				owned,
				map[string]any{fieldDocType: map[string]any{"$eq": docType}},
			},
		}
	}
	filter, err := structpb.NewStruct(clause)
	if err != nil {
		return nil, fmt.Errorf("failed to build search filter: %w", err)
	}
	return filter, nil
}

func (s *pineconeStore) Upsert(ctx context.Context, index string, chunks []StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	conn, err := s.conn(index)
	if err != nil {
		return err
	}
	defer conn.Close()

	vectors := make([]*pinecone.Vector, 0, len(chunks))
	for _, c := range chunks {
		meta, err := chunkMetadata(c)
		if err != nil {
			return err
		}
		vectors = append(vectors, &pinecone.Vector{
			Id:       c.ID,
			Values:   c.Embedding,
			Metadata: meta,
		})
	}
	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

func (s *pineconeStore) Search(ctx context.Context, index string, vector []float32, top int, fingerprint, docType string) ([]Hit, error) {
	conn, err := s.conn(index)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	filter, err := ownershipFilter(fingerprint, docType)
	if err != nil {
		return nil, err
	}
	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(top),
		MetadataFilter:  filter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match.Vector == nil {
			continue
		}
		hits = append(hits, Hit{
			StoredChunk: chunkFromMetadata(match.Vector.Id, match.Vector.Metadata),
			Score:       float64(match.Score),
		})
	}
	return hits, nil
}

func (s *pineconeStore) OwnedChunks(ctx context.Context, index, fingerprint string) ([]StoredChunk, error) {
	conn, err := s.conn(index)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	filter, err := structpb.NewStruct(map[string]any{
		fieldOwner: map[string]any{"$eq": fingerprint},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build listing filter: %w", err)
	}

	// Pinecone queries need a vector; any direction works since only
	// the filter matters here.
	probe := make([]float32, s.queryDim)
	probe[0] = 1

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          probe,
		TopK:            maxOwnedChunks,
		MetadataFilter:  filter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	out := make([]StoredChunk, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match.Vector == nil {
			continue
		}
		out = append(out, chunkFromMetadata(match.Vector.Id, match.Vector.Metadata))
	}
	return out, nil
}

func (s *pineconeStore) DeleteChunks(ctx context.Context, index string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	conn, err := s.conn(index)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteVectorsById(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *pineconeStore) Close() error { return nil }

var _ Store = (*pineconeStore)(nil)
