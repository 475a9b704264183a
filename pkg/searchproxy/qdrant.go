package searchproxy

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

const qdrantScrollPageSize = 256

// qdrantStore talks to a Qdrant cluster over gRPC. The ownership rule
// is pushed into the server-side filter: owner_fingerprint absent OR
// equal to the caller's fingerprint.
type qdrantStore struct {
	client *qdrant.Client

	mu      sync.Mutex // serializes collection creation
	created map[string]bool
}

func newQdrantStore(cfg config.QdrantConfig) (*qdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	return &qdrantStore{
		client:  client,
		created: make(map[string]bool),
	}, nil
}

func (s *qdrantStore) Name() string { return "qdrant" }

// pointID derives a deterministic UUID from a chunk id. Qdrant only
// accepts UUIDs or unsigned integers as point ids, so the original
// chunk id travels in the payload instead.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func (s *qdrantStore) ensureCollection(ctx context.Context, index string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.created[index] {
		return nil
	}
	exists, err := s.client.CollectionExists(ctx, index)
	if err != nil {
		return fmt.Errorf("failed to check collection %q: %w", index, err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: index,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create collection %q: %w", index, err)
		}
	}
	s.created[index] = true
	return nil
}

func chunkPayload(c StoredChunk) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		fieldChunkID: qdrant.NewValueString(c.ID),
		fieldTitle:   qdrant.NewValueString(c.Title),
		fieldContent: qdrant.NewValueString(c.Content),
		fieldDocType: qdrant.NewValueString(c.DocType),
	}
	if c.Source != "" {
		payload[fieldSource] = qdrant.NewValueString(c.Source)
	}
	if c.Citation != "" {
		payload[fieldCitation] = qdrant.NewValueString(c.Citation)
	}
	if c.OwnerFingerprint != "" {
		payload[fieldOwner] = qdrant.NewValueString(c.OwnerFingerprint)
	}
	if c.UploadedAt != "" {
		payload[fieldUploadedAt] = qdrant.NewValueString(c.UploadedAt)
	}
	if c.PageCount > 0 {
		payload[fieldPageCount] = qdrant.NewValueInt(int64(c.PageCount))
	}
	if c.FileHash != "" {
		payload[fieldFileHash] = qdrant.NewValueString(c.FileHash)
	}
	return payload
}

func chunkFromPayload(payload map[string]*qdrant.Value) StoredChunk {
	var c StoredChunk
	for key, value := range payload {
		switch key {
		case fieldChunkID:
			c.ID = value.GetStringValue()
		case fieldTitle:
			c.Title = value.GetStringValue()
		case fieldContent:
			c.Content = value.GetStringValue()
		case fieldSource:
			c.Source = value.GetStringValue()
		case fieldDocType:
			c.DocType = value.GetStringValue()
		case fieldCitation:
			c.Citation = value.GetStringValue()
		case fieldOwner:
			c.OwnerFingerprint = value.GetStringValue()
		case fieldUploadedAt:
			c.UploadedAt = value.GetStringValue()
		case fieldPageCount:
			c.PageCount = int(value.GetIntegerValue())
		case fieldFileHash:
			c.FileHash = value.GetStringValue()
		}
	}
	return c
}

func matchCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// ownershipCondition admits chunks with no owner_fingerprint key
// (regulatory corpus) or one matching the caller.
func ownershipCondition(fingerprint string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Filter{
			Filter: &qdrant.Filter{
				Should: []*qdrant.Condition{
					{
						ConditionOneOf: &qdrant.Condition_IsEmpty{
							IsEmpty: &qdrant.IsEmptyCondition{Key: fieldOwner},
						},
					},
					matchCondition(fieldOwner, fingerprint),
				},
			},
		},
	}
}

func (s *qdrantStore) Upsert(ctx context.Context, index string, chunks []StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, index, len(chunks[0].Embedding)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(c.ID)),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: chunkPayload(c),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: index,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

func (s *qdrantStore) Search(ctx context.Context, index string, vector []float32, top int, fingerprint, docType string) ([]Hit, error) {
	must := []*qdrant.Condition{ownershipCondition(fingerprint)}
	if docType != "" {
		must = append(must, matchCondition(fieldDocType, docType))
	}

	resp, err := s.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: index,
		Vector:         vector,
		Limit:          uint64(top),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         &qdrant.Filter{Must: must},
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		hits = append(hits, Hit{
			StoredChunk: chunkFromPayload(point.GetPayload()),
			Score:       float64(point.GetScore()),
		})
	}
	return hits, nil
}

func (s *qdrantStore) OwnedChunks(ctx context.Context, index, fingerprint string) ([]StoredChunk, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{matchCondition(fieldOwner, fingerprint)},
	}

	var (
		out    []StoredChunk
		offset *qdrant.PointId
	)
	for {
		resp, err := s.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: index,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(qdrantScrollPageSize)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks: %w", err)
		}
		for _, point := range resp.GetResult() {
			out = append(out, chunkFromPayload(point.GetPayload()))
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return out, nil
		}
	}
}

func (s *qdrantStore) DeleteChunks(ctx context.Context, index string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		points = append(points, qdrant.NewID(pointID(id)))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: index,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: points},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *qdrantStore) Close() error {
	return s.client.Close()
}

var _ Store = (*qdrantStore)(nil)
