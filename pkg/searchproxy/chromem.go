package searchproxy

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

const chromemCatalogFile = "catalog.gob"

// chromemStore is the embedded zero-config backend. chromem ranks by
// cosine similarity but cannot enumerate documents or express the
// null-or-match ownership rule in its metadata filters, so a catalog
// rides alongside it: every chunk's fields keyed by index and id, with
// the ownership predicate applied in-process after ranking.
type chromemStore struct {
	db     *chromem.DB
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	cols    map[string]*chromem.Collection
	catalog map[string]map[string]StoredChunk
}

func newChromemStore(cfg config.ChromemConfig) (*chromemStore, error) {
	s := &chromemStore{
		path:    cfg.Path,
		logger:  slog.Default().With("component", "searchproxy"),
		cols:    make(map[string]*chromem.Collection),
		catalog: make(map[string]map[string]StoredChunk),
	}

	if cfg.Path == "" {
		s.db = chromem.NewDB()
		return s, nil
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chromem directory: %w", err)
	}

	db, err := chromem.NewPersistentDB(filepath.Join(cfg.Path, "vectors"), false)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	s.db = db

	if err := s.loadCatalog(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *chromemStore) Name() string { return "chromem" }

// collection opens or creates the chromem collection for an index.
// Chunks always arrive with precomputed embeddings, so the embedding
// function only exists to satisfy the collection constructor.
func (s *chromemStore) collection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.cols[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.cols[name]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(name, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chunks must arrive with precomputed embeddings")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %q: %w", name, err)
	}
	s.cols[name] = col
	return col, nil
}

func (s *chromemStore) Upsert(ctx context.Context, index string, chunks []StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	col, err := s.collection(index)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		meta := map[string]string{fieldDocType: c.DocType}
		if c.OwnerFingerprint != "" {
			meta[fieldOwner] = c.OwnerFingerprint
		}
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  meta,
			Embedding: c.Embedding,
		})
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.catalog[index]
	if byID == nil {
		byID = make(map[string]StoredChunk, len(chunks))
		s.catalog[index] = byID
	}
	for _, c := range chunks {
		c.Embedding = nil
		byID[c.ID] = c
	}
	if err := s.persistCatalogLocked(); err != nil {
		s.logger.Warn("Failed to persist chunk catalog", "error", err)
	}
	return nil
}

func (s *chromemStore) Search(ctx context.Context, index string, vector []float32, top int, fingerprint, docType string) ([]Hit, error) {
	col, err := s.collection(index)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	count := len(s.catalog[index])
	s.mu.RUnlock()
	if count == 0 {
		return nil, nil
	}

	// Rank everything, then apply the ownership predicate before
	// cutting to top.
	results, err := col.QueryEmbedding(ctx, vector, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.catalog[index]

	hits := make([]Hit, 0, top)
	for _, r := range results {
		c, ok := byID[r.ID]
		if !ok {
			continue
		}
		if c.OwnerFingerprint != "" && c.OwnerFingerprint != fingerprint {
			continue
		}
		if docType != "" && c.DocType != docType {
			continue
		}
		hits = append(hits, Hit{StoredChunk: c, Score: float64(r.Similarity)})
		if len(hits) == top {
			break
		}
	}
	return hits, nil
}

func (s *chromemStore) OwnedChunks(ctx context.Context, index, fingerprint string) ([]StoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []StoredChunk
	for _, c := range s.catalog[index] {
		if c.OwnerFingerprint == fingerprint {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *chromemStore) DeleteChunks(ctx context.Context, index string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := s.collection(index)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.catalog[index], id)
	}
	if err := s.persistCatalogLocked(); err != nil {
		s.logger.Warn("Failed to persist chunk catalog", "error", err)
	}
	return nil
}

func (s *chromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistCatalogLocked()
}

func (s *chromemStore) loadCatalog() error {
	if s.path == "" {
		return nil
	}
	f, err := os.Open(filepath.Join(s.path, chromemCatalogFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open chunk catalog: %w", err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(&s.catalog); err != nil {
		return fmt.Errorf("failed to decode chunk catalog: %w", err)
	}
	return nil
}

// persistCatalogLocked writes the catalog atomically. chromem persists
// its own vectors incrementally; only the catalog is ours to save.
func (s *chromemStore) persistCatalogLocked() error {
	if s.path == "" {
		return nil
	}
	target := filepath.Join(s.path, chromemCatalogFile)
	tmp := target + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to write chunk catalog: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(s.catalog); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode chunk catalog: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

var _ Store = (*chromemStore)(nil)
