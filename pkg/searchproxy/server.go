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

// Package searchproxy is the service that stands between the backend
// and the vector store. It holds the store credentials, compiles the
// ownership filter into every query (chunks with no owner are the
// shared regulatory corpus; owned chunks are visible only to their
// owner's fingerprint), and gates index writes: user uploads must
// carry the uploader's own fingerprint, and writes to the shared
// corpus require the service key.
package searchproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/observability"
	"github.com/tudor-baraboi/cfr-agents/pkg/proxyclient"
)

const (
	minFingerprintLen = 10
	maxSearchTop      = 20
	searchContentCap  = 1000

	serviceKeyHeader = "X-Service-Key"
)

// queryEmbedder generates the query vector for semantic search.
type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Server serves the search proxy API.
type Server struct {
	cfg     config.SearchProxyConfig
	store   Store
	embed   queryEmbedder
	indexes []string
	valid   map[string]bool
	logger  *slog.Logger

	http *http.Server
}

// NewServer wires the proxy over a store. indexes is the set of index
// names requests may address; anything else is rejected up front.
func NewServer(cfg config.SearchProxyConfig, store Store, embedder queryEmbedder, indexes []string) *Server {
	sorted := make([]string, len(indexes))
	copy(sorted, indexes)
	sort.Strings(sorted)

	valid := make(map[string]bool, len(sorted))
	for _, name := range sorted {
		valid[name] = true
	}

	return &Server{
		cfg:     cfg,
		store:   store,
		embed:   embedder,
		indexes: sorted,
		valid:   valid,
		logger:  slog.Default().With("component", "searchproxy"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observability.HTTPMiddleware(
		observability.GetTracer("cfr_agents.searchproxy"),
		observability.GetGlobalMetrics(),
	))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/search", s.handleSearch)
	r.Post("/index", s.handleIndex)
	r.Get("/documents", s.handleListDocuments)
	r.Get("/documents/{documentID}/content", s.handleDocumentContent)
	r.Delete("/documents/{documentID}", s.handleDeleteDocument)

	return r
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Search proxy listening",
		"addr", s.cfg.Addr(),
		"backend", s.store.Name(),
		"indexes", strings.Join(s.indexes, ","))

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "search-proxy",
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req proxyclient.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Top == 0 {
		req.Top = s.cfg.TopK
	}
	if err := validateSearchRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.valid[req.Index] {
		writeError(w, http.StatusBadRequest, s.invalidIndex(req.Index))
		return
	}
	if s.embed == nil {
		writeError(w, http.StatusServiceUnavailable, "Embedding service not configured")
		return
	}

	vector, err := s.embed.EmbedQuery(r.Context(), req.Query)
	if err != nil {
		s.logger.Error("Query embedding failed", "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("Search error: %v", err))
		return
	}

	hits, err := s.store.Search(r.Context(), req.Index, vector, req.Top, req.Fingerprint, req.DocType)
	if err != nil {
		s.logger.Error("Search failed", "index", req.Index, "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("Search error: %v", err))
		return
	}

	results := make([]proxyclient.SearchHit, 0, len(hits))
	for _, h := range hits {
		results = append(results, proxyclient.SearchHit{
			ID:               h.ID,
			Title:            h.Title,
			Content:          truncateRunes(h.Content, searchContentCap),
			Source:           h.Source,
			DocType:          h.DocType,
			Citation:         h.Citation,
			OwnerFingerprint: h.OwnerFingerprint,
			Score:            h.Score,
		})
	}
	writeJSON(w, http.StatusOK, proxyclient.SearchResponse{
		Results:    results,
		TotalCount: len(results),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req proxyclient.IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validateIndexRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.valid[req.Index] {
		writeError(w, http.StatusBadRequest, s.invalidIndex(req.Index))
		return
	}

	serviceKeyOK := s.cfg.ServiceKey != "" && r.Header.Get(serviceKeyHeader) == s.cfg.ServiceKey

	chunks := make([]StoredChunk, 0, len(req.Documents))
	for _, doc := range req.Documents {
		owner := ""
		if doc.OwnerFingerprint != nil {
			owner = *doc.OwnerFingerprint
		}
		if owner == "" {
			// Shared regulatory corpus. Only the indexing service
			// may write chunks visible to everyone.
			if !serviceKeyOK {
				s.logger.Error("Rejected regulatory index write without service key",
					"index", req.Index, "document_id", doc.ID)
				writeError(w, http.StatusForbidden,
					"Cannot upload documents with null owner_fingerprint (regulatory docs protected)")
				return
			}
		} else if owner != req.Fingerprint {
			s.logger.Error("Rejected index write for mismatched fingerprint",
				"index", req.Index, "document_id", doc.ID)
			writeError(w, http.StatusForbidden,
				"Document fingerprint mismatch. Cannot upload documents for other users.")
			return
		}
		if doc.ID == "" {
			writeError(w, http.StatusBadRequest, "Document is missing an id")
			return
		}
		if len(doc.Embedding) == 0 {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Document '%s' is missing an embedding", doc.ID))
			return
		}

		chunks = append(chunks, StoredChunk{
			ID:               doc.ID,
			Title:            doc.Title,
			Content:          doc.Content,
			Source:           doc.Source,
			DocType:          doc.DocType,
			Citation:         doc.Citation,
			OwnerFingerprint: owner,
			UploadedAt:       doc.UploadedAt,
			PageCount:        doc.PageCount,
			FileHash:         doc.FileHash,
			Embedding:        doc.Embedding,
		})
	}

	if err := s.store.Upsert(r.Context(), req.Index, chunks); err != nil {
		s.logger.Error("Index write failed", "index", req.Index, "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("Index error: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, proxyclient.IndexResult{
		IndexedCount: len(chunks),
		FailedCount:  0,
		Errors:       []string{},
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	index := r.URL.Query().Get("index")
	fingerprint := r.URL.Query().Get("fingerprint")
	if !s.valid[index] {
		writeError(w, http.StatusBadRequest, s.invalidIndex(index))
		return
	}
	if len(fingerprint) < minFingerprintLen {
		writeError(w, http.StatusBadRequest, "Invalid fingerprint (too short)")
		return
	}

	chunks, err := s.store.OwnedChunks(r.Context(), index, fingerprint)
	if err != nil {
		s.logger.Error("Document listing failed", "index", index, "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("Search error: %v", err))
		return
	}

	docs := groupDocuments(chunks)
	writeJSON(w, http.StatusOK, proxyclient.DocumentList{
		Documents:  docs,
		TotalCount: len(docs),
	})
}

func (s *Server) handleDocumentContent(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	index := r.URL.Query().Get("index")
	fingerprint := r.URL.Query().Get("fingerprint")
	if !s.valid[index] {
		writeError(w, http.StatusBadRequest, s.invalidIndex(index))
		return
	}
	if len(fingerprint) < minFingerprintLen {
		writeError(w, http.StatusBadRequest, "Invalid fingerprint (too short)")
		return
	}

	chunks, err := s.store.OwnedChunks(r.Context(), index, fingerprint)
	if err != nil {
		s.logger.Error("Document fetch failed", "index", index, "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("Search error: %v", err))
		return
	}

	matched := matchDocument(chunks, documentID)
	if len(matched) == 0 {
		writeError(w, http.StatusNotFound, "Document not found")
		return
	}
	sort.Slice(matched, func(i, j int) bool {
		return chunkNumber(matched[i].ID) < chunkNumber(matched[j].ID)
	})

	parts := make([]string, 0, len(matched))
	for _, c := range matched {
		parts = append(parts, c.Content)
	}
	content := strings.Join(parts, "\n\n")

	s.logger.Info("Fetched document content",
		"document_id", documentID,
		"chunks", len(matched),
		"chars", utf8.RuneCountInString(content))

	writeJSON(w, http.StatusOK, proxyclient.DocumentContent{
		ID:         documentID,
		Title:      matched[0].Title,
		Content:    content,
		PageCount:  matched[0].PageCount,
		ChunkCount: len(matched),
		UploadedAt: matched[0].UploadedAt,
		TotalChars: utf8.RuneCountInString(content),
		Truncated:  false,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	index := r.URL.Query().Get("index")
	fingerprint := r.URL.Query().Get("fingerprint")
	if !s.valid[index] {
		writeError(w, http.StatusBadRequest, s.invalidIndex(index))
		return
	}
	if len(fingerprint) < minFingerprintLen {
		writeError(w, http.StatusBadRequest, "Invalid fingerprint (too short)")
		return
	}

	chunks, err := s.store.OwnedChunks(r.Context(), index, fingerprint)
	if err != nil {
		s.logger.Error("Delete lookup failed", "index", index, "error", err)
		writeError(w, http.StatusBadGateway, "Failed to find document")
		return
	}

	matched := matchDocument(chunks, documentID)
	if len(matched) == 0 {
		writeError(w, http.StatusNotFound, "Document not found")
		return
	}
	ids := make([]string, 0, len(matched))
	for _, c := range matched {
		ids = append(ids, c.ID)
	}

	if err := s.store.DeleteChunks(r.Context(), index, ids); err != nil {
		s.logger.Error("Delete failed", "index", index, "document_id", documentID, "error", err)
		writeError(w, http.StatusBadGateway, "Failed to delete document")
		return
	}

	s.logger.Info("Deleted document", "document_id", documentID, "chunks", len(ids))
	writeJSON(w, http.StatusOK, proxyclient.DeleteResult{
		Status:        "deleted",
		DocumentID:    documentID,
		ChunksDeleted: len(ids),
	})
}

func validateSearchRequest(req *proxyclient.SearchRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Query, validation.Required),
		validation.Field(&req.Fingerprint, validation.Required, validation.Length(minFingerprintLen, 0)),
		validation.Field(&req.Top, validation.Min(1), validation.Max(maxSearchTop)),
	)
}

func validateIndexRequest(req *proxyclient.IndexRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Documents, validation.Required),
		validation.Field(&req.Fingerprint, validation.Length(minFingerprintLen, 0)),
	)
}

func (s *Server) invalidIndex(index string) string {
	return fmt.Sprintf("Invalid index '%s'. Must be one of: %s", index, strings.Join(s.indexes, ", "))
}

// matchDocument selects the chunks belonging to one document: the bare
// id for single-chunk documents, or ids carrying the -chunkN suffix.
func matchDocument(chunks []StoredChunk, documentID string) []StoredChunk {
	var matched []StoredChunk
	for _, c := range chunks {
		if c.ID == documentID || strings.HasPrefix(c.ID, documentID+"-chunk") {
			matched = append(matched, c)
		}
	}
	return matched
}

// groupDocuments folds chunks into per-document entries, newest first.
// Metadata comes from the lowest-numbered chunk of each document.
func groupDocuments(chunks []StoredChunk) []proxyclient.DocumentInfo {
	sorted := make([]StoredChunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool {
		bi, bj := chunkBaseID(sorted[i].ID), chunkBaseID(sorted[j].ID)
		if bi != bj {
			return bi < bj
		}
		return chunkNumber(sorted[i].ID) < chunkNumber(sorted[j].ID)
	})

	byBase := make(map[string]int)
	docs := make([]proxyclient.DocumentInfo, 0)
	for _, c := range sorted {
		base := chunkBaseID(c.ID)
		if i, ok := byBase[base]; ok {
			docs[i].ChunkCount++
			continue
		}
		byBase[base] = len(docs)
		docs = append(docs, proxyclient.DocumentInfo{
			ID:         base,
			Title:      c.Title,
			Filename:   c.Title,
			UploadedAt: c.UploadedAt,
			PageCount:  c.PageCount,
			ChunkCount: 1,
			FileHash:   c.FileHash,
		})
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UploadedAt != docs[j].UploadedAt {
			return docs[i].UploadedAt > docs[j].UploadedAt
		}
		return docs[i].ID < docs[j].ID
	})
	return docs
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
