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

// Package personal runs the upload pipeline for user PDF documents:
// validate, extract text, dedupe against existing uploads, and index
// synchronously through the shared chunk-embed-upload pipeline. Every
// chunk is written with the uploader's fingerprint as owner, so the
// document only ever surfaces for that user.
package personal

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tudor-baraboi/cfr-agents/pkg/cache"
	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/indexer"
	"github.com/tudor-baraboi/cfr-agents/pkg/observability"
	"github.com/tudor-baraboi/cfr-agents/pkg/proxyclient"
)

const (
	// minFingerprintLen matches the proxy's own floor; anything shorter
	// cannot be a real browser fingerprint.
	minFingerprintLen = 10

	pdfMagic = "%PDF-"

	// sourcePersonal marks uploaded chunks in the index.
	sourcePersonal = "personal"

	statusIndexed = "indexed"
)

// Error is a rejected request carrying the HTTP status the transport
// should answer with.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string { return e.Detail }

func reject(status int, format string, args ...any) error {
	return &Error{Status: status, Detail: fmt.Sprintf(format, args...)}
}

// upstream converts a proxy failure into a response error: proxy
// rejections keep their status, connection failures become 502.
func upstream(err error) error {
	var apiErr *proxyclient.APIError
	if errors.As(err, &apiErr) {
		return &Error{Status: apiErr.StatusCode, Detail: apiErr.Detail}
	}
	return &Error{Status: http.StatusBadGateway, Detail: "Cannot connect to search service"}
}

// pipeline is the slice of the indexer the upload path needs.
type pipeline interface {
	Process(ctx context.Context, job indexer.Job) (int, error)
}

// proxyAPI is the slice of the proxy client serving listings and
// deletes.
type proxyAPI interface {
	ListDocuments(ctx context.Context, fingerprint, index string) (*proxyclient.DocumentList, error)
	DeleteDocument(ctx context.Context, documentID, fingerprint, index string) (*proxyclient.DeleteResult, error)
}

// Service owns personal document uploads, listings, and deletions.
// Safe for concurrent use.
type Service struct {
	proxy    proxyAPI
	pipe     pipeline
	store    cache.Store
	indexes  []string
	indexSet map[string]struct{}
	limits   config.PersonalDocsLimits
	logger   *slog.Logger

	extract func(data []byte) (string, int, error)
}

// NewService wires the upload pipeline. indexes is the set of vector
// indexes uploads may target, normally the configured agents' indexes.
func NewService(proxy proxyAPI, pipe pipeline, store cache.Store, indexes []string, limits config.PersonalDocsLimits) *Service {
	names := append([]string(nil), indexes...)
	sort.Strings(names)
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return &Service{
		proxy:    proxy,
		pipe:     pipe,
		store:    store,
		indexes:  names,
		indexSet: set,
		limits:   limits,
		logger:   slog.Default().With("component", "personal"),
		extract:  extractText,
	}
}

// Upload is one PDF upload request. Data is the raw file content.
type Upload struct {
	Filename    string
	Data        []byte
	Fingerprint string
	Index       string
}

// Receipt reports a completed upload.
type Receipt struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Pages      int    `json:"pages"`
	Chunks     int    `json:"chunks"`
	Status     string `json:"status"`
}

// Upload validates, extracts, dedupes, and indexes one PDF. The
// document is searchable as soon as this returns.
func (s *Service) Upload(ctx context.Context, up Upload) (*Receipt, error) {
	tracer := observability.GetTracer("cfr_agents.personal")
	ctx, span := tracer.Start(ctx, observability.SpanDocumentUpload,
		trace.WithAttributes(attribute.String(observability.AttrIndexName, up.Index)))
	defer span.End()

	receipt, err := s.upload(ctx, up)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(
		attribute.String(observability.AttrDocumentID, receipt.DocumentID),
		attribute.Int("document.chunks", receipt.Chunks),
	)
	return receipt, nil
}

func (s *Service) upload(ctx context.Context, up Upload) (*Receipt, error) {
	if len(up.Fingerprint) < minFingerprintLen {
		return nil, reject(http.StatusBadRequest, "Invalid fingerprint")
	}
	if _, ok := s.indexSet[up.Index]; !ok {
		return nil, reject(http.StatusBadRequest, "Invalid index. Must be one of: %s", strings.Join(s.indexes, ", "))
	}
	if !bytes.HasPrefix(up.Data, []byte(pdfMagic)) {
		return nil, reject(http.StatusBadRequest, "Only PDF files are supported")
	}
	if len(up.Data) > s.limits.MaxSizeMB*1024*1024 {
		return nil, reject(http.StatusBadRequest, "File too large. Maximum size is %d MB", s.limits.MaxSizeMB)
	}

	hash := cache.HashContent(up.Data)

	// One listing covers both the per-user cap and the dedupe check.
	// When the proxy is unreachable the upload proceeds; a duplicate
	// slipping through wastes index space but loses nothing.
	list, err := s.proxy.ListDocuments(ctx, up.Fingerprint, up.Index)
	if err != nil {
		s.logger.Warn("Document listing unavailable, skipping dedupe", "index", up.Index, "error", err)
	} else {
		count := list.TotalCount
		if len(list.Documents) > count {
			count = len(list.Documents)
		}
		if count >= s.limits.MaxPerUser {
			return nil, reject(http.StatusUnprocessableEntity, "Document limit reached. Maximum %d documents allowed.", s.limits.MaxPerUser)
		}
		for _, doc := range list.Documents {
			if doc.FileHash == hash {
				return nil, reject(http.StatusConflict, "Document already uploaded")
			}
		}
	}

	text, pages, err := s.extract(up.Data)
	if err != nil {
		return nil, reject(http.StatusBadRequest, "Failed to process PDF: %v", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, reject(http.StatusBadRequest,
			"No text could be extracted from PDF. This may be a scanned document. Only PDFs with selectable text are supported.")
	}

	title := up.Filename
	if title == "" {
		title = "document.pdf"
	}

	id := uuid.New()
	docID := fmt.Sprintf("%s-%s", up.Fingerprint[:8], hex.EncodeToString(id[:])[:8])

	env := &cache.Envelope{
		Content:          text,
		DocType:          cache.DocTypePersonalPDF,
		DocID:            docID,
		Title:            title,
		CachedAt:         time.Now().UTC(),
		PageCount:        pages,
		ContentHash:      hash,
		OwnerFingerprint: up.Fingerprint,
	}

	key := cache.PersonalKey(docID)
	if err := s.store.Put(ctx, key, env); err != nil {
		s.logger.Warn("Failed to cache uploaded document", "doc_id", docID, "error", err)
		key = ""
	}

	s.logger.Info("Processing uploaded PDF", "doc_id", docID, "index", up.Index,
		"bytes", len(up.Data), "pages", pages, "chars", len(text))

	chunks, err := s.pipe.Process(ctx, indexer.Job{
		CacheKey:  key,
		IndexName: up.Index,
		Env:       env,
		SourceURL: sourcePersonal,
	})
	if err != nil {
		return nil, reject(http.StatusBadGateway, "Failed to index document: %v", err)
	}

	s.logger.Info("Indexed personal document", "doc_id", docID, "index", up.Index, "chunks", chunks)
	return &Receipt{
		DocumentID: docID,
		Title:      title,
		Pages:      pages,
		Chunks:     chunks,
		Status:     statusIndexed,
	}, nil
}

// List returns the caller's uploads in index, grouped from chunks by
// the proxy.
func (s *Service) List(ctx context.Context, fingerprint, index string) (*proxyclient.DocumentList, error) {
	if len(fingerprint) < minFingerprintLen {
		return nil, reject(http.StatusBadRequest, "Invalid fingerprint")
	}
	if _, ok := s.indexSet[index]; !ok {
		return nil, reject(http.StatusBadRequest, "Invalid index. Must be one of: %s", strings.Join(s.indexes, ", "))
	}
	list, err := s.proxy.ListDocuments(ctx, fingerprint, index)
	if err != nil {
		return nil, upstream(err)
	}
	return list, nil
}

// Delete removes one upload and all its chunks. Only the owner can
// delete; the proxy enforces that and this surfaces its verdict.
func (s *Service) Delete(ctx context.Context, documentID, fingerprint, index string) (*proxyclient.DeleteResult, error) {
	if len(fingerprint) < minFingerprintLen {
		return nil, reject(http.StatusBadRequest, "Invalid fingerprint")
	}
	if _, ok := s.indexSet[index]; !ok {
		return nil, reject(http.StatusBadRequest, "Invalid index. Must be one of: %s", strings.Join(s.indexes, ", "))
	}

	res, err := s.proxy.DeleteDocument(ctx, documentID, fingerprint, index)
	if err != nil {
		switch {
		case proxyclient.IsNotFound(err):
			return nil, reject(http.StatusNotFound, "Document not found")
		case proxyclient.IsForbidden(err):
			return nil, reject(http.StatusForbidden, "Cannot delete document owned by another user")
		}
		return nil, upstream(err)
	}

	if key := cache.PersonalKey(documentID); key != "" {
		if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, cache.ErrNotFound) {
			s.logger.Warn("Failed to evict deleted document from cache", "doc_id", documentID, "error", err)
		}
	}

	s.logger.Info("Deleted personal document", "doc_id", documentID, "chunks", res.ChunksDeleted)
	return res, nil
}

// extractText pulls per-page text out of a PDF. Pages that fail
// extraction are skipped rather than failing the whole document.
func extractText(data []byte) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}

	pages := reader.NumPage()
	parts := make([]string, 0, pages)
	for n := 1; n <= pages; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n"), pages, nil
}
