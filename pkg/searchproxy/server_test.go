package searchproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/proxyclient"
)

const testFingerprint = "fp-1234567890"

type lastSearch struct {
	index       string
	vector      []float32
	top         int
	fingerprint string
	docType     string
}

type fakeStore struct {
	hits      []Hit
	searchErr error
	search    lastSearch

	upsertIndex string
	upserted    []StoredChunk
	upsertErr   error

	owned            []StoredChunk
	ownedErr         error
	ownedIndex       string
	ownedFingerprint string

	deleted   []string
	deleteErr error
}

func (f *fakeStore) Search(ctx context.Context, index string, vector []float32, top int, fingerprint, docType string) ([]Hit, error) {
	f.search = lastSearch{index, vector, top, fingerprint, docType}
	return f.hits, f.searchErr
}

func (f *fakeStore) Upsert(ctx context.Context, index string, chunks []StoredChunk) error {
	f.upsertIndex = index
	f.upserted = chunks
	return f.upsertErr
}

func (f *fakeStore) OwnedChunks(ctx context.Context, index, fingerprint string) ([]StoredChunk, error) {
	f.ownedIndex = index
	f.ownedFingerprint = fingerprint
	return f.owned, f.ownedErr
}

func (f *fakeStore) DeleteChunks(ctx context.Context, index string, ids []string) error {
	f.deleted = ids
	return f.deleteErr
}

func (f *fakeStore) Name() string { return "fake" }
func (f *fakeStore) Close() error { return nil }

var _ Store = (*fakeStore)(nil)

type fakeEmbedder struct {
	vector    []float32
	err       error
	lastQuery string
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.lastQuery = text
	return f.vector, f.err
}

func newTestServer(store *fakeStore, embed queryEmbedder) *Server {
	cfg := config.SearchProxyConfig{TopK: 5, ServiceKey: "svc-secret-123"}
	return NewServer(cfg, store, embed, []string{"faa-agent", "nrc-agent", "dod-agent"})
}

func doRequest(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	decodeBody(t, rec, &body)
	return body.Detail
}

func ptr(s string) *string { return &s }

func TestSearchPassesOwnershipToStore(t *testing.T) {
	store := &fakeStore{hits: []Hit{
		{StoredChunk: StoredChunk{ID: "c1", Title: "14 CFR 91.113", Content: "Right of way rules", DocType: "regulation", Citation: "14 CFR 91.113"}, Score: 0.92},
	}}
	embed := &fakeEmbedder{vector: []float32{0.1, 0.2}}
	s := newTestServer(store, embed)

	rec := doRequest(t, s, http.MethodPost, "/search", proxyclient.SearchRequest{
		Query:       "right of way",
		Index:       "faa-agent",
		Fingerprint: testFingerprint,
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}
	if embed.lastQuery != "right of way" {
		t.Errorf("embedded query = %q", embed.lastQuery)
	}
	if store.search.index != "faa-agent" {
		t.Errorf("index = %q", store.search.index)
	}
	if store.search.fingerprint != testFingerprint {
		t.Errorf("fingerprint = %q, want %q", store.search.fingerprint, testFingerprint)
	}
	if store.search.top != 5 {
		t.Errorf("top = %d, want default 5", store.search.top)
	}
	if store.search.docType != "" {
		t.Errorf("docType = %q, want empty", store.search.docType)
	}

	var resp proxyclient.SearchResponse
	decodeBody(t, rec, &resp)
	if resp.TotalCount != 1 || len(resp.Results) != 1 {
		t.Fatalf("results = %d/%d, want 1/1", len(resp.Results), resp.TotalCount)
	}
	if resp.Results[0].Citation != "14 CFR 91.113" {
		t.Errorf("citation = %q", resp.Results[0].Citation)
	}
	if resp.Results[0].Score != 0.92 {
		t.Errorf("score = %v", resp.Results[0].Score)
	}
}

func TestSearchForwardsDocTypeAndTop(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})

	rec := doRequest(t, s, http.MethodPost, "/search", proxyclient.SearchRequest{
		Query:       "enforcement actions",
		Index:       "nrc-agent",
		Fingerprint: testFingerprint,
		Top:         12,
		DocType:     "personal_pdf",
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %q)", rec.Code, rec.Body.String())
	}
	if store.search.top != 12 {
		t.Errorf("top = %d, want 12", store.search.top)
	}
	if store.search.docType != "personal_pdf" {
		t.Errorf("docType = %q", store.search.docType)
	}
}

func TestSearchTruncatesLongContent(t *testing.T) {
	long := strings.Repeat("パ", 1500)
	store := &fakeStore{hits: []Hit{
		{StoredChunk: StoredChunk{ID: "c1", Content: long}, Score: 0.5},
	}}
	s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})

	rec := doRequest(t, s, http.MethodPost, "/search", proxyclient.SearchRequest{
		Query:       "anything",
		Index:       "faa-agent",
		Fingerprint: testFingerprint,
	}, nil)

	var resp proxyclient.SearchResponse
	decodeBody(t, rec, &resp)
	if got := len([]rune(resp.Results[0].Content)); got != 1000 {
		t.Errorf("content length = %d runes, want 1000", got)
	}
}

func TestSearchValidation(t *testing.T) {
	tests := []struct {
		name string
		req  proxyclient.SearchRequest
		want string
	}{
		{
			name: "missing query",
			req:  proxyclient.SearchRequest{Index: "faa-agent", Fingerprint: testFingerprint},
			want: "query: cannot be blank",
		},
		{
			name: "short fingerprint",
			req:  proxyclient.SearchRequest{Query: "x", Index: "faa-agent", Fingerprint: "short"},
			want: "fingerprint: the length must be no less than 10",
		},
		{
			name: "top too large",
			req:  proxyclient.SearchRequest{Query: "x", Index: "faa-agent", Fingerprint: testFingerprint, Top: 50},
			want: "top: must be no greater than 20",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})
			rec := doRequest(t, s, http.MethodPost, "/search", tt.req, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := detail(t, rec); !strings.Contains(got, tt.want) {
				t.Errorf("detail = %q, want substring %q", got, tt.want)
			}
			if store.search.index != "" {
				t.Error("store was queried despite validation failure")
			}
		})
	}
}

func TestSearchRejectsUnknownIndex(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeEmbedder{vector: []float32{1}})
	rec := doRequest(t, s, http.MethodPost, "/search", proxyclient.SearchRequest{
		Query:       "filings",
		Index:       "sec-edgar",
		Fingerprint: testFingerprint,
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	want := "Invalid index 'sec-edgar'. Must be one of: dod-agent, faa-agent, nrc-agent"
	if got := detail(t, rec); got != want {
		t.Errorf("detail = %q, want %q", got, want)
	}
}

func TestSearchEmbeddingFailure(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeEmbedder{err: errors.New("model offline")})
	rec := doRequest(t, s, http.MethodPost, "/search", proxyclient.SearchRequest{
		Query:       "x",
		Index:       "faa-agent",
		Fingerprint: testFingerprint,
	}, nil)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if got := detail(t, rec); !strings.HasPrefix(got, "Search error:") {
		t.Errorf("detail = %q", got)
	}
}

func TestSearchStoreFailure(t *testing.T) {
	store := &fakeStore{searchErr: errors.New("connection refused")}
	s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})
	rec := doRequest(t, s, http.MethodPost, "/search", proxyclient.SearchRequest{
		Query:       "x",
		Index:       "faa-agent",
		Fingerprint: testFingerprint,
	}, nil)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if got := detail(t, rec); !strings.HasPrefix(got, "Search error:") {
		t.Errorf("detail = %q", got)
	}
}

func TestSearchWithoutEmbedder(t *testing.T) {
	s := newTestServer(&fakeStore{}, nil)
	rec := doRequest(t, s, http.MethodPost, "/search", proxyclient.SearchRequest{
		Query:       "x",
		Index:       "faa-agent",
		Fingerprint: testFingerprint,
	}, nil)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestIndexPersonalUpload(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})

	rec := doRequest(t, s, http.MethodPost, "/index", proxyclient.IndexRequest{
		Index:       "faa-agent",
		Fingerprint: testFingerprint,
		Documents: []proxyclient.Chunk{
			{
				ID:               "fp-123456-notes-chunk0",
				Title:            "notes.pdf",
				Content:          "Checklist notes",
				DocType:          "personal_pdf",
				OwnerFingerprint: ptr(testFingerprint),
				Embedding:        []float32{0.4, 0.5},
			},
		},
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %q)", rec.Code, rec.Body.String())
	}
	var resp proxyclient.IndexResult
	decodeBody(t, rec, &resp)
	if resp.IndexedCount != 1 || resp.FailedCount != 0 {
		t.Errorf("result = %+v", resp)
	}
	if store.upsertIndex != "faa-agent" || len(store.upserted) != 1 {
		t.Fatalf("upserted %d chunks to %q", len(store.upserted), store.upsertIndex)
	}
	if store.upserted[0].OwnerFingerprint != testFingerprint {
		t.Errorf("owner = %q", store.upserted[0].OwnerFingerprint)
	}
}

func TestIndexRejectsForeignFingerprint(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})

	rec := doRequest(t, s, http.MethodPost, "/index", proxyclient.IndexRequest{
		Index:       "faa-agent",
		Fingerprint: testFingerprint,
		Documents: []proxyclient.Chunk{
			{ID: "c1", OwnerFingerprint: ptr("other-user-fp-999"), Embedding: []float32{1}},
		},
	}, nil)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	want := "Document fingerprint mismatch. Cannot upload documents for other users."
	if got := detail(t, rec); got != want {
		t.Errorf("detail = %q, want %q", got, want)
	}
	if store.upserted != nil {
		t.Error("store received chunks despite rejection")
	}
}

func TestIndexRegulatoryRequiresServiceKey(t *testing.T) {
	regulatory := proxyclient.IndexRequest{
		Index: "nrc-agent",
		Documents: []proxyclient.Chunk{
			{ID: "10cfr50-chunk0", Title: "10 CFR 50", Content: "Licensing", DocType: "regulation", Embedding: []float32{1, 2}},
		},
	}

	t.Run("without key", func(t *testing.T) {
		store := &fakeStore{}
		s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})
		rec := doRequest(t, s, http.MethodPost, "/index", regulatory, nil)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
		want := "Cannot upload documents with null owner_fingerprint (regulatory docs protected)"
		if got := detail(t, rec); got != want {
			t.Errorf("detail = %q, want %q", got, want)
		}
	})

	t.Run("with key", func(t *testing.T) {
		store := &fakeStore{}
		s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})
		rec := doRequest(t, s, http.MethodPost, "/index", regulatory, map[string]string{
			"X-Service-Key": "svc-secret-123",
		})

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (body %q)", rec.Code, rec.Body.String())
		}
		if len(store.upserted) != 1 || store.upserted[0].OwnerFingerprint != "" {
			t.Errorf("upserted = %+v", store.upserted)
		}
	})

	t.Run("with wrong key", func(t *testing.T) {
		store := &fakeStore{}
		s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})
		rec := doRequest(t, s, http.MethodPost, "/index", regulatory, map[string]string{
			"X-Service-Key": "guessed",
		})

		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})
}

func TestIndexRejectsChunkWithoutEmbedding(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeEmbedder{vector: []float32{1}})
	rec := doRequest(t, s, http.MethodPost, "/index", proxyclient.IndexRequest{
		Index:       "faa-agent",
		Fingerprint: testFingerprint,
		Documents: []proxyclient.Chunk{
			{ID: "doc-1", OwnerFingerprint: ptr(testFingerprint)},
		},
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	want := "Document 'doc-1' is missing an embedding"
	if got := detail(t, rec); got != want {
		t.Errorf("detail = %q, want %q", got, want)
	}
}

func TestIndexRejectsEmptyDocuments(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeEmbedder{vector: []float32{1}})
	rec := doRequest(t, s, http.MethodPost, "/index", proxyclient.IndexRequest{
		Index:       "faa-agent",
		Fingerprint: testFingerprint,
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := detail(t, rec); !strings.Contains(got, "documents: cannot be blank") {
		t.Errorf("detail = %q", got)
	}
}

func TestIndexStoreFailure(t *testing.T) {
	store := &fakeStore{upsertErr: errors.New("quota exceeded")}
	s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})
	rec := doRequest(t, s, http.MethodPost, "/index", proxyclient.IndexRequest{
		Index:       "faa-agent",
		Fingerprint: testFingerprint,
		Documents: []proxyclient.Chunk{
			{ID: "c1", OwnerFingerprint: ptr(testFingerprint), Embedding: []float32{1}},
		},
	}, nil)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if got := detail(t, rec); !strings.HasPrefix(got, "Index error:") {
		t.Errorf("detail = %q", got)
	}
}

func TestListDocumentsGroupsChunks(t *testing.T) {
	store := &fakeStore{owned: []StoredChunk{
		{ID: "fp-123456-manual-chunk1", Title: "manual.pdf", OwnerFingerprint: testFingerprint, UploadedAt: "2026-01-02T10:00:00Z", PageCount: 12, FileHash: "hash-a"},
		{ID: "fp-123456-manual-chunk0", Title: "manual.pdf", OwnerFingerprint: testFingerprint, UploadedAt: "2026-01-02T10:00:00Z", PageCount: 12, FileHash: "hash-a"},
		{ID: "fp-123456-manual-chunk2", Title: "manual.pdf", OwnerFingerprint: testFingerprint, UploadedAt: "2026-01-02T10:00:00Z", PageCount: 12, FileHash: "hash-a"},
		{ID: "fp-123456-memo-chunk0", Title: "memo.pdf", OwnerFingerprint: testFingerprint, UploadedAt: "2026-03-15T08:30:00Z", PageCount: 2, FileHash: "hash-b"},
	}}
	s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})

	rec := doRequest(t, s, http.MethodGet, "/documents?index=faa-agent&fingerprint="+testFingerprint, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %q)", rec.Code, rec.Body.String())
	}
	if store.ownedIndex != "faa-agent" || store.ownedFingerprint != testFingerprint {
		t.Errorf("owned query = %q/%q", store.ownedIndex, store.ownedFingerprint)
	}

	var resp proxyclient.DocumentList
	decodeBody(t, rec, &resp)
	if resp.TotalCount != 2 || len(resp.Documents) != 2 {
		t.Fatalf("documents = %d/%d, want 2/2", len(resp.Documents), resp.TotalCount)
	}

	// Newest upload first.
	if resp.Documents[0].ID != "fp-123456-memo" {
		t.Errorf("first document = %q, want memo", resp.Documents[0].ID)
	}
	manual := resp.Documents[1]
	if manual.ID != "fp-123456-manual" {
		t.Fatalf("second document = %q", manual.ID)
	}
	if manual.ChunkCount != 3 {
		t.Errorf("chunk count = %d, want 3", manual.ChunkCount)
	}
	if manual.Title != "manual.pdf" || manual.Filename != "manual.pdf" {
		t.Errorf("title/filename = %q/%q", manual.Title, manual.Filename)
	}
	if manual.PageCount != 12 || manual.FileHash != "hash-a" {
		t.Errorf("metadata = %d/%q", manual.PageCount, manual.FileHash)
	}
}

func TestListDocumentsValidation(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeEmbedder{vector: []float32{1}})

	rec := doRequest(t, s, http.MethodGet, "/documents?index=bogus&fingerprint="+testFingerprint, nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := detail(t, rec); !strings.HasPrefix(got, "Invalid index 'bogus'") {
		t.Errorf("detail = %q", got)
	}

	rec = doRequest(t, s, http.MethodGet, "/documents?index=faa-agent&fingerprint=short", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := detail(t, rec); got != "Invalid fingerprint (too short)" {
		t.Errorf("detail = %q", got)
	}
}

func TestDocumentContentReassemblesChunks(t *testing.T) {
	store := &fakeStore{owned: []StoredChunk{
		{ID: "fp-123456-notes-chunk1", Title: "notes.pdf", Content: "Part B", OwnerFingerprint: testFingerprint, UploadedAt: "2026-02-01T00:00:00Z", PageCount: 3},
		{ID: "fp-123456-notes-chunk2", Title: "notes.pdf", Content: "Part C", OwnerFingerprint: testFingerprint, UploadedAt: "2026-02-01T00:00:00Z", PageCount: 3},
		{ID: "fp-123456-notes-chunk0", Title: "notes.pdf", Content: "Part A", OwnerFingerprint: testFingerprint, UploadedAt: "2026-02-01T00:00:00Z", PageCount: 3},
		{ID: "fp-123456-other-chunk0", Title: "other.pdf", Content: "Unrelated", OwnerFingerprint: testFingerprint},
	}}
	s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})

	rec := doRequest(t, s, http.MethodGet, "/documents/fp-123456-notes/content?index=faa-agent&fingerprint="+testFingerprint, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %q)", rec.Code, rec.Body.String())
	}

	var resp proxyclient.DocumentContent
	decodeBody(t, rec, &resp)
	if resp.Content != "Part A\n\nPart B\n\nPart C" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.ChunkCount != 3 {
		t.Errorf("chunk count = %d, want 3", resp.ChunkCount)
	}
	if resp.ID != "fp-123456-notes" || resp.Title != "notes.pdf" || resp.PageCount != 3 {
		t.Errorf("metadata = %q/%q/%d", resp.ID, resp.Title, resp.PageCount)
	}
	if resp.TotalChars != len("Part A\n\nPart B\n\nPart C") {
		t.Errorf("total chars = %d", resp.TotalChars)
	}
	if resp.Truncated {
		t.Error("truncated = true, want false")
	}
}

func TestDocumentContentNotFound(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeEmbedder{vector: []float32{1}})
	rec := doRequest(t, s, http.MethodGet, "/documents/missing-doc/content?index=faa-agent&fingerprint="+testFingerprint, nil, nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := detail(t, rec); got != "Document not found" {
		t.Errorf("detail = %q", got)
	}
}

func TestDeleteDocument(t *testing.T) {
	store := &fakeStore{owned: []StoredChunk{
		{ID: "fp-123456-notes-chunk0", OwnerFingerprint: testFingerprint},
		{ID: "fp-123456-notes-chunk1", OwnerFingerprint: testFingerprint},
		{ID: "fp-123456-other-chunk0", OwnerFingerprint: testFingerprint},
	}}
	s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})

	rec := doRequest(t, s, http.MethodDelete, "/documents/fp-123456-notes?index=faa-agent&fingerprint="+testFingerprint, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %q)", rec.Code, rec.Body.String())
	}

	var resp proxyclient.DeleteResult
	decodeBody(t, rec, &resp)
	if resp.Status != "deleted" || resp.DocumentID != "fp-123456-notes" || resp.ChunksDeleted != 2 {
		t.Errorf("result = %+v", resp)
	}
	if len(store.deleted) != 2 {
		t.Fatalf("deleted ids = %v", store.deleted)
	}
	for _, id := range store.deleted {
		if !strings.HasPrefix(id, "fp-123456-notes-chunk") {
			t.Errorf("deleted unrelated chunk %q", id)
		}
	}
}

func TestDeleteDocumentNotFound(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeEmbedder{vector: []float32{1}})
	rec := doRequest(t, s, http.MethodDelete, "/documents/nothing-here?index=faa-agent&fingerprint="+testFingerprint, nil, nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := detail(t, rec); got != "Document not found" {
		t.Errorf("detail = %q", got)
	}
}

func TestDeleteStoreFailures(t *testing.T) {
	t.Run("lookup fails", func(t *testing.T) {
		store := &fakeStore{ownedErr: errors.New("timeout")}
		s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})
		rec := doRequest(t, s, http.MethodDelete, "/documents/doc-1?index=faa-agent&fingerprint="+testFingerprint, nil, nil)

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rec.Code)
		}
		if got := detail(t, rec); got != "Failed to find document" {
			t.Errorf("detail = %q", got)
		}
	})

	t.Run("delete fails", func(t *testing.T) {
		store := &fakeStore{
			owned:     []StoredChunk{{ID: "doc-1-chunk0", OwnerFingerprint: testFingerprint}},
			deleteErr: errors.New("timeout"),
		}
		s := newTestServer(store, &fakeEmbedder{vector: []float32{1}})
		rec := doRequest(t, s, http.MethodDelete, "/documents/doc-1?index=faa-agent&fingerprint="+testFingerprint, nil, nil)

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rec.Code)
		}
		if got := detail(t, rec); got != "Failed to delete document" {
			t.Errorf("detail = %q", got)
		}
	})
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeEmbedder{vector: []float32{1}})
	rec := doRequest(t, s, http.MethodGet, "/healthz", nil, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "healthy" || body["service"] != "search-proxy" {
		t.Errorf("body = %v", body)
	}
}
