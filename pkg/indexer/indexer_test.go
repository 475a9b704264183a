package indexer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/cache"
	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/proxyclient"
)

type stubEmbedder struct {
	dim     int
	err     error
	mu      sync.Mutex
	batches [][]string
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	s.batches = append(s.batches, texts)
	s.mu.Unlock()
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int    { return s.dim }
func (s *stubEmbedder) ModelName() string { return "stub-embed" }
func (s *stubEmbedder) Close() error      { return nil }

type captureUploader struct {
	mu     sync.Mutex
	reqs   []proxyclient.IndexRequest
	result *proxyclient.IndexResult
	err    error
	called chan struct{}
}

func (u *captureUploader) Index(_ context.Context, req proxyclient.IndexRequest) (*proxyclient.IndexResult, error) {
	u.mu.Lock()
	u.reqs = append(u.reqs, req)
	u.mu.Unlock()
	if u.called != nil {
		select {
		case u.called <- struct{}{}:
		default:
		}
	}
	if u.err != nil {
		return nil, u.err
	}
	if u.result != nil {
		return u.result, nil
	}
	return &proxyclient.IndexResult{IndexedCount: len(req.Documents)}, nil
}

func (u *captureUploader) last(t *testing.T) proxyclient.IndexRequest {
	t.Helper()
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.reqs) == 0 {
		t.Fatal("no index request captured")
	}
	return u.reqs[len(u.reqs)-1]
}

func newTestIndexer(t *testing.T, up Uploader, mutate func(*config.IndexConfig)) (*Indexer, cache.Store) {
	t.Helper()

	store, err := cache.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.IndexConfig{}
	cfg.SetDefaults()
	if mutate != nil {
		mutate(&cfg)
	}

	ix, err := New(store, &stubEmbedder{dim: 4}, up, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return ix, store
}

func cfrEnvelope() *cache.Envelope {
	return &cache.Envelope{
		Content:     "Systems must be designed so that the occurrence of any failure condition which would prevent continued safe flight and landing is extremely improbable.",
		DocType:     cache.DocTypeCFRSection,
		DocID:       "14-25-1309",
		Title:       "14 CFR § 25.1309 Equipment, systems, and installations",
		Citation:    "14 CFR § 25.1309",
		CachedAt:    time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC),
		HitCount:    1,
		ContentHash: "deadbeef",
	}
}

func TestProcessRegulatoryDocument(t *testing.T) {
	ctx := context.Background()
	up := &captureUploader{}
	ix, store := newTestIndexer(t, up, nil)

	env := cfrEnvelope()
	key := cache.CFRKey(14, "25", "1309")
	if err := store.Put(ctx, key, env); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	n, err := ix.Process(ctx, Job{
		CacheKey:  key,
		IndexName: "faa-agent",
		Env:       env,
		SourceURL: "https://www.ecfr.gov/current/title-14/part-25/section-25.1309",
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Process() chunks = %d, want 1", n)
	}

	req := up.last(t)
	if req.Index != "faa-agent" {
		t.Errorf("Index = %q, want faa-agent", req.Index)
	}
	if req.Fingerprint != "" {
		t.Errorf("Fingerprint = %q, want empty for regulatory upload", req.Fingerprint)
	}
	if len(req.Documents) != 1 {
		t.Fatalf("Documents = %d, want 1", len(req.Documents))
	}

	doc := req.Documents[0]
	if want := "63b4d1fd24e56494-chunk0"; doc.ID != want {
		t.Errorf("chunk id = %q, want %q", doc.ID, want)
	}
	if doc.DocType != "cfr" {
		t.Errorf("doc_type = %q, want cfr", doc.DocType)
	}
	if doc.OwnerFingerprint != nil {
		t.Errorf("owner_fingerprint = %v, want nil", *doc.OwnerFingerprint)
	}
	if doc.Citation != "14 CFR § 25.1309" {
		t.Errorf("citation = %q", doc.Citation)
	}
	if doc.Source != "https://www.ecfr.gov/current/title-14/part-25/section-25.1309" {
		t.Errorf("source = %q", doc.Source)
	}
	if len(doc.Embedding) != 4 {
		t.Errorf("embedding dim = %d, want 4", len(doc.Embedding))
	}
	if doc.UploadedAt != "" {
		t.Errorf("uploaded_at = %q, want empty for regulatory chunk", doc.UploadedAt)
	}

	marked, err := store.Peek(ctx, key)
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if !marked.Indexed {
		t.Error("cache entry not marked indexed after successful upload")
	}
}

func TestProcessPersonalDocument(t *testing.T) {
	ctx := context.Background()
	up := &captureUploader{}
	ix, store := newTestIndexer(t, up, nil)

	fp := "fp-0123456789abcdef"
	env := &cache.Envelope{
		Content:          "Engine maintenance intervals and inspection criteria for the fleet.",
		DocType:          cache.DocTypePersonalPDF,
		DocID:            "abcd1234-ef567890",
		Title:            "maintenance-manual.pdf",
		CachedAt:         time.Date(2026, 3, 12, 10, 30, 0, 0, time.UTC),
		PageCount:        12,
		ContentHash:      "cafef00d",
		OwnerFingerprint: fp,
	}
	key := cache.PersonalKey(env.DocID)
	if err := store.Put(ctx, key, env); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, err := ix.Process(ctx, Job{CacheKey: key, IndexName: "faa-agent", Env: env}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	req := up.last(t)
	if req.Fingerprint != fp {
		t.Errorf("Fingerprint = %q, want %q", req.Fingerprint, fp)
	}

	doc := req.Documents[0]
	if want := "abcd1234-ef567890-chunk0"; doc.ID != want {
		t.Errorf("chunk id = %q, want %q", doc.ID, want)
	}
	if doc.DocType != "user_upload" {
		t.Errorf("doc_type = %q, want user_upload", doc.DocType)
	}
	if doc.OwnerFingerprint == nil || *doc.OwnerFingerprint != fp {
		t.Errorf("owner_fingerprint = %v, want %q", doc.OwnerFingerprint, fp)
	}
	if doc.UploadedAt != "2026-03-12T10:30:00Z" {
		t.Errorf("uploaded_at = %q", doc.UploadedAt)
	}
	if doc.PageCount != 12 {
		t.Errorf("page_count = %d, want 12", doc.PageCount)
	}
	if doc.FileHash != "cafef00d" {
		t.Errorf("file_hash = %q, want cafef00d", doc.FileHash)
	}
}

func TestProcessCitationFallsBackToDocID(t *testing.T) {
	up := &captureUploader{}
	ix, _ := newTestIndexer(t, up, nil)

	env := cfrEnvelope()
	env.Citation = ""
	if _, err := ix.Process(context.Background(), Job{IndexName: "faa-agent", Env: env}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got := up.last(t).Documents[0].Citation; got != "14-25-1309" {
		t.Errorf("citation = %q, want doc id fallback", got)
	}
}

func TestProcessPartialFailure(t *testing.T) {
	ctx := context.Background()
	up := &captureUploader{result: &proxyclient.IndexResult{
		IndexedCount: 0,
		FailedCount:  1,
		Errors:       []string{"storage quota exceeded"},
	}}
	ix, store := newTestIndexer(t, up, nil)

	env := cfrEnvelope()
	key := cache.CFRKey(14, "25", "1309")
	if err := store.Put(ctx, key, env); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	_, err := ix.Process(ctx, Job{CacheKey: key, IndexName: "faa-agent", Env: env})
	if err == nil {
		t.Fatal("Process() error = nil, want failure for rejected chunks")
	}
	if !strings.Contains(err.Error(), "storage quota exceeded") {
		t.Errorf("error %q does not mention the upstream failure", err)
	}

	marked, peekErr := store.Peek(ctx, key)
	if peekErr != nil {
		t.Fatalf("Peek() error = %v", peekErr)
	}
	if marked.Indexed {
		t.Error("cache entry marked indexed despite failed upload")
	}
}

func TestProcessEmbedderError(t *testing.T) {
	up := &captureUploader{}
	store, err := cache.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.IndexConfig{}
	cfg.SetDefaults()
	ix, err := New(store, &stubEmbedder{dim: 4, err: errors.New("embed upstream down")}, up, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := ix.Process(context.Background(), Job{IndexName: "faa-agent", Env: cfrEnvelope()}); err == nil {
		t.Fatal("Process() error = nil, want embedder failure")
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.reqs) != 0 {
		t.Error("uploader called despite embedding failure")
	}
}

func TestProcessEmptyDocument(t *testing.T) {
	ix, _ := newTestIndexer(t, &captureUploader{}, nil)

	if _, err := ix.Process(context.Background(), Job{Env: nil}); err == nil {
		t.Error("Process(nil env) error = nil, want error")
	}
	if _, err := ix.Process(context.Background(), Job{Env: &cache.Envelope{}}); err == nil {
		t.Error("Process(empty content) error = nil, want error")
	}
}

func TestScheduleCoalescesDuplicates(t *testing.T) {
	ix, _ := newTestIndexer(t, &captureUploader{}, nil)

	env := cfrEnvelope()
	if !ix.Schedule(env, "cfr/14-25-1309", "faa-agent", "") {
		t.Fatal("first Schedule() = false, want true")
	}
	if ix.Schedule(env, "cfr/14-25-1309", "faa-agent", "") {
		t.Error("duplicate Schedule() = true, want coalesced")
	}
	// The same document targeting a different index is distinct work.
	if !ix.Schedule(env, "cfr/14-25-1309", "nrc-agent", "") {
		t.Error("Schedule() for second index = false, want true")
	}
}

func TestScheduleDropsWhenQueueFull(t *testing.T) {
	ix, _ := newTestIndexer(t, &captureUploader{}, func(cfg *config.IndexConfig) {
		cfg.QueueSize = 1
	})

	first := cfrEnvelope()
	second := cfrEnvelope()
	second.DocID = "14-25-1301"

	if !ix.Schedule(first, "", "faa-agent", "") {
		t.Fatal("first Schedule() = false, want queued")
	}
	if ix.Schedule(second, "", "faa-agent", "") {
		t.Error("Schedule() on full queue = true, want dropped")
	}

	// A dropped job releases its dedup slot so a later hit can requeue.
	ix.mu.Lock()
	_, held := ix.inflight[jobKey(second.DocType, second.DocID, "faa-agent")]
	ix.mu.Unlock()
	if held {
		t.Error("dropped job still holds its dedup slot")
	}
}

func TestScheduleDisabled(t *testing.T) {
	ix, _ := newTestIndexer(t, &captureUploader{}, func(cfg *config.IndexConfig) {
		cfg.AutoOnSecondHit = config.BoolPtr(false)
	})

	if ix.Schedule(cfrEnvelope(), "", "faa-agent", "") {
		t.Error("Schedule() = true with auto-indexing disabled")
	}
}

func TestBackgroundPoolProcessesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up := &captureUploader{called: make(chan struct{}, 1)}
	ix, store := newTestIndexer(t, up, nil)

	env := cfrEnvelope()
	key := cache.CFRKey(14, "25", "1309")
	if err := store.Put(ctx, key, env); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	ix.Start(ctx)
	if !ix.Schedule(env, key, "faa-agent", "") {
		t.Fatal("Schedule() = false, want queued")
	}

	select {
	case <-up.called:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never uploaded the scheduled job")
	}

	// The dedup slot is released after the job finishes, allowing the
	// same document to be scheduled again.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ix.Schedule(env, key, "faa-agent", "") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := ix.Wait(); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}
