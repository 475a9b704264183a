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

// Package indexer promotes cached documents into the vector index. A
// bounded worker pool chunks each document into token windows, embeds
// the chunks, uploads them through the search proxy, and marks the
// cache entry indexed. Queued work is lost on restart; the next cache
// hit reschedules it.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tudor-baraboi/cfr-agents/pkg/cache"
	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/embedder"
	"github.com/tudor-baraboi/cfr-agents/pkg/observability"
	"github.com/tudor-baraboi/cfr-agents/pkg/proxyclient"
)

const (
	// maxEmbedChars caps each embedding input. The chunker keeps chunks
	// far below this; it guards against pathological token/char ratios.
	maxEmbedChars = 8000

	// maxChunkChars caps stored chunk content.
	maxChunkChars = 32000

	// embedBatchSize is the number of chunks embedded per upstream call.
	embedBatchSize = 20

	// jobTimeout bounds one document's chunk-embed-upload pipeline.
	jobTimeout = 120 * time.Second
)

// Uploader is the slice of the proxy client the indexer needs.
type Uploader interface {
	Index(ctx context.Context, req proxyclient.IndexRequest) (*proxyclient.IndexResult, error)
}

// Job is one document to index.
type Job struct {
	// CacheKey is marked indexed after a fully successful upload.
	// Empty skips the mark.
	CacheKey  string
	IndexName string
	Env       *cache.Envelope

	// SourceURL is the upstream location recorded on each chunk.
	SourceURL string
}

// Indexer runs the background indexing pool.
type Indexer struct {
	chunker *Chunker
	emb     embedder.Embedder
	proxy   Uploader
	store   cache.Store
	auto    bool
	workers int

	jobs chan Job

	mu       sync.Mutex
	inflight map[string]struct{}

	g      *errgroup.Group
	logger *slog.Logger
}

// New builds an indexer. Call Start to launch the pool.
func New(store cache.Store, emb embedder.Embedder, proxy Uploader, cfg config.IndexConfig) (*Indexer, error) {
	chunker, err := NewChunker(cfg)
	if err != nil {
		return nil, err
	}
	return &Indexer{
		chunker:  chunker,
		emb:      emb,
		proxy:    proxy,
		store:    store,
		auto:     cfg.AutoOnSecondHit == nil || *cfg.AutoOnSecondHit,
		workers:  cfg.Workers,
		jobs:     make(chan Job, cfg.QueueSize),
		inflight: make(map[string]struct{}),
		logger:   slog.Default().With("component", "indexer"),
	}, nil
}

// Start launches the worker pool. Workers drain the queue until ctx is
// cancelled.
func (ix *Indexer) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < ix.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case job := <-ix.jobs:
					ix.run(gctx, job)
				}
			}
		})
	}
	ix.g = g
}

// Wait blocks until every worker has exited after cancellation.
func (ix *Indexer) Wait() error {
	if ix.g == nil {
		return nil
	}
	return ix.g.Wait()
}

// Schedule queues env for background indexing. It never blocks: when
// the queue is full the job is dropped and the next cache hit
// reschedules it. Jobs for the same (doc type, doc id, index) coalesce
// while one is queued or running. Returns whether the job was queued.
func (ix *Indexer) Schedule(env *cache.Envelope, cacheKey, indexName, sourceURL string) bool {
	if !ix.auto || env == nil {
		return false
	}

	key := jobKey(env.DocType, env.DocID, indexName)
	ix.mu.Lock()
	if _, dup := ix.inflight[key]; dup {
		ix.mu.Unlock()
		return false
	}
	ix.inflight[key] = struct{}{}
	ix.mu.Unlock()

	job := Job{CacheKey: cacheKey, IndexName: indexName, Env: env, SourceURL: sourceURL}
	select {
	case ix.jobs <- job:
		ix.logger.Info("Scheduled background indexing",
			"doc_type", env.DocType, "doc_id", env.DocID, "index", indexName)
		return true
	default:
		ix.release(key)
		ix.logger.Warn("Index queue full, dropping job",
			"doc_type", env.DocType, "doc_id", env.DocID, "index", indexName)
		observability.GetGlobalMetrics().RecordIndexDropped(context.Background())
		return false
	}
}

func (ix *Indexer) run(ctx context.Context, job Job) {
	defer ix.release(jobKey(job.Env.DocType, job.Env.DocID, job.IndexName))

	jctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	chunks, err := ix.Process(jctx, job)
	observability.GetGlobalMetrics().RecordIndexJob(jctx, time.Since(start), err)
	if err != nil {
		ix.logger.Error("Background indexing failed",
			"doc_id", job.Env.DocID, "index", job.IndexName, "error", err)
		return
	}
	ix.logger.Info("Indexed document",
		"doc_id", job.Env.DocID, "index", job.IndexName, "chunks", chunks)
}

// Process runs one document through the chunk-embed-upload pipeline
// and returns the number of chunks uploaded. Exported so the personal
// document service can index uploads synchronously.
func (ix *Indexer) Process(ctx context.Context, job Job) (int, error) {
	env := job.Env
	if env == nil || env.Content == "" {
		return 0, fmt.Errorf("nothing to index")
	}

	chunks := ix.chunker.Chunk(env.Content)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no chunks produced for %s", env.DocID)
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = truncate(chunk, maxEmbedChars)
	}
	embeddings, err := ix.embedAll(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding %s: %w", env.DocID, err)
	}

	docType := proxyDocType(env.DocType)
	baseID := chunkBaseID(docType, env)

	citation := env.Citation
	if citation == "" {
		citation = env.DocID
	}

	var owner *string
	if env.OwnerFingerprint != "" {
		owner = &env.OwnerFingerprint
	}

	docs := make([]proxyclient.Chunk, len(chunks))
	for i, content := range chunks {
		docs[i] = proxyclient.Chunk{
			ID:               fmt.Sprintf("%s-chunk%d", baseID, i),
			Title:            env.Title,
			Content:          truncate(content, maxChunkChars),
			Source:           job.SourceURL,
			DocType:          docType,
			Citation:         citation,
			OwnerFingerprint: owner,
			Embedding:        embeddings[i],
		}
		if env.DocType == cache.DocTypePersonalPDF {
			docs[i].Citation = fmt.Sprintf("%s (chunk %d/%d)", env.Title, i+1, len(chunks))
			docs[i].UploadedAt = env.CachedAt.UTC().Format(time.RFC3339)
			docs[i].PageCount = env.PageCount
			docs[i].FileHash = env.ContentHash
		}
	}

	result, err := ix.proxy.Index(ctx, proxyclient.IndexRequest{
		Index:       job.IndexName,
		Fingerprint: env.OwnerFingerprint,
		Documents:   docs,
	})
	if err != nil {
		return 0, fmt.Errorf("uploading %s: %w", env.DocID, err)
	}
	if result.FailedCount > 0 {
		return result.IndexedCount, fmt.Errorf("uploading %s: %d of %d chunks failed: %v",
			env.DocID, result.FailedCount, len(docs), result.Errors)
	}

	if job.CacheKey != "" {
		if err := ix.store.MarkIndexed(ctx, job.CacheKey, time.Now().UTC()); err != nil {
			return result.IndexedCount, fmt.Errorf("marking %s indexed: %w", job.CacheKey, err)
		}
	}

	return result.IndexedCount, nil
}

func (ix *Indexer) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := ix.emb.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (ix *Indexer) release(key string) {
	ix.mu.Lock()
	delete(ix.inflight, key)
	ix.mu.Unlock()
}

func jobKey(docType, docID, indexName string) string {
	return docType + ":" + docID + ":" + indexName
}

// proxyDocType maps cache envelope types onto the short index-facing
// names the search filters use.
func proxyDocType(docType string) string {
	switch docType {
	case cache.DocTypeCFRSection:
		return "cfr"
	case cache.DocTypeDRSDocument:
		return "drs"
	case cache.DocTypeADAMSDocument:
		return "aps"
	case cache.DocTypePersonalPDF:
		return "user_upload"
	default:
		return docType
	}
}

// chunkBaseID is the parent id embedded in every chunk id. Personal
// documents keep their upload id so ownership listings group cleanly;
// regulatory documents get a stable digest of their canonical id.
func chunkBaseID(docType string, env *cache.Envelope) string {
	if env.DocType == cache.DocTypePersonalPDF {
		return env.DocID
	}
	sum := sha256.Sum256([]byte(docType + ":" + env.DocID))
	return hex.EncodeToString(sum[:])[:16]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
