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

// Package cache is the write-through document cache in front of the
// regulatory upstreams. Every fetched document lands here as an
// envelope; hit counts recorded on reads drive promotion into the
// vector index.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

var ErrNotFound = errors.New("cache: entry not found")

const (
	DocTypeCFRSection    = "cfr_section"
	DocTypeDRSDocument   = "drs_document"
	DocTypeADAMSDocument = "adams_document"
	DocTypePersonalPDF   = "personal_pdf"
)

// Envelope wraps a cached document with the bookkeeping the indexer
// and the status surfaces need. Content is always extracted text.
type Envelope struct {
	Content     string     `json:"content"`
	DocType     string     `json:"doc_type"`
	DocID       string     `json:"doc_id"`
	Title       string     `json:"title,omitempty"`
	Citation    string     `json:"citation,omitempty"`
	CachedAt    time.Time  `json:"cached_at"`
	HitCount    int        `json:"hit_count"`
	Indexed     bool       `json:"indexed"`
	IndexedAt   *time.Time `json:"indexed_at,omitempty"`
	PageCount   int        `json:"page_count,omitempty"`
	ContentHash string     `json:"content_hash"`

	// OwnerFingerprint is empty for public regulatory documents and
	// set for personal uploads.
	OwnerFingerprint string            `json:"owner_fingerprint,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Store persists envelopes under hierarchical keys like
// "cfr/14-25-1309". Get counts as a hit; Peek does not.
type Store interface {
	Get(ctx context.Context, key string) (*Envelope, error)
	Peek(ctx context.Context, key string) (*Envelope, error)
	Put(ctx context.Context, key string, env *Envelope) error
	MarkIndexed(ctx context.Context, key string, at time.Time) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// NewStore builds the configured backend. A disabled cache yields a
// store that never hits, so callers always fetch fresh.
func NewStore(cfg config.CacheConfig) (Store, error) {
	if cfg.Enabled != nil && !*cfg.Enabled {
		return Disabled{}, nil
	}

	switch cfg.Backend {
	case config.CacheBackendFS, "":
		return NewFSStore(cfg.Path)
	case config.CacheBackendSQLite:
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

// ShouldIndex reports whether a just-read envelope is due for
// promotion into the vector index: it has been hit at least once
// since caching and has not been indexed yet.
func ShouldIndex(env *Envelope) bool {
	return env != nil && !env.Indexed && env.HitCount >= 1
}

// HashContent returns the canonical content hash used for dedupe.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// CFRKey builds the cache key for a CFR section, e.g. "cfr/14-25-1309"
// or "cfr/14-25" when no section is given.
func CFRKey(title int, part, section string) string {
	if section == "" {
		return fmt.Sprintf("cfr/%d-%s", title, sanitizeSegment(part))
	}
	return fmt.Sprintf("cfr/%d-%s-%s", title, sanitizeSegment(part), sanitizeSegment(section))
}

// DRSKey builds the cache key for an FAA DRS document, e.g.
// "drs/AC-25.1309-1B".
func DRSKey(docType, docID string) string {
	return fmt.Sprintf("drs/%s-%s", sanitizeSegment(strings.ToUpper(docType)), sanitizeSegment(docID))
}

// ADAMSKey builds the cache key for an NRC ADAMS accession, e.g.
// "aps/ML20127J123".
func ADAMSKey(accession string) string {
	return "aps/" + sanitizeSegment(strings.ToUpper(accession))
}

// PersonalKey builds the cache key for an uploaded personal document.
func PersonalKey(docID string) string {
	return "personal/" + sanitizeSegment(docID)
}

// sanitizeSegment keeps key segments filesystem- and URL-safe.
func sanitizeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// Disabled is the no-op store used when caching is turned off.
type Disabled struct{}

var _ Store = Disabled{}

func (Disabled) Get(context.Context, string) (*Envelope, error)       { return nil, ErrNotFound }
func (Disabled) Peek(context.Context, string) (*Envelope, error)      { return nil, ErrNotFound }
func (Disabled) Put(context.Context, string, *Envelope) error         { return nil }
func (Disabled) MarkIndexed(context.Context, string, time.Time) error { return nil }
func (Disabled) Delete(context.Context, string) error                 { return nil }
func (Disabled) Keys(context.Context, string) ([]string, error)       { return nil, nil }
func (Disabled) Close() error                                         { return nil }
