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

// Package tools is the model-facing tool catalog: semantic search over
// the vector index, cache-backed regulatory fetches (eCFR, FAA DRS,
// NRC ADAMS), and personal document management. Every tool returns a
// human-readable string for the model; upstream failures become error
// text inside that string and never fail the turn.
package tools

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tudor-baraboi/cfr-agents/pkg/cache"
)

// Definition describes one tool to the model. InputSchema is a JSON
// Schema object reflected from the tool's input struct.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Invocation is one tool call. Args come from the model; the other
// fields are injected by the dispatcher, and only into tools that
// declare the matching capability.
type Invocation struct {
	Args        map[string]any
	IndexName   string
	Fingerprint string
	Memo        *MemoStore
}

// Tool is one catalog entry. Execute returns the model-facing result
// string; an error is reserved for malformed invocations and is
// converted to error text by the dispatcher.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, inv Invocation) (string, error)
}

// IndexAware tools receive the agent's vector-index name.
type IndexAware interface {
	NeedsIndexName()
}

// FingerprintAware tools receive the authenticated user fingerprint.
type FingerprintAware interface {
	NeedsFingerprint()
}

// MemoAware tools receive the conversation's memo store.
type MemoAware interface {
	NeedsMemo()
}

// scheduler enqueues a cached document for background indexing.
type scheduler interface {
	Schedule(env *cache.Envelope, cacheKey, indexName, sourceURL string) bool
}

// regDocCharCap bounds regulatory document bodies returned to the
// model in one tool result.
const regDocCharCap = 15000

// truncationNotice is appended when a document body exceeds its cap.
const truncationNotice = "\n\n[... Document truncated. Full document is larger.]"

// scheduleIfDue hands a cached envelope to the indexer when it has
// proven relevant (hit at least once, not yet indexed). Safe to call
// on every read: fresh misses have a zero hit count and are skipped.
func scheduleIfDue(sched scheduler, env *cache.Envelope, cacheKey, indexName, sourceURL string) {
	if sched == nil || indexName == "" {
		return
	}
	if !cache.ShouldIndex(env) {
		return
	}
	sched.Schedule(env, cacheKey, indexName, sourceURL)
}

// clip truncates s to at most n runes.
func clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// groupThousands renders a non-negative count with comma separators,
// e.g. 50000 becomes "50,000".
func groupThousands(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
