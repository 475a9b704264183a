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

// Package sources holds the thin HTTP adapters for the regulatory
// upstreams: the eCFR versioner API (CFR section text), the FAA
// Dynamic Regulatory System (advisory circulars and orders), and the
// NRC ADAMS public search API (nuclear regulatory documents).
//
// Adapters return a normalized Document and leave caching, indexing,
// and result formatting to the tool layer. Each adapter enforces its
// own per-second request budget so a chatty model cannot hammer a
// public portal.
package sources

import (
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned when the upstream has no such document.
var ErrNotFound = errors.New("document not found upstream")

// ErrNoAPIKey is returned when an upstream requires a key that is not
// configured. The tool layer turns this into a configuration hint.
var ErrNoAPIKey = errors.New("api key not configured")

// StatusError reports a non-2xx upstream response that is not a plain
// not-found.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d for %s", e.StatusCode, e.URL)
}

// Document is the normalized return shape shared by all adapters.
type Document struct {
	// Title is the human-readable document title.
	Title string

	// Body is the extracted text, markdown-ish, without the citation
	// header the tool layer prepends.
	Body string

	// Citation is the canonical reference ("14 CFR 25.1309",
	// "AC 25.1309-1A", "ML24001A001").
	Citation string

	// SourceURL points at the upstream portal page for the document.
	SourceURL string

	// PageCount is set when the body came out of a PDF.
	PageCount int

	// Metadata carries source-specific fields (status, docket, dates).
	Metadata map[string]string
}

// newPacer builds the per-adapter request budget. A non-positive rps
// disables pacing.
func newPacer(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}
