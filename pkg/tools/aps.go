package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/cache"
	"github.com/tudor-baraboi/cfr-agents/pkg/observability"
	"github.com/tudor-baraboi/cfr-agents/pkg/sources"
)

const apsPortalURL = "https://adams.nrc.gov/wba/public/doc/"

type adamsSource interface {
	MockMode() bool
	Search(ctx context.Context, q sources.ADAMSQuery) ([]sources.ADAMSDocument, int, error)
	FetchDocument(ctx context.Context, accessionNumber string) (*sources.Document, error)
}

// Mock responses let the NRC agent demo end to end without an ADAMS
// subscription key.

func mockAPSSearchResults(query string) string {
	return fmt.Sprintf(`## NRC ADAMS Search Results (MOCK MODE)

Found 3 documents for: %s

### 1. Mock Part 21 Report - Safety Valve Defect
**Accession Number:** ML24001A001
**Date:** 2024-01-15
**Type:** Part 21 Correspondence
**Summary:** Mock document for testing - describes a safety valve defect notification.

### 2. Mock Inspection Report - Vogtle Unit 3
**Accession Number:** ML24001A002
**Date:** 2024-01-10
**Type:** Inspection Report
**Summary:** Mock inspection report for testing purposes.

### 3. Mock NUREG Report - Safety Analysis
**Accession Number:** ML24001A003
**Date:** 2024-01-05
**Type:** NUREG
**Summary:** Mock NUREG report for testing the NRC agent.

---
*Note: These are mock results. Set sources.adams.mock=false and provide APS_API_KEY for real results.*
`, query)
}

func mockAPSDocument(accession string) string {
	return fmt.Sprintf(`## NRC Document: %s (MOCK MODE)

**Accession Number:** %s
**Title:** Mock NRC Document for Testing
**Document Date:** 2024-01-15
**Document Type:** Part 21 Correspondence

### Document Content

This is mock content for testing the NRC agent when the ADAMS API key is not configured.

In a real scenario, this would contain the full text of the NRC document, including:
- Regulatory requirements
- Technical specifications
- Safety analysis
- Compliance guidance

### References
- 10 CFR Part 21 - Reporting of Defects and Noncompliance
- NUREG-0800 - Standard Review Plan
- Regulatory Guide 1.174 - Risk-Informed Decision Making

---
*Note: This is mock content. Set sources.adams.mock=false and provide APS_API_KEY for real documents.*
`, accession, accession)
}

type searchAPSInput struct {
	Query      string `json:"query" jsonschema:"required,description=Full-text search query such as safety valve Part 21 or Vogtle inspection report"`
	DocType    string `json:"doc_type,omitempty" jsonschema:"description=Optional document type filter such as NUREG or Inspection Report or Regulatory Guide"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum results to return (default 20)"`
	DateFrom   string `json:"date_from,omitempty" jsonschema:"description=Optional start date filter as YYYY-MM-DD"`
	DateTo     string `json:"date_to,omitempty" jsonschema:"description=Optional end date filter as YYYY-MM-DD"`
}

// SearchAPSTool searches NRC ADAMS through the Public Search API.
type SearchAPSTool struct {
	source adamsSource
}

func NewSearchAPSTool(source adamsSource) *SearchAPSTool {
	return &SearchAPSTool{source: source}
}

func (t *SearchAPSTool) Definition() Definition {
	return Definition{
		Name: "search_aps",
		Description: "Search NRC ADAMS (Agency-wide Documents Access and Management System) for regulatory documents: " +
			"NUREG reports; inspection reports; correspondence; regulatory guides; license amendments; Part 21 reports. " +
			"Try search_indexed_content first; use this when the index has no answer or you need very recent documents. " +
			"Results include accession numbers for use with fetch_aps_document.",
		InputSchema: mustSchema(searchAPSInput{}),
	}
}

func (t *SearchAPSTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var in searchAPSInput
	if err := decodeArgs(inv.Args, &in); err != nil {
		return "", err
	}
	if t.source.MockMode() {
		return mockAPSSearchResults(in.Query), nil
	}
	maxResults := in.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	docs, total, err := t.source.Search(ctx, sources.ADAMSQuery{
		Query:    in.Query,
		DocType:  in.DocType,
		DateFrom: in.DateFrom,
		DateTo:   in.DateTo,
	})
	if err != nil {
		var statusErr *sources.StatusError
		if errors.As(err, &statusErr) {
			return fmt.Sprintf("Error searching NRC ADAMS: HTTP %d", statusErr.StatusCode), nil
		}
		return fmt.Sprintf("Error searching NRC ADAMS: %v", err), nil
	}
	if len(docs) == 0 {
		return fmt.Sprintf("No results found for: %s", in.Query), nil
	}
	shown := docs
	if len(shown) > maxResults {
		shown = shown[:maxResults]
	}

	lines := []string{
		"## NRC ADAMS Search Results\n",
		fmt.Sprintf("Found %d documents for: %s\n", total, in.Query),
	}
	for i, doc := range shown {
		title := doc.Title
		if title == "" {
			title = "Untitled"
		}
		accession := doc.AccessionNumber
		if accession == "" {
			accession = "Unknown"
		}
		lines = append(lines, fmt.Sprintf("\n### %d. %s", i+1, title))
		lines = append(lines, fmt.Sprintf("- **Accession Number:** %s", accession))
		if doc.DocumentType != "" {
			lines = append(lines, fmt.Sprintf("- **Type:** %s", doc.DocumentType))
		}
		if doc.DocumentDate != "" {
			lines = append(lines, fmt.Sprintf("- **Date:** %s", doc.DocumentDate))
		}
	}
	if total > maxResults {
		lines = append(lines, fmt.Sprintf("\n*Showing %d of %d results*", len(shown), total))
	}
	return strings.Join(lines, "\n"), nil
}

type fetchAPSInput struct {
	AccessionNumber string `json:"accession_number" jsonschema:"required,description=ADAMS accession number such as ML13095A205"`
}

// FetchAPSTool retrieves one NRC document by accession number through
// the document cache.
type FetchAPSTool struct {
	source  adamsSource
	fetcher *cache.Fetcher
	sched   scheduler
}

func NewFetchAPSTool(source adamsSource, fetcher *cache.Fetcher, sched scheduler) *FetchAPSTool {
	return &FetchAPSTool{source: source, fetcher: fetcher, sched: sched}
}

func (t *FetchAPSTool) NeedsIndexName() {}

func (t *FetchAPSTool) Definition() Definition {
	return Definition{
		Name: "fetch_aps_document",
		Description: "Fetch a specific NRC document from ADAMS by its accession number. " +
			"Use after search_aps or when the user names an accession number directly.",
		InputSchema: mustSchema(fetchAPSInput{}),
	}
}

func (t *FetchAPSTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var in fetchAPSInput
	if err := decodeArgs(inv.Args, &in); err != nil {
		return "", err
	}
	accession := strings.ToUpper(strings.TrimSpace(in.AccessionNumber))

	// Mock documents never reach the cache or the index.
	if t.source.MockMode() {
		return mockAPSDocument(accession), nil
	}

	key := cache.ADAMSKey(accession)
	res, err := t.fetcher.Fetch(ctx, key, func(ctx context.Context) (*cache.Envelope, error) {
		doc, err := t.source.FetchDocument(ctx, accession)
		if err != nil {
			return nil, err
		}
		content := formatAPSDocument(doc, accession)
		return &cache.Envelope{
			Content:     content,
			DocType:     cache.DocTypeADAMSDocument,
			DocID:       accession,
			Title:       doc.Title,
			Citation:    accession,
			CachedAt:    time.Now().UTC(),
			PageCount:   doc.PageCount,
			ContentHash: cache.HashContent([]byte(content)),
			Metadata:    doc.Metadata,
		}, nil
	})
	if err != nil {
		if errors.Is(err, sources.ErrNotFound) {
			return fmt.Sprintf("Document not found: %s", accession), nil
		}
		var statusErr *sources.StatusError
		if errors.As(err, &statusErr) {
			return fmt.Sprintf("Error fetching NRC document: HTTP %d", statusErr.StatusCode), nil
		}
		return fmt.Sprintf("Error fetching NRC document: %v", err), nil
	}

	observability.GetGlobalMetrics().RecordCacheLookup(ctx, cache.DocTypeADAMSDocument, res.Hit)
	scheduleIfDue(t.sched, res.Envelope, key, inv.IndexName, apsPortalURL+accession)

	return res.Envelope.Content, nil
}

func formatAPSDocument(doc *sources.Document, accession string) string {
	lines := []string{
		fmt.Sprintf("## %s: %s", doc.Metadata["document_type"], doc.Title),
		fmt.Sprintf("**Accession Number:** %s", accession),
	}
	if v := doc.Metadata["document_date"]; v != "" {
		lines = append(lines, fmt.Sprintf("**Document Date:** %s", v))
	}
	if v := doc.Metadata["author"]; v != "" {
		lines = append(lines, fmt.Sprintf("**Author:** %s", v))
	}
	if v := doc.Metadata["author_affiliation"]; v != "" {
		lines = append(lines, fmt.Sprintf("**Author Affiliation:** %s", v))
	}
	if v := doc.Metadata["docket"]; v != "" {
		lines = append(lines, fmt.Sprintf("**Docket Number:** %s", v))
	}
	if v := doc.Metadata["keywords"]; v != "" {
		lines = append(lines, fmt.Sprintf("**Keywords:** %s", v))
	}
	if doc.PageCount > 0 {
		lines = append(lines, fmt.Sprintf("**Estimated Pages:** %d", doc.PageCount))
	}
	if doc.SourceURL != "" {
		lines = append(lines, fmt.Sprintf("\n**Document URL:** %s", doc.SourceURL))
	}

	if doc.Body != "" {
		body := doc.Body
		if len(body) > regDocCharCap {
			body = clip(body, regDocCharCap) + truncationNotice
		}
		lines = append(lines, "\n### Document Content\n\n"+body)
	} else {
		lines = append(lines, "\n*Document content not included in API response. Use the URL above to access the full document.*")
	}
	return strings.Join(lines, "\n")
}
