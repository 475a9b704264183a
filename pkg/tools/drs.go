package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/cache"
	"github.com/tudor-baraboi/cfr-agents/pkg/observability"
	"github.com/tudor-baraboi/cfr-agents/pkg/sources"
)

const drsPortalURL = "https://drs.faa.gov/browse/FSIMS/doctypeDetails?docType="

type drsSource interface {
	Search(ctx context.Context, q sources.DRSQuery) ([]sources.DRSDocument, int, error)
	FetchDocument(ctx context.Context, docNumber, docType string) (*sources.Document, error)
}

type searchDRSInput struct {
	Keywords   []string `json:"keywords" jsonschema:"required,description=Keywords to search for such as system design analysis or 25.1309"`
	DocType    string   `json:"doc_type,omitempty" jsonschema:"enum=AC,enum=AD,enum=TSO,enum=Order,description=FAA document type to search (default AC)"`
	MaxResults int      `json:"max_results,omitempty" jsonschema:"description=Maximum number of results to return (default 10)"`
}

// SearchDRSTool searches the FAA Dynamic Regulatory System catalog
// for guidance documents.
type SearchDRSTool struct {
	source drsSource
}

func NewSearchDRSTool(source drsSource) *SearchDRSTool {
	return &SearchDRSTool{source: source}
}

func (t *SearchDRSTool) Definition() Definition {
	return Definition{
		Name: "search_drs",
		Description: "Search the FAA Dynamic Regulatory System (DRS) for guidance documents: " +
			"Advisory Circulars (AC); Airworthiness Directives (AD); Technical Standard Orders (TSO); and Orders. " +
			"Returns document numbers and titles for use with fetch_drs_document.",
		InputSchema: mustSchema(searchDRSInput{}),
	}
}

func (t *SearchDRSTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var in searchDRSInput
	if err := decodeArgs(inv.Args, &in); err != nil {
		return "", err
	}
	docType := in.DocType
	if docType == "" {
		docType = "AC"
	}
	maxResults := in.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	docs, total, err := t.source.Search(ctx, sources.DRSQuery{
		Keywords: in.Keywords,
		DocType:  docType,
	})
	if err != nil {
		if errors.Is(err, sources.ErrNoAPIKey) {
			return "Error: DRS_API_KEY not configured", nil
		}
		var statusErr *sources.StatusError
		if errors.As(err, &statusErr) {
			return fmt.Sprintf("DRS search error: HTTP %d", statusErr.StatusCode), nil
		}
		return fmt.Sprintf("DRS search error: %v", err), nil
	}
	if len(docs) == 0 {
		return "No DRS documents found for keywords: " + strings.Join(in.Keywords, ", "), nil
	}
	if len(docs) > maxResults {
		docs = docs[:maxResults]
	}

	lines := []string{
		"## DRS Search Results",
		fmt.Sprintf("**Keywords:** %s", strings.Join(in.Keywords, ", ")),
		fmt.Sprintf("**Type:** %s", docType),
		"",
	}
	for i, doc := range docs {
		number := doc.Number
		if number == "" {
			number = "Unknown"
		}
		title := doc.Title
		if title == "" {
			title = number
		}
		lines = append(lines, fmt.Sprintf("### %d. %s", i+1, number))
		lines = append(lines, fmt.Sprintf("**Title:** %s", title))
		if doc.Status != "" {
			lines = append(lines, fmt.Sprintf("**Status:** %s", doc.Status))
		}
		if doc.GUID != "" {
			lines = append(lines, fmt.Sprintf("**GUID:** %s", doc.GUID))
		}
		lines = append(lines, "")
	}
	if total > len(docs) {
		lines = append(lines, fmt.Sprintf("\n*Showing %d of %d results*", len(docs), total))
	}
	return strings.Join(lines, "\n"), nil
}

type fetchDRSInput struct {
	DocumentGUID string `json:"document_guid" jsonschema:"required,description=Document number or GUID from search results such as AC 25.1309-1B"`
	DocType      string `json:"doc_type,omitempty" jsonschema:"enum=AC,enum=AD,enum=TSO,enum=Order,description=FAA document type (default AC)"`
}

// FetchDRSTool retrieves one DRS guidance document, extracting the
// PDF text when the portal serves a download.
type FetchDRSTool struct {
	source  drsSource
	fetcher *cache.Fetcher
	sched   scheduler
}

func NewFetchDRSTool(source drsSource, fetcher *cache.Fetcher, sched scheduler) *FetchDRSTool {
	return &FetchDRSTool{source: source, fetcher: fetcher, sched: sched}
}

func (t *FetchDRSTool) NeedsIndexName() {}

func (t *FetchDRSTool) Definition() Definition {
	return Definition{
		Name: "fetch_drs_document",
		Description: "Fetch the full text of an FAA guidance document from DRS by document number or GUID. " +
			"Use after search_drs to read a specific Advisory Circular or Order.",
		InputSchema: mustSchema(fetchDRSInput{}),
	}
}

func (t *FetchDRSTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var in fetchDRSInput
	if err := decodeArgs(inv.Args, &in); err != nil {
		return "", err
	}
	docType := in.DocType
	if docType == "" {
		docType = "AC"
	}

	key := cache.DRSKey(docType, in.DocumentGUID)
	res, err := t.fetcher.Fetch(ctx, key, func(ctx context.Context) (*cache.Envelope, error) {
		doc, err := t.source.FetchDocument(ctx, in.DocumentGUID, docType)
		if err != nil {
			return nil, err
		}

		number := doc.Metadata["doc_number"]
		content := formatDRSDocument(doc, docType)
		docID := docType + "-" + strings.ReplaceAll(sources.NormalizeDocNumber(number), " ", "-")

		return &cache.Envelope{
			Content:     content,
			DocType:     cache.DocTypeDRSDocument,
			DocID:       docID,
			Title:       doc.Title,
			Citation:    doc.Citation,
			CachedAt:    time.Now().UTC(),
			PageCount:   doc.PageCount,
			ContentHash: cache.HashContent([]byte(content)),
			Metadata:    doc.Metadata,
		}, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, sources.ErrNoAPIKey):
			return "Error: DRS_API_KEY not configured", nil
		case errors.Is(err, sources.ErrNotFound):
			return fmt.Sprintf("Document not found: %s/%s", docType, in.DocumentGUID), nil
		}
		var statusErr *sources.StatusError
		if errors.As(err, &statusErr) {
			return fmt.Sprintf("DRS fetch error: HTTP %d", statusErr.StatusCode), nil
		}
		return fmt.Sprintf("DRS fetch error: %v", err), nil
	}

	observability.GetGlobalMetrics().RecordCacheLookup(ctx, cache.DocTypeDRSDocument, res.Hit)

	sourceURL := drsPortalURL + url.QueryEscape(docType)
	scheduleIfDue(t.sched, res.Envelope, key, inv.IndexName, sourceURL)

	return res.Envelope.Content, nil
}

func formatDRSDocument(doc *sources.Document, docType string) string {
	lines := []string{
		fmt.Sprintf("## %s %s", docType, doc.Metadata["doc_number"]),
		fmt.Sprintf("**Title:** %s", doc.Title),
	}
	if status := doc.Metadata["status"]; status != "" {
		lines = append(lines, fmt.Sprintf("**Status:** %s", status))
	}

	switch {
	case doc.Body != "":
		body := doc.Body
		if len(body) > regDocCharCap {
			body = clip(body, regDocCharCap) + truncationNotice
		}
		lines = append(lines, "\n### Document Content\n\n"+body)
	case doc.SourceURL != "":
		lines = append(lines, fmt.Sprintf("\n**Download URL available:** Yes (GUID: %s)", doc.Metadata["guid"]))
		lines = append(lines, "\n*Could not extract text from PDF automatically.*")
	default:
		lines = append(lines, "\n*No download URL available for this document.*")
	}
	return strings.Join(lines, "\n")
}
