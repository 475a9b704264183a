package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tudor-baraboi/cfr-agents/pkg/proxyclient"
)

type indexSearcher interface {
	Search(ctx context.Context, req proxyclient.SearchRequest) (*proxyclient.SearchResponse, error)
}

type searchIndexedInput struct {
	Query string `json:"query" jsonschema:"required,description=What to search for in previously fetched regulatory documents and uploaded files"`
	Top   int    `json:"top,omitempty" jsonschema:"description=Number of results to return (default 5; max 10)"`
}

// SearchIndexedTool queries the agent's vector index: previously
// fetched regulatory documents plus the caller's own uploads.
type SearchIndexedTool struct {
	proxy indexSearcher
}

func NewSearchIndexedTool(proxy indexSearcher) *SearchIndexedTool {
	return &SearchIndexedTool{proxy: proxy}
}

func (t *SearchIndexedTool) NeedsIndexName()   {}
func (t *SearchIndexedTool) NeedsFingerprint() {}

func (t *SearchIndexedTool) Definition() Definition {
	return Definition{
		Name: "search_indexed_content",
		Description: "Search previously fetched regulatory documents and your uploaded files. " +
			"Fast semantic search over everything this agent has already seen. " +
			"Try this before fetching from source systems.",
		InputSchema: mustSchema(searchIndexedInput{}),
	}
}

func (t *SearchIndexedTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var in searchIndexedInput
	if err := decodeArgs(inv.Args, &in); err != nil {
		return "", err
	}
	top := in.Top
	if top <= 0 {
		top = 5
	}
	if top > 10 {
		top = 10
	}

	resp, err := t.proxy.Search(ctx, proxyclient.SearchRequest{
		Query:       in.Query,
		Index:       inv.IndexName,
		Fingerprint: inv.Fingerprint,
		Top:         top,
	})
	if err != nil {
		var apiErr *proxyclient.APIError
		if errors.As(err, &apiErr) {
			return fmt.Sprintf("Search error: HTTP %d", apiErr.StatusCode), nil
		}
		return fmt.Sprintf("Search error: %v", err), nil
	}
	hits := resp.Results
	if len(hits) == 0 {
		return fmt.Sprintf("No results found for: %s", in.Query), nil
	}

	lines := []string{fmt.Sprintf("## Search Results for: %s\n", in.Query)}
	for i, hit := range hits {
		title := hit.Title
		if title == "" {
			title = "Untitled"
		}
		lines = append(lines, fmt.Sprintf("### %d. %s", i+1, title))
		if hit.Citation != "" {
			lines = append(lines, fmt.Sprintf("**Citation:** %s", hit.Citation))
		}
		if hit.Source != "" {
			lines = append(lines, fmt.Sprintf("**Source:** %s", hit.Source))
		}
		lines = append(lines, fmt.Sprintf("\n%s...", clip(hit.Content, 500)))
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n"), nil
}
