package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/tudor-baraboi/cfr-agents/pkg/proxyclient"
)

type fakeSearcher struct {
	resp *proxyclient.SearchResponse
	err  error

	gotReq proxyclient.SearchRequest
}

func (f *fakeSearcher) Search(ctx context.Context, req proxyclient.SearchRequest) (*proxyclient.SearchResponse, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestSearchIndexedFormatsResults(t *testing.T) {
	searcher := &fakeSearcher{
		resp: &proxyclient.SearchResponse{
			Results: []proxyclient.SearchHit{
				{
					Title:    "14 CFR §25.1309",
					Citation: "14 CFR 25.1309",
					Source:   "ecfr",
					Content:  "Equipment, systems, and installations must be designed so that catastrophic failure conditions are extremely improbable.",
				},
				{
					Content: "Advisory material on system safety assessments.",
				},
			},
		},
	}
	tool := NewSearchIndexedTool(searcher)

	got, err := tool.Execute(context.Background(), Invocation{
		Args:        map[string]any{"query": "failure conditions"},
		IndexName:   "faa-agent",
		Fingerprint: "fp-1234567890abcdef",
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"## Search Results for: failure conditions\n",
		"### 1. 14 CFR §25.1309",
		"**Citation:** 14 CFR 25.1309",
		"**Source:** ecfr",
		"extremely improbable",
		"### 2. Untitled",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("result missing %q:\n%s", want, got)
		}
	}

	// Tenant context rides along on the request.
	if searcher.gotReq.Index != "faa-agent" {
		t.Errorf("request Index = %q", searcher.gotReq.Index)
	}
	if searcher.gotReq.Fingerprint != "fp-1234567890abcdef" {
		t.Errorf("request Fingerprint = %q", searcher.gotReq.Fingerprint)
	}
	if searcher.gotReq.Top != 5 {
		t.Errorf("request Top = %d, want default 5", searcher.gotReq.Top)
	}
}

func TestSearchIndexedIgnoresSpoofedContext(t *testing.T) {
	searcher := &fakeSearcher{resp: &proxyclient.SearchResponse{}}
	tool := NewSearchIndexedTool(searcher)

	// index_name and fingerprint in the argument object come from the
	// model; only the injected invocation values may reach the proxy.
	if _, err := tool.Execute(context.Background(), Invocation{
		Args: map[string]any{
			"query":       "q",
			"index_name":  "dod-agent",
			"fingerprint": "fp-somebody-else",
		},
		IndexName:   "faa-agent",
		Fingerprint: "fp-1234567890abcdef",
	}); err != nil {
		t.Fatal(err)
	}
	if searcher.gotReq.Index != "faa-agent" {
		t.Errorf("request Index = %q, want injected faa-agent", searcher.gotReq.Index)
	}
	if searcher.gotReq.Fingerprint != "fp-1234567890abcdef" {
		t.Errorf("request Fingerprint = %q, want injected fingerprint", searcher.gotReq.Fingerprint)
	}
}

func TestSearchIndexedExcerptsAreClipped(t *testing.T) {
	searcher := &fakeSearcher{
		resp: &proxyclient.SearchResponse{
			Results: []proxyclient.SearchHit{
				{Title: "Long", Content: strings.Repeat("x", 2000)},
			},
		},
	}
	tool := NewSearchIndexedTool(searcher)

	got, err := tool.Execute(context.Background(), Invocation{
		Args: map[string]any{"query": "q"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, strings.Repeat("x", 500)+"...") {
		t.Error("excerpt not clipped to 500 chars")
	}
	if strings.Contains(got, strings.Repeat("x", 501)) {
		t.Error("excerpt longer than 500 chars")
	}
}

func TestSearchIndexedTopClamped(t *testing.T) {
	searcher := &fakeSearcher{resp: &proxyclient.SearchResponse{}}
	tool := NewSearchIndexedTool(searcher)

	if _, err := tool.Execute(context.Background(), Invocation{
		Args: map[string]any{"query": "q", "top": float64(50)},
	}); err != nil {
		t.Fatal(err)
	}
	if searcher.gotReq.Top != 10 {
		t.Errorf("request Top = %d, want clamp to 10", searcher.gotReq.Top)
	}
}

func TestSearchIndexedNoResults(t *testing.T) {
	tool := NewSearchIndexedTool(&fakeSearcher{resp: &proxyclient.SearchResponse{}})

	got, err := tool.Execute(context.Background(), Invocation{
		Args: map[string]any{"query": "unobtainium"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := "No results found for: unobtainium"; got != want {
		t.Errorf("Execute() = %q, want %q", got, want)
	}
}

func TestSearchIndexedErrorText(t *testing.T) {
	tool := NewSearchIndexedTool(&fakeSearcher{
		err: &proxyclient.APIError{StatusCode: 502, Detail: "bad gateway"},
	})

	got, err := tool.Execute(context.Background(), Invocation{
		Args: map[string]any{"query": "q"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := "Search error: HTTP 502"; got != want {
		t.Errorf("Execute() = %q, want %q", got, want)
	}
}
