package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/cache"
	"github.com/tudor-baraboi/cfr-agents/pkg/observability"
	"github.com/tudor-baraboi/cfr-agents/pkg/sources"
)

// cfrPortalURL points the indexer at the public eCFR page for a
// section; the args are title, part, part, section base.
const cfrPortalURL = "https://www.ecfr.gov/current/title-%d/chapter-I/subchapter-C/part-%d/section-%d.%s"

type cfrSource interface {
	FetchSection(ctx context.Context, title int, part, section, date string) (*sources.Document, error)
}

type fetchCFRInput struct {
	Title   int    `json:"title,omitempty" jsonschema:"description=CFR title number (default 14 for aviation; 10 for nuclear energy)"`
	Part    int    `json:"part" jsonschema:"required,description=CFR part number such as 25 or 121"`
	Section string `json:"section" jsonschema:"required,description=Section number such as 1309 or 1309(a) for section 25.1309"`
	Date    string `json:"date,omitempty" jsonschema:"description=Optional point-in-time date as YYYY-MM-DD for historical versions"`
}

// FetchCFRTool retrieves one CFR section from the eCFR API through
// the document cache.
type FetchCFRTool struct {
	source  cfrSource
	fetcher *cache.Fetcher
	sched   scheduler
}

func NewFetchCFRTool(source cfrSource, fetcher *cache.Fetcher, sched scheduler) *FetchCFRTool {
	return &FetchCFRTool{source: source, fetcher: fetcher, sched: sched}
}

func (t *FetchCFRTool) NeedsIndexName() {}

func (t *FetchCFRTool) Definition() Definition {
	return Definition{
		Name: "fetch_cfr_section",
		Description: "Fetch the full current text of a CFR section from the eCFR. " +
			"Use when you need exact regulatory language rather than a summary.",
		InputSchema: mustSchema(fetchCFRInput{}),
	}
}

func (t *FetchCFRTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var in fetchCFRInput
	if err := decodeArgs(inv.Args, &in); err != nil {
		return "", err
	}
	if in.Title == 0 {
		in.Title = 14
	}

	// "25.1309" and "1309(a)" both resolve to the section base.
	base := sources.SectionBase(in.Section)
	key := cache.CFRKey(in.Title, strconv.Itoa(in.Part), base)

	res, err := t.fetcher.Fetch(ctx, key, func(ctx context.Context) (*cache.Envelope, error) {
		doc, err := t.source.FetchSection(ctx, in.Title, strconv.Itoa(in.Part), base, in.Date)
		if err != nil {
			return nil, err
		}
		content := "## " + doc.Title + "\n\n" + doc.Body
		return &cache.Envelope{
			Content:     content,
			DocType:     cache.DocTypeCFRSection,
			DocID:       fmt.Sprintf("%d-%d-%s", in.Title, in.Part, base),
			Title:       doc.Title,
			Citation:    doc.Citation,
			CachedAt:    time.Now().UTC(),
			ContentHash: cache.HashContent([]byte(content)),
			Metadata:    doc.Metadata,
		}, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, sources.ErrNotFound):
			return fmt.Sprintf("Section not found: %d CFR %d.%s", in.Title, in.Part, base), nil
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Sprintf("Error: Timeout fetching %d CFR %d.%s", in.Title, in.Part, base), nil
		}
		var statusErr *sources.StatusError
		if errors.As(err, &statusErr) {
			return fmt.Sprintf("Error fetching %d CFR %d.%s: HTTP %d", in.Title, in.Part, base, statusErr.StatusCode), nil
		}
		return fmt.Sprintf("Error fetching %d CFR %d.%s: %v", in.Title, in.Part, base, err), nil
	}

	observability.GetGlobalMetrics().RecordCacheLookup(ctx, cache.DocTypeCFRSection, res.Hit)

	sourceURL := fmt.Sprintf(cfrPortalURL, in.Title, in.Part, in.Part, base)
	scheduleIfDue(t.sched, res.Envelope, key, inv.IndexName, sourceURL)

	return res.Envelope.Content, nil
}
