package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/httpclient"
)

// ECFRClient fetches CFR section text from the eCFR versioner API.
// The API is public; no key is required.
type ECFRClient struct {
	baseURL string
	http    *httpclient.Client
	pacer   *rate.Limiter
}

func NewECFR(cfg config.SourceConfig) *ECFRClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ECFRClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(1),
			httpclient.WithHeaderParser(httpclient.ParseStandardRateHeaders),
		),
		pacer: newPacer(cfg.RatePerSec),
	}
}

// SectionBase strips subsection references from a section number:
// "1309(a)" and "1309[1]" both reduce to "1309". Cache keys and API
// calls always use the base number.
func SectionBase(section string) string {
	if i := strings.IndexAny(section, "(["); i >= 0 {
		section = section[:i]
	}
	return strings.TrimSpace(section)
}

// LatestIssueDate returns the most recent issue date (YYYY-MM-DD) the
// versioner has for a CFR title.
func (c *ECFRClient) LatestIssueDate(ctx context.Context, title int) (string, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/titles.json", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build titles request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil && resp == nil {
		return "", fmt.Errorf("failed to fetch title list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, URL: req.URL.String()}
	}

	var payload struct {
		Titles []struct {
			Number          int    `json:"number"`
			LatestIssueDate string `json:"latest_issue_date"`
		} `json:"titles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode title list: %w", err)
	}

	for _, t := range payload.Titles {
		if t.Number == title {
			if t.LatestIssueDate == "" {
				break
			}
			return t.LatestIssueDate, nil
		}
	}
	return "", fmt.Errorf("no issue date for CFR title %d", title)
}

// FetchSection retrieves one CFR section, rendered to markdown. An
// empty date means the latest available issue. Subsection references
// in section ("1309(a)") are tolerated and reduced to the base number.
func (c *ECFRClient) FetchSection(ctx context.Context, title int, part, section, date string) (*Document, error) {
	base := SectionBase(section)

	if date == "" {
		latest, err := c.LatestIssueDate(ctx, title)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve latest issue date: %w", err)
		}
		date = latest
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/full/%s/title-%d.xml", c.baseURL, date, title)
	params := url.Values{}
	params.Set("part", part)
	params.Set("section", fmt.Sprintf("%s.%s", part, base))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build section request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil && resp == nil {
		return nil, fmt.Errorf("failed to fetch section: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read section body: %w", err)
	}

	docTitle := fmt.Sprintf("%d CFR §%s.%s", title, part, base)
	return &Document{
		Title:    docTitle,
		Body:     renderSectionXML(string(raw)),
		Citation: fmt.Sprintf("%d CFR %s.%s", title, part, base),
		SourceURL: fmt.Sprintf("https://www.ecfr.gov/current/title-%d/chapter-I/subchapter-C/part-%s/section-%s.%s",
			title, part, part, base),
		Metadata: map[string]string{
			"title":   fmt.Sprintf("%d", title),
			"part":    part,
			"section": base,
			"date":    date,
		},
	}, nil
}

var (
	reParaOpen  = regexp.MustCompile(`<P[^>]*>`)
	reParaClose = regexp.MustCompile(`</P>`)
	reHD1       = regexp.MustCompile(`<HD[^>]*SOURCE="HD1"[^>]*>([^<]+)</HD>`)
	reHD        = regexp.MustCompile(`<HD[^>]*>([^<]+)</HD>`)
	reSectno    = regexp.MustCompile(`<SECTNO>([^<]+)</SECTNO>`)
	reSubject   = regexp.MustCompile(`<SUBJECT>([^<]+)</SUBJECT>`)
	reAnyTag    = regexp.MustCompile(`<[^>]+>`)
	reBlankRuns = regexp.MustCompile(`\n\s*\n\s*\n`)
)

// renderSectionXML flattens eCFR section XML into readable markdown.
// Paragraphs become lines, HD1 headings become ###, other headings and
// section numbers bold, subjects italic; everything else is stripped.
func renderSectionXML(xml string) string {
	text := xml

	text = reParaOpen.ReplaceAllString(text, "\n")
	text = reParaClose.ReplaceAllString(text, "")

	text = reHD1.ReplaceAllString(text, "\n### $1\n")
	text = reHD.ReplaceAllString(text, "\n**$1**\n")

	text = reSectno.ReplaceAllString(text, "**$1**")
	text = reSubject.ReplaceAllString(text, "*$1*\n")

	text = reAnyTag.ReplaceAllString(text, "")

	text = reBlankRuns.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
	)
	return replacer.Replace(text)
}
