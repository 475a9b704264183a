package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/httpclient"
)

// DRSClient talks to the FAA Dynamic Regulatory System. Every call
// needs an API key; without one the client fails fast with
// ErrNoAPIKey so the tool layer can tell the user what is missing.
type DRSClient struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
	pacer   *rate.Limiter
	logger  *slog.Logger
}

// DRSQuery is one catalog search. Zero-value fields get the portal
// defaults: doc type AC, status Current.
type DRSQuery struct {
	Keywords []string
	DocType  string
	Statuses []string
	Offset   int
}

// DRSDocument is one search hit from the DRS catalog. Field names
// follow the portal's JSON.
type DRSDocument struct {
	Number      string `json:"drs:documentNumber"`
	Title       string `json:"drs:title"`
	Status      string `json:"drs:status"`
	GUID        string `json:"documentGuid"`
	DownloadURL string `json:"mainDocumentDownloadURL"`
}

func NewDRS(cfg config.SourceConfig) *DRSClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &DRSClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(1),
			httpclient.WithHeaderParser(httpclient.ParseStandardRateHeaders),
		),
		pacer:  newPacer(cfg.RatePerSec),
		logger: slog.Default().With("component", "sources.drs"),
	}
}

type drsSearchRequest struct {
	Offset          int            `json:"offset"`
	DocumentFilters drsFilterBlock `json:"documentFilters"`
}

type drsFilterBlock struct {
	Status  []string `json:"drs:status"`
	Keyword []string `json:"Keyword"`
}

type drsSearchResponse struct {
	Documents []DRSDocument `json:"documents"`
	Summary   struct {
		TotalItems int `json:"totalItems"`
	} `json:"summary"`
}

// Search queries the DRS catalog. The portal caps keyword filters at
// ten terms; extras are dropped. Returns the hits plus the portal's
// total match count.
func (c *DRSClient) Search(ctx context.Context, q DRSQuery) ([]DRSDocument, int, error) {
	if c.apiKey == "" {
		return nil, 0, ErrNoAPIKey
	}

	docType := q.DocType
	if docType == "" {
		docType = "AC"
	}
	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = []string{"Current"}
	}
	keywords := q.Keywords
	if len(keywords) > 10 {
		keywords = keywords[:10]
	}

	resp, err := c.postFiltered(ctx, docType, drsSearchRequest{
		Offset: q.Offset,
		DocumentFilters: drsFilterBlock{
			Status:  statuses,
			Keyword: keywords,
		},
	})
	if err != nil {
		return nil, 0, err
	}

	total := resp.Summary.TotalItems
	if total == 0 {
		total = len(resp.Documents)
	}
	return resp.Documents, total, nil
}

// FetchDocument resolves a document number to a catalog entry,
// downloads its PDF, and extracts the text. Document numbers are
// matched tolerantly: "AC25.1309-1A", "ac 25.1309-1a" and
// "AC 25.1309-1A CHG 1" all resolve to the same document. The body is
// left empty when no download URL exists or text extraction fails;
// the tool layer decides how to present that.
func (c *DRSClient) FetchDocument(ctx context.Context, docNumber, docType string) (*Document, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if docType == "" {
		docType = "AC"
	}

	resp, err := c.postFiltered(ctx, docType, drsSearchRequest{
		DocumentFilters: drsFilterBlock{
			Status:  []string{"Current"},
			Keyword: []string{docNumber},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Documents) == 0 {
		return nil, ErrNotFound
	}

	match, exact := bestDocMatch(resp.Documents, docNumber)
	if !exact {
		c.logger.Warn("no exact document number match",
			"requested", docNumber,
			"using", match.Number)
	}

	title := match.Title
	if title == "" {
		title = match.Number
	}

	doc := &Document{
		Title:     title,
		Citation:  fmt.Sprintf("%s %s", docType, match.Number),
		SourceURL: match.DownloadURL,
		Metadata: map[string]string{
			"doc_number": match.Number,
			"doc_type":   docType,
			"status":     match.Status,
			"guid":       match.GUID,
		},
	}

	if match.DownloadURL != "" {
		text, pages, err := c.downloadPDF(ctx, match.DownloadURL)
		if err != nil {
			c.logger.Warn("pdf text extraction failed",
				"doc_number", match.Number,
				"error", err)
		} else {
			doc.Body = text
			doc.PageCount = pages
		}
	}
	return doc, nil
}

func (c *DRSClient) postFiltered(ctx context.Context, docType string, body drsSearchRequest) (*drsSearchResponse, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/data-pull/%s/filtered", c.baseURL, url.PathEscape(docType))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil && resp == nil {
		return nil, fmt.Errorf("drs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	var decoded drsSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &decoded, nil
}

func (c *DRSClient) downloadPDF(ctx context.Context, downloadURL string) (string, int, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to build download request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil && resp == nil {
		return "", 0, fmt.Errorf("pdf download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, &StatusError{StatusCode: resp.StatusCode, URL: downloadURL}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("pdf download failed: %w", err)
	}
	return ExtractPDFText(data)
}

// bestDocMatch picks the catalog entry that best matches the requested
// number: exact normalized match wins, then base-number match
// (revision suffixes like "CHG 2" ignored), then the last prefix
// match, then the first hit. The bool reports whether anything beyond
// the first-hit fallback matched.
func bestDocMatch(docs []DRSDocument, requested string) (DRSDocument, bool) {
	normalizedInput := NormalizeDocNumber(requested)
	baseInput := BaseDocNumber(requested)

	var prefixHit *DRSDocument
	for i := range docs {
		normalized := NormalizeDocNumber(docs[i].Number)
		if normalized == normalizedInput {
			return docs[i], true
		}
		if BaseDocNumber(normalized) == baseInput {
			return docs[i], true
		}
		if strings.HasPrefix(normalized, normalizedInput) ||
			strings.HasPrefix(normalizedInput, BaseDocNumber(normalized)) {
			prefixHit = &docs[i]
		}
	}
	if prefixHit != nil {
		return *prefixHit, true
	}
	return docs[0], false
}

var (
	reDocWhitespace = regexp.MustCompile(`\s+`)
	reDocTypePrefix = regexp.MustCompile(`^(AC|AD|TSO|ORDER)\s*`)
	reDocChgSuffix  = regexp.MustCompile(`(?i)\s+(CHG|CHANGE)\s*\d*$`)
	reDocEdUpdate   = regexp.MustCompile(`(?i)\s+ED\s+UPDATE\s*\d*$`)
)

// NormalizeDocNumber canonicalizes an FAA document number for
// comparison: uppercase, collapsed whitespace, and a single space
// after the type prefix ("AC25.1309-1A" becomes "AC 25.1309-1A").
func NormalizeDocNumber(docNumber string) string {
	n := strings.ToUpper(strings.TrimSpace(docNumber))
	n = reDocWhitespace.ReplaceAllString(n, " ")
	n = reDocTypePrefix.ReplaceAllString(n, "${1} ")
	return n
}

// BaseDocNumber strips change and edition-update suffixes from a
// normalized document number, so "AC 25.1309-1A CHG 2" compares equal
// to "AC 25.1309-1A".
func BaseDocNumber(docNumber string) string {
	n := NormalizeDocNumber(docNumber)
	n = reDocChgSuffix.ReplaceAllString(n, "")
	n = reDocEdUpdate.ReplaceAllString(n, "")
	return strings.TrimSpace(n)
}
