package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/httpclient"
)

// ADAMSClient talks to the NRC ADAMS public search API. The NRC
// developer portal gates subscription keys, so the client also
// reports a mock mode (configured, or implied by a missing key) that
// the tool layer uses to serve canned offline responses.
type ADAMSClient struct {
	baseURL string
	apiKey  string
	mock    bool
	http    *httpclient.Client
	pacer   *rate.Limiter
}

// ADAMSQuery is one full-text search. Dates are YYYY-MM-DD and
// optional; DocType matches with the portal's "contains" operator.
type ADAMSQuery struct {
	Query    string
	DocType  string
	DateFrom string
	DateTo   string
	Skip     int
}

// ADAMSDocument is one search hit, flattened from the portal's
// document sub-object.
type ADAMSDocument struct {
	AccessionNumber string
	Title           string
	DocumentDate    string
	DocumentType    string
}

func NewADAMS(cfg config.SourceConfig) *ADAMSClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ADAMSClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		mock:    cfg.Mock,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(1),
			httpclient.WithHeaderParser(httpclient.ParseStandardRateHeaders),
		),
		pacer: newPacer(cfg.RatePerSec),
	}
}

// MockMode reports whether canned responses should be served instead
// of live API calls: either configured explicitly or forced by a
// missing subscription key.
func (c *ADAMSClient) MockMode() bool {
	return c.mock || c.apiKey == ""
}

type apsFilter struct {
	Field    string `json:"field"`
	Value    string `json:"value"`
	Operator string `json:"operator,omitempty"`
}

type apsSearchRequest struct {
	Q               string      `json:"q"`
	Filters         []apsFilter `json:"filters"`
	AnyFilters      []apsFilter `json:"anyFilters"`
	LegacyLibFilter bool        `json:"legacyLibFilter"`
	MainLibFilter   bool        `json:"mainLibFilter"`
	Sort            string      `json:"sort"`
	SortDirection   int         `json:"sortDirection"`
	Skip            int         `json:"skip"`
}

// apsDocument mirrors the portal's document object. Several fields
// come back as either a string or an array depending on the record.
type apsDocument struct {
	AccessionNumber    string      `json:"AccessionNumber"`
	DocumentTitle      string      `json:"DocumentTitle"`
	Name               string      `json:"Name"`
	DocumentDate       string      `json:"DocumentDate"`
	DateAdded          string      `json:"DateAdded"`
	DocumentType       flexStrings `json:"DocumentType"`
	AuthorName         flexStrings `json:"AuthorName"`
	AuthorAffiliation  string      `json:"AuthorAffiliation"`
	Keyword            flexStrings `json:"Keyword"`
	DocketNumber       string      `json:"DocketNumber"`
	URL                string      `json:"Url"`
	Content            string      `json:"content"`
	EstimatedPageCount flexInt     `json:"EstimatedPageCount"`
}

func (d apsDocument) title() string {
	if d.DocumentTitle != "" {
		return d.DocumentTitle
	}
	if d.Name != "" {
		return d.Name
	}
	return "Untitled"
}

func (d apsDocument) date() string {
	if d.DocumentDate != "" {
		return d.DocumentDate
	}
	return d.DateAdded
}

// Search runs a full-text query against the main ADAMS library,
// newest documents first. Returns the hits plus the portal's total
// match count.
func (c *ADAMSClient) Search(ctx context.Context, q ADAMSQuery) ([]ADAMSDocument, int, error) {
	if c.apiKey == "" {
		return nil, 0, ErrNoAPIKey
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, 0, err
	}

	body := apsSearchRequest{
		Q:             q.Query,
		Filters:       []apsFilter{},
		AnyFilters:    []apsFilter{},
		MainLibFilter: true,
		Sort:          "DocumentDate",
		SortDirection: 1,
		Skip:          q.Skip,
	}
	if q.DocType != "" {
		body.Filters = append(body.Filters, apsFilter{
			Field:    "DocumentType",
			Value:    q.DocType,
			Operator: "contains",
		})
	}
	if q.DateFrom != "" {
		body.Filters = append(body.Filters, apsFilter{
			Field: "DocumentDate",
			Value: fmt.Sprintf("(DocumentDate ge '%s')", q.DateFrom),
		})
	}
	if q.DateTo != "" {
		body.Filters = append(body.Filters, apsFilter{
			Field: "DocumentDate",
			Value: fmt.Sprintf("(DocumentDate le '%s')", q.DateTo),
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil && resp == nil {
		return nil, 0, fmt.Errorf("adams search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, &StatusError{StatusCode: resp.StatusCode, URL: c.baseURL}
	}

	var decoded struct {
		Results []json.RawMessage `json:"results"`
		Count   int               `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, 0, fmt.Errorf("failed to decode search response: %w", err)
	}

	docs := make([]ADAMSDocument, 0, len(decoded.Results))
	for _, raw := range decoded.Results {
		doc, err := unwrapAPSDocument(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to decode search hit: %w", err)
		}
		docs = append(docs, ADAMSDocument{
			AccessionNumber: doc.AccessionNumber,
			Title:           doc.title(),
			DocumentDate:    doc.date(),
			DocumentType:    doc.DocumentType.join(),
		})
	}

	total := decoded.Count
	if total == 0 {
		total = len(docs)
	}
	return docs, total, nil
}

// FetchDocument retrieves one document's metadata and, when the
// portal includes it, the extracted text. Accession numbers are
// case-insensitive.
func (c *ADAMSClient) FetchDocument(ctx context.Context, accessionNumber string) (*Document, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	accession := strings.ToUpper(strings.TrimSpace(accessionNumber))
	endpoint := c.baseURL + "/" + accession

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil && resp == nil {
		return nil, fmt.Errorf("adams fetch failed: %w", err)
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
		return nil, fmt.Errorf("failed to read fetch response: %w", err)
	}

	doc, err := unwrapAPSDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if doc.AccessionNumber == "" && doc.DocumentTitle == "" && doc.Name == "" {
		return nil, ErrNotFound
	}

	docType := doc.DocumentType.join()
	if docType == "" {
		docType = "Unknown"
	}

	return &Document{
		Title:     doc.title(),
		Body:      doc.Content,
		Citation:  accession,
		SourceURL: doc.URL,
		PageCount: int(doc.EstimatedPageCount),
		Metadata: map[string]string{
			"accession_number":   accession,
			"document_type":      docType,
			"document_date":      doc.date(),
			"author":             doc.AuthorName.join(),
			"author_affiliation": doc.AuthorAffiliation,
			"docket":             doc.DocketNumber,
			"keywords":           doc.Keyword.join(),
		},
	}, nil
}

// unwrapAPSDocument handles both response shapes the portal emits: a
// bare document object, or one nested under a "document" key.
func unwrapAPSDocument(raw []byte) (apsDocument, error) {
	var wrapper struct {
		Document *apsDocument `json:"document"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Document != nil {
		return *wrapper.Document, nil
	}
	var doc apsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return apsDocument{}, err
	}
	return doc, nil
}

// flexStrings accepts a JSON string, an array of strings, or null.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*f = nil
		return nil
	}
	if trimmed[0] == '[' {
		var list []string
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return err
	}
	if s == "" {
		*f = nil
		return nil
	}
	*f = flexStrings{s}
	return nil
}

func (f flexStrings) join() string {
	return strings.Join(f, ", ")
}

// flexInt accepts a JSON number, a numeric string, or null.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" || string(trimmed) == `""` {
		*f = 0
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexInt(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}
