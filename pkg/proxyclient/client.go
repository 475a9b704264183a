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

// Package proxyclient is the typed client for the search proxy API.
// The proxy is the only component holding vector-store credentials;
// everything the backend knows about indexed content goes through
// this client.
package proxyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/httpclient"
)

// Client calls the search proxy. Safe for concurrent use.
type Client struct {
	baseURL    string
	serviceKey string
	http       *httpclient.Client
}

func New(cfg config.SearchProxyConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(1),
		),
	}
}

// APIError is a non-2xx proxy response with its detail message.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("search proxy returned HTTP %d: %s", e.StatusCode, e.Detail)
}

// IsNotFound reports whether err is a proxy 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsForbidden reports whether err is a proxy 403 (ownership violation).
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// Search queries an index. The ownership filter is the proxy's job;
// results mix regulatory content with the caller's own documents.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/search", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Index writes chunks. The service key rides along when configured so
// the proxy can authorize regulatory (null-owner) writes.
func (c *Client) Index(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	var out IndexResult
	if err := c.doJSON(ctx, http.MethodPost, "/index", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDocuments returns the caller's uploaded documents in index.
func (c *Client) ListDocuments(ctx context.Context, fingerprint, index string) (*DocumentList, error) {
	q := url.Values{"fingerprint": {fingerprint}, "index": {index}}
	var out DocumentList
	if err := c.doJSON(ctx, http.MethodGet, "/documents", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDocumentContent reassembles a personal document's full text from
// its chunks. Only the owner can read it.
func (c *Client) GetDocumentContent(ctx context.Context, documentID, fingerprint, index string) (*DocumentContent, error) {
	q := url.Values{"fingerprint": {fingerprint}, "index": {index}}
	path := "/documents/" + url.PathEscape(documentID) + "/content"
	var out DocumentContent
	if err := c.doJSON(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDocument removes a personal document and all its chunks.
func (c *Client) DeleteDocument(ctx context.Context, documentID, fingerprint, index string) (*DeleteResult, error) {
	q := url.Values{"fingerprint": {fingerprint}, "index": {index}}
	path := "/documents/" + url.PathEscape(documentID)
	var out DeleteResult
	if err := c.doJSON(ctx, http.MethodDelete, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode proxy request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to build proxy request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.serviceKey != "" {
		req.Header.Set("X-Service-Key", c.serviceKey)
	}

	resp, err := c.http.Do(req)
	if err != nil && resp == nil {
		return fmt.Errorf("proxy request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode proxy response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var envelope struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Detail != "" {
		apiErr.Detail = envelope.Detail
	} else {
		apiErr.Detail = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
