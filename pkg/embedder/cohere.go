package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/httpclient"
)

// Cohere caps embed batches at 96 texts per request.
const cohereBatchSize = 96

// CohereEmbedder calls the Cohere embeddings API.
type CohereEmbedder struct {
	config     config.EmbedderConfig
	baseURL    string
	httpClient *httpclient.Client
}

var _ Embedder = (*CohereEmbedder)(nil)

type CohereEmbedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
	// InputType is "search_query" or "search_document"; v3 models
	// embed the two differently.
	InputType string `json:"input_type,omitempty"`
	Truncate  string `json:"truncate,omitempty"`
}

type CohereEmbedResponse struct {
	ID         string      `json:"id"`
	Texts      []string    `json:"texts"`
	Embeddings [][]float32 `json:"embeddings"`
}

type CohereErrorResponse struct {
	Message string `json:"message"`
}

func NewCohereEmbedder(cfg config.EmbedderConfig) (*CohereEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Cohere embedder")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.cohere.ai/v1"
	}

	return &CohereEmbedder{
		config:  cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithHeaderParser(httpclient.ParseStandardRateHeaders),
		),
	}, nil
}

func (e *CohereEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.embed(ctx, []string{text}, "search_query")
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("received empty embedding from Cohere")
	}
	return embeddings[0], nil
}

func (e *CohereEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += cohereBatchSize {
		end := i + cohereBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		embeddings, err := e.embed(ctx, texts[i:end], "search_document")
		if err != nil {
			return nil, err
		}
		if len(embeddings) != end-i {
			return nil, fmt.Errorf("Cohere returned %d embeddings for %d texts", len(embeddings), end-i)
		}
		results = append(results, embeddings...)
	}

	return results, nil
}

func (e *CohereEmbedder) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	reqBody, err := json.Marshal(CohereEmbedRequest{
		Texts:     texts,
		Model:     e.config.Model,
		InputType: inputType,
		Truncate:  "END",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(reqBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil && resp == nil {
		return nil, fmt.Errorf("failed to send request to Cohere: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp CohereErrorResponse
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Message != "" {
			return nil, fmt.Errorf("Cohere API error: %s", errorResp.Message)
		}
		return nil, fmt.Errorf("Cohere API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response CohereEmbedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return response.Embeddings, nil
}

func (e *CohereEmbedder) Dimension() int {
	return e.config.Dimensions
}

func (e *CohereEmbedder) ModelName() string {
	return e.config.Model
}

func (e *CohereEmbedder) Close() error {
	return nil
}
