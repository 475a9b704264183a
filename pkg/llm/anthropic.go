package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/httpclient"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider streams turns from the Anthropic Messages API.
type AnthropicProvider struct {
	config     config.LLMConfig
	baseURL    string
	httpClient *httpclient.Client
}

var _ Provider = (*AnthropicProvider)(nil)

type AnthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []AnthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Tools       []AnthropicTool    `json:"tools,omitempty"`
	Thinking    *AnthropicThinking `json:"thinking,omitempty"`
}

type AnthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type AnthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type AnthropicMessage struct {
	Role    string             `json:"role"`
	Content []AnthropicContent `json:"content"`
}

type AnthropicContent struct {
	Type      string                  `json:"type"`
	Text      string                  `json:"text,omitempty"`
	Thinking  string                  `json:"thinking,omitempty"`
	Signature string                  `json:"signature,omitempty"`
	ID        string                  `json:"id,omitempty"`
	Name      string                  `json:"name,omitempty"`
	Input     *map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                  `json:"tool_use_id,omitempty"`
	Content   string                  `json:"content,omitempty"`
	IsError   bool                    `json:"is_error,omitempty"`
}

type AnthropicStreamResponse struct {
	Type         string              `json:"type"`
	Index        int                 `json:"index,omitempty"`
	Delta        *AnthropicDelta     `json:"delta,omitempty"`
	ContentBlock *AnthropicContent   `json:"content_block,omitempty"`
	Message      *AnthropicMsgStart  `json:"message,omitempty"`
	Usage        *Usage              `json:"usage,omitempty"`
	Error        *AnthropicErrorBody `json:"error,omitempty"`
}

type AnthropicMsgStart struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

type AnthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type AnthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicErrorEnvelope struct {
	Error *AnthropicErrorBody `json:"error"`
}

// NewAnthropicProvider builds the provider from validated config.
//
// The underlying HTTP client never retries: the orchestrator owns the
// retry loop so it can surface each attempt to the client as events.
// The http.Client carries no overall timeout either, because it would
// cut long streams short; the transport bounds time to first byte and
// the turn context bounds everything else.
func NewAnthropicProvider(cfg config.LLMConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	return &AnthropicProvider{
		config:  cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Transport: &http.Transport{ResponseHeaderTimeout: cfg.Timeout},
			}),
			httpclient.WithRetryStrategy(httpclient.PassthroughRetryStrategy),
		),
	}, nil
}

func (p *AnthropicProvider) ModelName() string {
	return p.config.Model
}

func (p *AnthropicProvider) Close() error {
	return nil
}

// Stream opens one streaming model call. Events arrive on the returned
// channel; the channel closes after the terminal stop or error event.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	request := p.buildRequest(req, true)

	out := make(chan Event, 64)

	go func() {
		defer close(out)

		if err := p.stream(ctx, request, out); err != nil {
			// Best effort: the consumer may already be gone.
			select {
			case out <- Event{Type: EventError, Err: err}:
			default:
			}
		}
	}()

	return out, nil
}

func (p *AnthropicProvider) buildRequest(req Request, stream bool) AnthropicRequest {
	messages := make([]AnthropicMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, AnthropicMessage{
			Role:    string(msg.Role),
			Content: toWireContent(msg.Content),
		})
	}

	request := AnthropicRequest{
		Model:     p.config.Model,
		Messages:  messages,
		MaxTokens: p.config.MaxTokens,
		Stream:    stream,
		System:    req.System,
	}

	if p.config.Temperature != nil {
		request.Temperature = *p.config.Temperature
	}

	if p.config.ReasoningBudget > 0 {
		request.Thinking = &AnthropicThinking{
			Type:         "enabled",
			BudgetTokens: p.config.ReasoningBudget,
		}
		// The API requires max_tokens above the thinking budget and
		// rejects explicit temperature when thinking is on.
		if request.MaxTokens <= p.config.ReasoningBudget {
			request.MaxTokens = p.config.ReasoningBudget + 1024
		}
		request.Temperature = 0
	}

	if len(req.Tools) > 0 {
		tools := make([]AnthropicTool, len(req.Tools))
		for i, tool := range req.Tools {
			tools[i] = AnthropicTool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			}
		}
		request.Tools = tools
	}

	return request
}

func toWireContent(blocks []ContentBlock) []AnthropicContent {
	out := make([]AnthropicContent, 0, len(blocks))
	for _, b := range blocks {
		c := AnthropicContent{Type: string(b.Type)}
		switch b.Type {
		case BlockText:
			c.Text = b.Text
		case BlockThinking:
			c.Thinking = b.Thinking
			c.Signature = b.Signature
		case BlockToolUse:
			c.ID = b.ID
			c.Name = b.Name
			input := b.Input
			if input == nil {
				input = map[string]interface{}{}
			}
			c.Input = &input
		case BlockToolResult:
			c.ToolUseID = b.ToolUseID
			c.Content = b.Content
			c.IsError = b.IsError
		}
		out = append(out, c)
	}
	return out
}

func (p *AnthropicProvider) stream(ctx context.Context, request AnthropicRequest, out chan<- Event) error {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	// Do reports non-2xx statuses as errors alongside the response;
	// only a nil response means the request never completed.
	resp, err := p.httpClient.Do(req)
	if err != nil && resp == nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return classifyHTTPError(resp, body)
	}

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		assistant  = Message{Role: RoleAssistant}
		open       = make(map[int]*ContentBlock)
		jsonBufs   = make(map[int]*strings.Builder)
		usage      Usage
		stopReason string
	)

	scanner := bufio.NewScanner(resp.Body)
	// Tool input deltas can push a data line past the default 64KB
	// token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var streamResp AnthropicStreamResponse
		if err := json.Unmarshal([]byte(data), &streamResp); err != nil {
			return fmt.Errorf("failed to decode streaming response: %w, data: %s", err, data)
		}

		switch streamResp.Type {
		case "message_start":
			if streamResp.Message != nil {
				usage.InputTokens = streamResp.Message.Usage.InputTokens
			}

		case "content_block_start":
			if streamResp.ContentBlock == nil {
				continue
			}
			block := &ContentBlock{Type: BlockType(streamResp.ContentBlock.Type)}
			switch block.Type {
			case BlockText:
				block.Text = streamResp.ContentBlock.Text
			case BlockThinking:
				block.Thinking = streamResp.ContentBlock.Thinking
			case BlockToolUse:
				block.ID = streamResp.ContentBlock.ID
				block.Name = streamResp.ContentBlock.Name
				jsonBufs[streamResp.Index] = &strings.Builder{}
			}
			open[streamResp.Index] = block

		case "content_block_delta":
			if streamResp.Delta == nil {
				continue
			}
			block := open[streamResp.Index]
			switch streamResp.Delta.Type {
			case "text_delta":
				if block != nil {
					block.Text += streamResp.Delta.Text
				}
				if streamResp.Delta.Text != "" {
					if !send(Event{Type: EventText, Text: streamResp.Delta.Text}) {
						return ctx.Err()
					}
				}
			case "thinking_delta":
				if block != nil {
					block.Thinking += streamResp.Delta.Thinking
				}
				if streamResp.Delta.Thinking != "" {
					if !send(Event{Type: EventReasoning, Text: streamResp.Delta.Thinking}) {
						return ctx.Err()
					}
				}
			case "signature_delta":
				if block != nil {
					block.Signature += streamResp.Delta.Signature
				}
			case "input_json_delta":
				if buf, ok := jsonBufs[streamResp.Index]; ok {
					buf.WriteString(streamResp.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			block, ok := open[streamResp.Index]
			if !ok {
				continue
			}
			delete(open, streamResp.Index)

			if block.Type == BlockToolUse {
				block.Input = map[string]interface{}{}
				if buf, ok := jsonBufs[streamResp.Index]; ok {
					delete(jsonBufs, streamResp.Index)
					if raw := buf.String(); raw != "" {
						var args map[string]interface{}
						if err := json.Unmarshal([]byte(raw), &args); err != nil {
							return &ProviderError{
								Kind:    KindTransient,
								Message: fmt.Sprintf("malformed tool input for %s: %v", block.Name, err),
							}
						}
						if args != nil {
							block.Input = args
						}
					}
				}
			}

			assistant.Content = append(assistant.Content, *block)

			if block.Type == BlockToolUse {
				call := &ToolCall{ID: block.ID, Name: block.Name, Input: block.Input}
				if !send(Event{Type: EventToolUse, ToolCall: call}) {
					return ctx.Err()
				}
			}

		case "message_delta":
			if streamResp.Delta != nil && streamResp.Delta.StopReason != "" {
				stopReason = streamResp.Delta.StopReason
			}
			if streamResp.Usage != nil {
				usage.OutputTokens = streamResp.Usage.OutputTokens
			}

		case "message_stop":
			send(Event{
				Type:       EventStop,
				Message:    &assistant,
				StopReason: stopReason,
				Usage:      &usage,
			})
			return nil

		case "error":
			if streamResp.Error != nil {
				return classifyAPIError(0, streamResp.Error.Type, streamResp.Error.Message, 0)
			}
			return &ProviderError{Kind: KindTransient, Message: "stream error without detail"}
		}
	}

	if err := scanner.Err(); err != nil {
		return classifyTransportError(err)
	}

	// The stream ended without message_stop.
	return &ProviderError{Kind: KindTransient, Message: "stream ended before message_stop"}
}

func classifyHTTPError(resp *http.Response, body []byte) *ProviderError {
	var envelope anthropicErrorEnvelope
	_ = json.Unmarshal(body, &envelope)

	apiType := ""
	message := strings.TrimSpace(string(body))
	if envelope.Error != nil {
		apiType = envelope.Error.Type
		message = envelope.Error.Message
	}

	info := httpclient.ParseAnthropicHeaders(resp.Header)
	return classifyAPIError(resp.StatusCode, apiType, message, info.RetryAfter)
}

func classifyAPIError(statusCode int, apiType, message string, retryAfter time.Duration) *ProviderError {
	pe := &ProviderError{
		StatusCode: statusCode,
		APIType:    apiType,
		Message:    message,
		RetryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusTooManyRequests || apiType == "rate_limit_error":
		pe.Kind = KindRateLimited
	case statusCode >= 500, statusCode == http.StatusRequestTimeout,
		apiType == "overloaded_error", apiType == "api_error":
		pe.Kind = KindTransient
	default:
		pe.Kind = KindFatal
	}

	return pe
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ProviderError{Kind: KindTransient, Message: err.Error(), Err: err}
}
