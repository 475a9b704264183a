package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

func testLLMConfig(baseURL string) config.LLMConfig {
	cfg := config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		APIKey:   "sk-ant-test-key",
		BaseURL:  baseURL,
	}
	cfg.SetDefaults()
	return cfg
}

func sseServer(t *testing.T, events []string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			if _, err := w.Write([]byte(ev + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}))
}

func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for stream events")
		}
	}
}

func TestNewAnthropicProvider(t *testing.T) {
	cfg := testLLMConfig("")
	p, err := NewAnthropicProvider(cfg)
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}
	if p.ModelName() != cfg.Model {
		t.Errorf("ModelName() = %q, want %q", p.ModelName(), cfg.Model)
	}
	if p.baseURL != "https://api.anthropic.com" {
		t.Errorf("baseURL = %q, want default", p.baseURL)
	}

	cfg.APIKey = ""
	if _, err := NewAnthropicProvider(cfg); err == nil {
		t.Error("NewAnthropicProvider() with empty key: error = nil, want error")
	}
}

func TestStreamText(t *testing.T) {
	events := []string{
		`data: {"type":"message_start","message":{"id":"msg_01","model":"m","usage":{"input_tokens":25,"output_tokens":1}}}`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Under 14 CFR 25.1309"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" systems must be designed"}}`,
		`data: {"type":"content_block_stop","index":0}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":12}}`,
		`data: {"type":"message_stop"}`,
	}

	server := sseServer(t, events, func(r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s, want /v1/messages", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "sk-ant-test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != "2023-06-01" {
			t.Errorf("anthropic-version = %q", got)
		}
	})
	defer server.Close()

	p, err := NewAnthropicProvider(testLLMConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := p.Stream(context.Background(), Request{
		System:   "You are an FAA assistant.",
		Messages: []Message{UserMessage("What does 25.1309 require?")},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	got := collectEvents(t, ch)
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(got), got)
	}
	if got[0].Type != EventText || got[0].Text != "Under 14 CFR 25.1309" {
		t.Errorf("event[0] = %+v", got[0])
	}

	stop := got[2]
	if stop.Type != EventStop {
		t.Fatalf("final event type = %s, want stop", stop.Type)
	}
	if stop.StopReason != "end_turn" {
		t.Errorf("StopReason = %q, want end_turn", stop.StopReason)
	}
	if stop.Usage.InputTokens != 25 || stop.Usage.OutputTokens != 12 {
		t.Errorf("Usage = %+v, want 25/12", stop.Usage)
	}
	if text := stop.Message.Text(); text != "Under 14 CFR 25.1309 systems must be designed" {
		t.Errorf("assembled text = %q", text)
	}
}

func TestStreamToolUse(t *testing.T) {
	events := []string{
		`data: {"type":"message_start","message":{"id":"msg_01","model":"m","usage":{"input_tokens":40,"output_tokens":1}}}`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me look that up."}}`,
		`data: {"type":"content_block_stop","index":0}`,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_01","name":"fetch_cfr_section","input":{}}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"title\":14,"}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"part\":\"25\",\"section\":\"1309\"}"}}`,
		`data: {"type":"content_block_stop","index":1}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":30}}`,
		`data: {"type":"message_stop"}`,
	}

	server := sseServer(t, events, nil)
	defer server.Close()

	p, err := NewAnthropicProvider(testLLMConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := p.Stream(context.Background(), Request{
		Messages: []Message{UserMessage("What does 25.1309 require?")},
		Tools: []ToolDefinition{{
			Name:        "fetch_cfr_section",
			Description: "Fetch a CFR section",
			InputSchema: map[string]interface{}{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := collectEvents(t, ch)

	var toolEv *Event
	for i := range got {
		if got[i].Type == EventToolUse {
			toolEv = &got[i]
		}
	}
	if toolEv == nil {
		t.Fatalf("no tool_use event in %+v", got)
	}
	if toolEv.ToolCall.Name != "fetch_cfr_section" || toolEv.ToolCall.ID != "toolu_01" {
		t.Errorf("ToolCall = %+v", toolEv.ToolCall)
	}
	if part, _ := toolEv.ToolCall.Input["part"].(string); part != "25" {
		t.Errorf("Input[part] = %v, want 25", toolEv.ToolCall.Input["part"])
	}

	stop := got[len(got)-1]
	if stop.Type != EventStop || stop.StopReason != "tool_use" {
		t.Fatalf("final event = %+v, want tool_use stop", stop)
	}
	calls := stop.Message.ToolCalls()
	if len(calls) != 1 || calls[0].Name != "fetch_cfr_section" {
		t.Errorf("assembled tool calls = %+v", calls)
	}
}

func TestStreamThinking(t *testing.T) {
	events := []string{
		`data: {"type":"message_start","message":{"id":"msg_01","model":"m","usage":{"input_tokens":10,"output_tokens":1}}}`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Check part 25 first."}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"EuYBCkQYAiJA"}}`,
		`data: {"type":"content_block_stop","index":0}`,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Part 25 applies."}}`,
		`data: {"type":"content_block_stop","index":1}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":20}}`,
		`data: {"type":"message_stop"}`,
	}

	server := sseServer(t, events, func(r *http.Request) {
		var req AnthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Thinking == nil || req.Thinking.BudgetTokens != 2048 {
			t.Errorf("Thinking = %+v, want budget 2048", req.Thinking)
		}
		if req.Temperature != 0 {
			t.Errorf("Temperature = %v, want omitted with thinking", req.Temperature)
		}
	})
	defer server.Close()

	cfg := testLLMConfig(server.URL)
	cfg.ReasoningBudget = 2048
	p, err := NewAnthropicProvider(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ch, err := p.Stream(context.Background(), Request{
		Messages: []Message{UserMessage("hello")},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := collectEvents(t, ch)
	if got[0].Type != EventReasoning || got[0].Text != "Check part 25 first." {
		t.Errorf("event[0] = %+v, want reasoning delta", got[0])
	}

	stop := got[len(got)-1]
	if stop.Type != EventStop {
		t.Fatalf("final event = %+v", stop)
	}
	blocks := stop.Message.Content
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].Type != BlockThinking || blocks[0].Signature != "EuYBCkQYAiJA" {
		t.Errorf("thinking block = %+v, want signature preserved", blocks[0])
	}
}

func TestStreamErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		wantKind   ErrorKind
	}{
		{
			name:       "rate_limited",
			status:     http.StatusTooManyRequests,
			body:       `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`,
			retryAfter: "3",
			wantKind:   KindRateLimited,
		},
		{
			name:     "overloaded",
			status:   529,
			body:     `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`,
			wantKind: KindTransient,
		},
		{
			name:     "server_error",
			status:   http.StatusInternalServerError,
			body:     `{"type":"error","error":{"type":"api_error","message":"internal"}}`,
			wantKind: KindTransient,
		},
		{
			name:     "invalid_request",
			status:   http.StatusBadRequest,
			body:     `{"type":"error","error":{"type":"invalid_request_error","message":"bad tool schema"}}`,
			wantKind: KindFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("retry-after", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p, err := NewAnthropicProvider(testLLMConfig(server.URL))
			if err != nil {
				t.Fatal(err)
			}

			ch, err := p.Stream(context.Background(), Request{
				Messages: []Message{UserMessage("hello")},
			})
			if err != nil {
				t.Fatal(err)
			}

			got := collectEvents(t, ch)
			if len(got) != 1 || got[0].Type != EventError {
				t.Fatalf("events = %+v, want single error", got)
			}

			pe, ok := AsProviderError(got[0].Err)
			if !ok {
				t.Fatalf("error %v is not a ProviderError", got[0].Err)
			}
			if pe.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", pe.Kind, tt.wantKind)
			}
			if tt.retryAfter != "" && pe.RetryAfter != 3*time.Second {
				t.Errorf("RetryAfter = %v, want 3s", pe.RetryAfter)
			}
		})
	}
}

func TestStreamMidStreamError(t *testing.T) {
	events := []string{
		`data: {"type":"message_start","message":{"id":"msg_01","model":"m","usage":{"input_tokens":5,"output_tokens":1}}}`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`,
		`data: {"type":"error","error":{"type":"overloaded_error","message":"server overloaded"}}`,
	}

	server := sseServer(t, events, nil)
	defer server.Close()

	p, err := NewAnthropicProvider(testLLMConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := p.Stream(context.Background(), Request{
		Messages: []Message{UserMessage("hello")},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := collectEvents(t, ch)
	last := got[len(got)-1]
	if last.Type != EventError {
		t.Fatalf("final event = %+v, want error", last)
	}
	pe, ok := AsProviderError(last.Err)
	if !ok || pe.Kind != KindTransient {
		t.Errorf("error = %v, want transient ProviderError", last.Err)
	}
}

func TestStreamTruncatedStream(t *testing.T) {
	events := []string{
		`data: {"type":"message_start","message":{"id":"msg_01","model":"m","usage":{"input_tokens":5,"output_tokens":1}}}`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
	}

	server := sseServer(t, events, nil)
	defer server.Close()

	p, err := NewAnthropicProvider(testLLMConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := p.Stream(context.Background(), Request{
		Messages: []Message{UserMessage("hello")},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := collectEvents(t, ch)
	last := got[len(got)-1]
	if last.Type != EventError {
		t.Fatalf("final event = %+v, want error for truncated stream", last)
	}
	pe, ok := AsProviderError(last.Err)
	if !ok || pe.Kind != KindTransient {
		t.Errorf("error = %v, want transient", last.Err)
	}
	if !strings.Contains(pe.Message, "message_stop") {
		t.Errorf("message = %q, want mention of message_stop", pe.Message)
	}
}

func TestBuildRequestToolResults(t *testing.T) {
	p, err := NewAnthropicProvider(testLLMConfig(""))
	if err != nil {
		t.Fatal(err)
	}

	assistant := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			{Type: BlockText, Text: "Looking it up."},
			{Type: BlockToolUse, ID: "toolu_01", Name: "fetch_cfr_section", Input: map[string]interface{}{"part": "25"}},
		},
	}
	result := ToolResultMessage(ToolResultBlock("toolu_01", "section text", false))

	req := p.buildRequest(Request{
		Messages: []Message{UserMessage("q"), assistant, result},
	}, true)

	if len(req.Messages) != 3 {
		t.Fatalf("got %d wire messages, want 3", len(req.Messages))
	}
	if req.Messages[1].Role != "assistant" {
		t.Errorf("messages[1].Role = %q", req.Messages[1].Role)
	}
	tu := req.Messages[1].Content[1]
	if tu.Type != "tool_use" || tu.Input == nil || (*tu.Input)["part"] != "25" {
		t.Errorf("tool_use wire block = %+v", tu)
	}
	tr := req.Messages[2].Content[0]
	if tr.Type != "tool_result" || tr.ToolUseID != "toolu_01" || tr.Content != "section text" {
		t.Errorf("tool_result wire block = %+v", tr)
	}
}

func TestMessageHelpers(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			{Type: BlockThinking, Thinking: "hm"},
			{Type: BlockText, Text: "a"},
			{Type: BlockToolUse, ID: "t1", Name: "search_regulations"},
			{Type: BlockText, Text: "b"},
		},
	}
	if got := m.Text(); got != "ab" {
		t.Errorf("Text() = %q, want ab", got)
	}
	calls := m.ToolCalls()
	if len(calls) != 1 || calls[0].Name != "search_regulations" {
		t.Errorf("ToolCalls() = %+v", calls)
	}
}

func TestNewProviderFactory(t *testing.T) {
	cfg := testLLMConfig("")
	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if _, ok := p.(*AnthropicProvider); !ok {
		t.Errorf("NewProvider() = %T, want *AnthropicProvider", p)
	}

	cfg.Provider = "openai"
	if _, err := NewProvider(cfg); err == nil {
		t.Error("NewProvider(openai) error = nil, want unsupported provider")
	}
}
