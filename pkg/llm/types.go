// Package llm defines the provider-neutral message model and the
// streaming provider interface the turn orchestrator runs against.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of a message. Which fields are set
// depends on Type. Thinking blocks keep their signature so they can be
// replayed verbatim on the next request of the same turn.
type ContentBlock struct {
	Type      BlockType              `json:"type"`
	Text      string                 `json:"text,omitempty"`
	Thinking  string                 `json:"thinking,omitempty"`
	Signature string                 `json:"signature,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Text returns the concatenated text blocks of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool_use blocks of the message in order.
func (m Message) ToolCalls() []*ToolCall {
	var out []*ToolCall
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			out = append(out, &ToolCall{ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	return out
}

func UserMessage(text string) Message {
	return Message{
		Role:    RoleUser,
		Content: []ContentBlock{{Type: BlockText, Text: text}},
	}
}

// ToolResultMessage wraps tool results in the user-role message the
// API expects after an assistant tool_use turn.
func ToolResultMessage(results ...ContentBlock) Message {
	return Message{Role: RoleUser, Content: results}
}

func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{
		Type:      BlockToolResult,
		ToolUseID: toolUseID,
		Content:   content,
		IsError:   isError,
	}
}

// ToolCall is a completed tool invocation request from the model.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ToolDefinition describes one tool exposed to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request is one model call within a turn.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type EventType string

const (
	// EventText carries an assistant text delta.
	EventText EventType = "text"
	// EventReasoning carries a thinking delta.
	EventReasoning EventType = "reasoning"
	// EventToolUse carries a completed tool call once its input JSON
	// has fully streamed.
	EventToolUse EventType = "tool_use"
	// EventStop is terminal and carries the assembled assistant
	// message, stop reason, and usage.
	EventStop EventType = "stop"
	EventError EventType = "error"
)

// Event is one item on a provider stream. The channel closes after a
// stop or error event.
type Event struct {
	Type       EventType
	Text       string
	ToolCall   *ToolCall
	Message    *Message
	StopReason string
	Usage      *Usage
	Err        error
}

// Provider streams model responses. Implementations must close the
// returned channel when the stream ends for any reason.
type Provider interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
	ModelName() string
	Close() error
}

// NewProvider builds the configured provider.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case config.LLMProviderAnthropic, "":
		return NewAnthropicProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
