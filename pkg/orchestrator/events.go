package orchestrator

import (
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/quota"
)

// EventType enumerates the turn stream vocabulary.
type EventType string

const (
	// EventText is an assistant text delta.
	EventText EventType = "text"

	// EventReasoning is a model reasoning delta, emitted only when the
	// provider supports extended reasoning.
	EventReasoning EventType = "reasoning"

	// EventToolUse reports a tool call requested by the model, once its
	// input has fully streamed.
	EventToolUse EventType = "tool_use"

	// EventToolExecuting reports a tool starting with resolved inputs.
	EventToolExecuting EventType = "tool_executing"

	// EventToolResult reports a finished tool. Content carries a bounded
	// preview; the model always receives the full result.
	EventToolResult EventType = "tool_result"

	// EventWarning is non-fatal advice surfaced to the user.
	EventWarning EventType = "warning"

	// EventQuotaUpdate carries the post-turn quota snapshot.
	EventQuotaUpdate EventType = "quota_update"

	// EventError is the terminal failure event.
	EventError EventType = "error"

	// EventDone is the terminal success event.
	EventDone EventType = "done"
)

// Event is one frame of a turn stream, shaped for direct JSON delivery
// to the client. Text deltas concatenate in order into the assistant's
// final text; for each tool call, tool_use precedes tool_executing
// precedes tool_result; done and error are mutually exclusive
// terminals and always close the stream.
type Event struct {
	Type           EventType      `json:"type"`
	Content        string         `json:"content,omitempty"`
	Tool           string         `json:"tool,omitempty"`
	ToolCallID     string         `json:"tool_call_id,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	Classification string         `json:"classification,omitempty"`
	Citations      []string       `json:"citations,omitempty"`
	Quota          *quota.Status  `json:"quota,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Terminal reports whether the event ends the turn stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
