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

// Package convstore persists conversation turns.
//
// A turn is one entry in a conversation transcript: a user message, an
// assistant message (text, reasoning, and tool calls), or a batch of
// tool results. Turns carry a per-conversation sequence number that is
// assigned by the store, gap-free and ascending, so a reloaded
// transcript replays in exactly the order it was written.
package convstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/llm"
)

// ErrNotFound is returned when a conversation has no stored turns.
var ErrNotFound = errors.New("conversation not found")

// Turn is one persisted conversation entry.
type Turn struct {
	// Role is "user" or "assistant", mirroring the provider wire roles.
	// Tool results are stored as user turns, matching how they are
	// replayed to the model.
	Role llm.Role `json:"role"`

	// Blocks is the full content of the turn, including tool_use and
	// tool_result blocks, so a reloaded conversation preserves the
	// exact tool-call pairing the provider requires.
	Blocks []llm.ContentBlock `json:"blocks"`

	// Sequence is assigned by the store on append; 1-based, gap-free,
	// ascending within a conversation.
	Sequence int64 `json:"sequence"`

	CreatedAt time.Time `json:"created_at"`
}

// Message converts the turn back into a provider message.
func (t Turn) Message() llm.Message {
	return llm.Message{Role: t.Role, Content: t.Blocks}
}

// FromMessage builds an unsequenced turn from a provider message. The
// store assigns Sequence and CreatedAt on append.
func FromMessage(msg llm.Message) Turn {
	return Turn{Role: msg.Role, Blocks: msg.Content}
}

// Messages converts a loaded transcript into the provider message list.
func Messages(turns []Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, t.Message())
	}
	return msgs
}

// Store persists ordered turns per conversation.
//
// Implementations must be safe for concurrent use; sequence numbers
// are assigned under the store's own synchronization.
type Store interface {
	// LoadTurns returns all turns for a conversation in ascending
	// sequence order. An unknown conversation returns an empty slice,
	// not an error: a new conversation is just one nobody has written
	// to yet.
	LoadTurns(ctx context.Context, conversationID string) ([]Turn, error)

	// AppendTurn assigns the next sequence number and persists the
	// turn, returning the assigned sequence.
	AppendTurn(ctx context.Context, conversationID string, turn Turn) (int64, error)

	// AppendTurns persists several turns atomically with consecutive
	// sequence numbers. Either all land or none do.
	AppendTurns(ctx context.Context, conversationID string, turns []Turn) error

	// DeleteConversation removes all turns for a conversation.
	DeleteConversation(ctx context.Context, conversationID string) error

	Close() error
}

// NewStore builds the Store selected by config.
func NewStore(cfg config.ConversationsConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3", "postgres", "mysql":
		return NewSQLStoreFromConfig(&cfg)
	default:
		return nil, fmt.Errorf("unknown conversations driver %q (valid: memory, sqlite, postgres, mysql)", cfg.Driver)
	}
}
