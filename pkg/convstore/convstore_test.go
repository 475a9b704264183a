package convstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/llm"
)

// storesUnderTest runs the same behavior suite against both backends.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	sqlStore, err := NewSQLStoreFromConfig(&config.ConversationsConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "conversations.db"),
	})
	require.NoError(t, err)

	memStore := NewMemoryStore()

	t.Cleanup(func() {
		sqlStore.Close()
		memStore.Close()
	})

	return map[string]Store{"sqlite": sqlStore, "memory": memStore}
}

func userTurn(text string) Turn {
	return FromMessage(llm.UserMessage(text))
}

func assistantTurn(text string) Turn {
	return Turn{
		Role:   llm.RoleAssistant,
		Blocks: []llm.ContentBlock{{Type: llm.BlockText, Text: text}},
	}
}

func TestLoadTurnsEmptyConversation(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			turns, err := store.LoadTurns(ctx, "never-seen")
			require.NoError(t, err)
			assert.Empty(t, turns)
		})
	}
}

func TestAppendTurnAssignsSequence(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			const conv = "conv-1"

			seq, err := store.AppendTurn(ctx, conv, userTurn("what does 25.1309 require?"))
			require.NoError(t, err)
			assert.Equal(t, int64(1), seq)

			seq, err = store.AppendTurn(ctx, conv, assistantTurn("It requires a safety assessment."))
			require.NoError(t, err)
			assert.Equal(t, int64(2), seq)

			turns, err := store.LoadTurns(ctx, conv)
			require.NoError(t, err)
			require.Len(t, turns, 2)

			for i, turn := range turns {
				assert.Equal(t, int64(i)+1, turn.Sequence)
				assert.False(t, turn.CreatedAt.IsZero(), "turn %d CreatedAt not stamped", i)
			}
			assert.Equal(t, llm.RoleUser, turns[0].Role)
			assert.Equal(t, llm.RoleAssistant, turns[1].Role)
		})
	}
}

func TestAppendTurnsBatchOrder(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			const conv = "conv-batch"

			_, err := store.AppendTurn(ctx, conv, userTurn("first question"))
			require.NoError(t, err)

			batch := []Turn{
				assistantTurn("let me check"),
				{Role: llm.RoleUser, Blocks: []llm.ContentBlock{
					llm.ToolResultBlock("call_1", "14 CFR 25.1309 text", false),
				}},
				assistantTurn("here is the answer"),
			}
			require.NoError(t, store.AppendTurns(ctx, conv, batch))

			turns, err := store.LoadTurns(ctx, conv)
			require.NoError(t, err)
			require.Len(t, turns, 4)

			for i, turn := range turns {
				assert.Equal(t, int64(i)+1, turn.Sequence)
			}

			// The tool result must round-trip with its pairing intact.
			tr := turns[2].Blocks[0]
			assert.Equal(t, llm.BlockToolResult, tr.Type)
			assert.Equal(t, "call_1", tr.ToolUseID)
		})
	}
}

func TestTurnBlocksRoundTrip(t *testing.T) {
	ctx := context.Background()

	assistant := Turn{
		Role: llm.RoleAssistant,
		Blocks: []llm.ContentBlock{
			{Type: llm.BlockThinking, Thinking: "user wants the rule text", Signature: "sig-abc"},
			{Type: llm.BlockText, Text: "Let me fetch that section."},
			{Type: llm.BlockToolUse, ID: "call_9", Name: "fetch_cfr_section",
				Input: map[string]interface{}{"title": float64(14), "part": "25", "section": "1309"}},
		},
	}

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			const conv = "conv-blocks"

			_, err := store.AppendTurn(ctx, conv, assistant)
			require.NoError(t, err)

			turns, err := store.LoadTurns(ctx, conv)
			require.NoError(t, err)
			require.Len(t, turns, 1)

			assert.Equal(t, assistant.Blocks, turns[0].Blocks)

			msgs := Messages(turns)
			assert.Len(t, msgs[0].ToolCalls(), 1)
		})
	}
}

func TestConversationsIsolated(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.AppendTurn(ctx, "conv-a", userTurn("a question"))
			require.NoError(t, err)
			_, err = store.AppendTurn(ctx, "conv-b", userTurn("b question"))
			require.NoError(t, err)

			// Sequences are per conversation, both start at 1.
			turnsA, err := store.LoadTurns(ctx, "conv-a")
			require.NoError(t, err)
			turnsB, err := store.LoadTurns(ctx, "conv-b")
			require.NoError(t, err)
			require.Len(t, turnsA, 1)
			require.Len(t, turnsB, 1)
			assert.Equal(t, int64(1), turnsA[0].Sequence)
			assert.Equal(t, int64(1), turnsB[0].Sequence)
		})
	}
}

func TestDeleteConversation(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			const conv = "conv-del"

			_, err := store.AppendTurn(ctx, conv, userTurn("delete me"))
			require.NoError(t, err)
			require.NoError(t, store.DeleteConversation(ctx, conv))

			turns, err := store.LoadTurns(ctx, conv)
			require.NoError(t, err)
			assert.Empty(t, turns)

			// Deleting an unknown conversation is not an error.
			assert.NoError(t, store.DeleteConversation(ctx, "never-seen"))

			// Sequence restarts after delete.
			seq, err := store.AppendTurn(ctx, conv, userTurn("fresh start"))
			require.NoError(t, err)
			assert.Equal(t, int64(1), seq)
		})
	}
}

func TestMemoryStoreConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const writers = 16
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, _ = store.AppendTurn(ctx, "conv-race", userTurn("concurrent"))
		}()
	}
	wg.Wait()

	turns, err := store.LoadTurns(ctx, "conv-race")
	require.NoError(t, err)
	require.Len(t, turns, writers)

	seen := make(map[int64]bool)
	for _, turn := range turns {
		assert.False(t, seen[turn.Sequence], "duplicate sequence %d", turn.Sequence)
		seen[turn.Sequence] = true
	}
	for seq := int64(1); seq <= writers; seq++ {
		assert.True(t, seen[seq], "missing sequence %d", seq)
	}
}

func TestNewStoreSelectsDriver(t *testing.T) {
	store, err := NewStore(config.ConversationsConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = NewStore(config.ConversationsConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "conv.db"),
	})
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &SQLStore{}, store)

	_, err = NewStore(config.ConversationsConfig{Driver: "oracle"})
	assert.Error(t, err, "unknown driver must be rejected")
}
