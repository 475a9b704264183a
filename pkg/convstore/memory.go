package convstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps transcripts in process memory. Used for tests and
// zero-config development; everything is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string][]Turn)}
}

func (s *MemoryStore) LoadTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.turns[conversationID]
	out := make([]Turn, len(stored))
	copy(out, stored)
	return out, nil
}

func (s *MemoryStore) AppendTurn(ctx context.Context, conversationID string, turn Turn) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(conversationID, turn), nil
}

func (s *MemoryStore) AppendTurns(ctx context.Context, conversationID string, turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, turn := range turns {
		s.appendLocked(conversationID, turn)
	}
	return nil
}

func (s *MemoryStore) appendLocked(conversationID string, turn Turn) int64 {
	turn.Sequence = int64(len(s.turns[conversationID])) + 1
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns[conversationID] = append(s.turns[conversationID], turn)
	return turn.Sequence
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, conversationID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
