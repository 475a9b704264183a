package tools

import "sync"

// MemoStore is the conversation-scoped scratch space shared by tools
// across rounds. fetch_personal_document stores full document text
// here so follow-up searches skip the proxy round trip. Entries live
// as long as the conversation session.
type MemoStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMemoStore() *MemoStore {
	return &MemoStore{entries: make(map[string]string)}
}

// Get returns the memo under key. A nil store never has entries.
func (m *MemoStore) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

// Set stores a memo under key. No-op on a nil store.
func (m *MemoStore) Set(key, value string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}
