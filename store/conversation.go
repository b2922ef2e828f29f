package store

import (
	"context"
	"sync"
)

// Message is one turn of a call conversation
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ConversationStore keeps the per-call chat history fed to the language model
type ConversationStore interface {
	History(ctx context.Context, callControlID string) ([]Message, error)
	// Append adds messages and keeps only the most recent limit entries.
	Append(ctx context.Context, callControlID string, limit int, msgs ...Message) error
	Clear(ctx context.Context, callControlID string) error
}

// MemoryConversationStore keeps conversations in process memory
type MemoryConversationStore struct {
	mu            sync.Mutex
	conversations map[string][]Message
}

// NewMemoryConversationStore creates a new conversation store
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		conversations: make(map[string][]Message),
	}
}

func (m *MemoryConversationStore) History(_ context.Context, callControlID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.conversations[callControlID]
	out := make([]Message, len(history))
	copy(out, history)
	return out, nil
}

func (m *MemoryConversationStore) Append(_ context.Context, callControlID string, limit int, msgs ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := append(m.conversations[callControlID], msgs...)
	if limit > 0 && len(history) > limit {
		history = append([]Message(nil), history[len(history)-limit:]...)
	}
	m.conversations[callControlID] = history
	return nil
}

func (m *MemoryConversationStore) Clear(_ context.Context, callControlID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.conversations, callControlID)
	return nil
}
