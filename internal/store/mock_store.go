// ABOUTME: In-memory Backend implementation for testing
// ABOUTME: Allows tests to run without a filesystem or SQLite and to inject write failures

package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MockBackend is an in-memory Backend implementation for testing.
// Documents are stored encoded so callers never share memory with the backend.
type MockBackend struct {
	mu      sync.RWMutex
	docs    map[string][]byte // keyed by conversation ID
	index   []IndexEntry
	saveErr error
	saves   int
}

// NewMockBackend creates a new MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		docs: make(map[string][]byte),
	}
}

// FailSaves makes every subsequent SaveConversation return err. Pass nil to
// restore normal behaviour.
func (m *MockBackend) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// Saves returns how many conversation writes succeeded.
func (m *MockBackend) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Drop removes a record without touching the index, simulating a record
// that disappeared out from under the store.
func (m *MockBackend) Drop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
}

func (m *MockBackend) LoadConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (m *MockBackend) SaveConversation(_ context.Context, conv *Conversation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return "", m.saveErr
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return "", err
	}
	m.docs[conv.ID] = data
	m.saves++
	return "memory:" + conv.ID, nil
}

func (m *MockBackend) DeleteConversation(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.docs[id]
	delete(m.docs, id)
	return ok, nil
}

func (m *MockBackend) ConversationExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[id]
	return ok, nil
}

func (m *MockBackend) ListConversationIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MockBackend) LoadIndex(_ context.Context) ([]IndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]IndexEntry(nil), m.index...), nil
}

func (m *MockBackend) SaveIndex(_ context.Context, entries []IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = append([]IndexEntry(nil), entries...)
	return nil
}

func (m *MockBackend) Close() error { return nil }
