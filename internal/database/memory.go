package database

import (
	"context"
	"sync"
)

// MemoryStore keeps preferences in process memory. Used for tests and for
// running without a database file.
type MemoryStore struct {
	mu    sync.RWMutex
	langs map[int64]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{langs: make(map[int64]string)}
}

func (m *MemoryStore) GetLanguage(_ context.Context, userID int64) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lang, ok := m.langs[userID]
	return lang, ok, nil
}

func (m *MemoryStore) SetLanguage(_ context.Context, userID int64, lang string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.langs[userID] = lang
	return nil
}

func (m *MemoryStore) EnsureLanguage(_ context.Context, userID int64, lang string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.langs[userID]; !ok {
		m.langs[userID] = lang
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
