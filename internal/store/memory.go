package store

import (
	"context"
	"sync"
	"time"

	"github.com/lexmarket/chatbot/internal/domain"
)

// MemoryStore is a process-local Repository used by tests and by the
// "memory" storage backend. Nothing survives a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
	users map[string]domain.User
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]string),
		users: make(map[string]domain.User),
	}
}

// GetItem reads a value.
func (m *MemoryStore) GetItem(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

// SetItem writes a value.
func (m *MemoryStore) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

// RemoveItem deletes a value.
func (m *MemoryStore) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// GetUser returns a copy of the stored user, or nil.
func (m *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// UpsertUser stores a copy of user.
func (m *MemoryStore) UpsertUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[user.UserID]; ok {
		user.CreatedAt = existing.CreatedAt
	}
	m.users[user.UserID] = *user
	return nil
}

// UpdateLastSeen bumps LastSeenAt for a known user.
func (m *MemoryStore) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.LastSeenAt = lastSeen
	u.UpdatedAt = time.Now()
	m.users[userID] = u
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var _ Repository = (*MemoryStore)(nil)
