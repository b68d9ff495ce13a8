package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lexmarket/chatbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "chatbot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteItems(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, ok, err := s.GetItem(ctx, "chatbot_sessions")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetItem(ctx, "chatbot_sessions", `{"a":1}`))
	require.NoError(t, s.SetItem(ctx, "chatbot_sessions", `{"b":2}`))

	v, ok, err := s.GetItem(ctx, "chatbot_sessions")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"b":2}`, v)

	require.NoError(t, s.RemoveItem(ctx, "chatbot_sessions"))
	require.NoError(t, s.RemoveItem(ctx, "chatbot_sessions"))
	_, ok, err = s.GetItem(ctx, "chatbot_sessions")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteUsers(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	got, err := s.GetUser(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.UpsertUser(ctx, &domain.User{
		UserID:     "user-1",
		Name:       "Asha",
		Email:      "asha@example.com",
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	later := now.Add(time.Hour)
	require.NoError(t, s.UpdateLastSeen(ctx, "user-1", later))

	got, err = s.GetUser(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Asha", got.Name)
	assert.Equal(t, later.Unix(), got.LastSeenAt.Unix())
	assert.False(t, got.IsGuest())

	// Unknown users are logged, not errors.
	require.NoError(t, s.UpdateLastSeen(ctx, "ghost", later))
	require.NoError(t, s.Ping(ctx))
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SetItem(ctx, "k", "v"))
	v, ok, err := m.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, m.RemoveItem(ctx, "k"))
	_, ok, _ = m.GetItem(ctx, "k")
	assert.False(t, ok)

	created := time.Now().Add(-time.Hour)
	require.NoError(t, m.UpsertUser(ctx, &domain.User{UserID: "u", CreatedAt: created}))
	require.NoError(t, m.UpsertUser(ctx, &domain.User{UserID: "u", Name: "Ravi", CreatedAt: time.Now()}))

	u, err := m.GetUser(ctx, "u")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Ravi", u.Name)
	assert.True(t, u.CreatedAt.Equal(created))
}
