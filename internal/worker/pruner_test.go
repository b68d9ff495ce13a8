package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmarket/chatbot/internal/chatbot"
	"github.com/lexmarket/chatbot/internal/domain"
	"github.com/lexmarket/chatbot/internal/store"
)

type countingPruner struct {
	calls chan time.Time
}

func (p *countingPruner) PruneStale(_ context.Context, now time.Time) int {
	select {
	case p.calls <- now:
	default:
	}
	return 0
}

func TestPruneOnceRemovesStaleSessions(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	now := start
	sessions := chatbot.NewSessionManager(ctx, store.NewMemory(),
		chatbot.WithClock(func() time.Time { return now }))

	stale := sessions.CreateSession(ctx, "u1", domain.AgentLegalAdvisor)
	now = start.Add(23 * time.Hour)
	fresh := sessions.CreateSession(ctx, "u2", domain.AgentLegalAdvisor)

	removed := PruneOnce(ctx, sessions, start.Add(25*time.Hour))

	assert.Equal(t, 1, removed)
	_, ok := sessions.Session(stale.ID)
	assert.False(t, ok)
	_, ok = sessions.Session(fresh.ID)
	assert.True(t, ok)
}

func TestStartSessionPrunerTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &countingPruner{calls: make(chan time.Time, 4)}

	StartSessionPruner(ctx, p, 10*time.Millisecond)

	select {
	case <-p.calls:
	case <-time.After(2 * time.Second):
		require.Fail(t, "pruner never ran")
	}
}
