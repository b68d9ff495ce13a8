package chatbot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmarket/chatbot/internal/domain"
	"github.com/lexmarket/chatbot/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("sess%d", n)
	}
}

// failingKV fails every call.
type failingKV struct{}

var errStorageDown = errors.New("storage down")

func (failingKV) GetItem(context.Context, string) (string, bool, error) {
	return "", false, errStorageDown
}
func (failingKV) SetItem(context.Context, string, string) error { return errStorageDown }
func (failingKV) RemoveItem(context.Context, string) error      { return errStorageDown }

func TestGetOrCreateSessionReuseWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewSessionManager(ctx, store.NewMemory(), WithClock(clock.Now), WithIDGenerator(sequentialIDs()))

	first := m.GetOrCreateSession(ctx, "u1", domain.AgentLegalAdvisor)
	assert.Equal(t, "sess1", first.ID)

	clock.Advance(24*time.Hour - time.Second)
	again := m.GetOrCreateSession(ctx, "u1", domain.AgentLegalAdvisor)
	assert.Equal(t, first.ID, again.ID)

	clock.Advance(2 * time.Second)
	fresh := m.GetOrCreateSession(ctx, "u1", domain.AgentLegalAdvisor)
	assert.NotEqual(t, first.ID, fresh.ID)
	assert.Equal(t, 0, fresh.MessageCount)
	assert.False(t, fresh.Initialized)

	_, ok := m.Session(first.ID)
	assert.False(t, ok, "stale session is replaced for the pair")
}

func TestGetOrCreateSessionConcurrentCallersShareSession(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(ctx, store.NewMemory(), WithIDGenerator(sequentialIDs()))

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ids[i] = m.GetOrCreateSession(ctx, "u1", domain.AgentLegalAdvisor).ID
		}()
	}
	close(start)
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, "sess1", id)
	}
	assert.Len(t, m.SessionsForUser("u1"), 1)
}

func TestGetOrCreateSessionSeparatesPairs(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(ctx, nil, WithIDGenerator(sequentialIDs()))

	a := m.GetOrCreateSession(ctx, "u1", domain.AgentLegalAdvisor)
	b := m.GetOrCreateSession(ctx, "u1", domain.AgentDocumentDrafter)
	c := m.GetOrCreateSession(ctx, "u2", domain.AgentLegalAdvisor)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Len(t, m.Sessions(), 3)
	assert.Len(t, m.SessionsForUser("u1"), 2)
}

func TestCreateSessionReplacesPairSession(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(ctx, nil, WithIDGenerator(sequentialIDs()))

	old := m.CreateSession(ctx, "u1", domain.AgentLegalAdvisor)
	created := m.CreateSession(ctx, "u1", domain.AgentLegalAdvisor)

	_, ok := m.Session(old.ID)
	assert.False(t, ok)
	assert.Equal(t, created.ID, m.GetOrCreateSession(ctx, "u1", domain.AgentLegalAdvisor).ID)
}

func TestSessionManagerPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	clock := newFakeClock()

	m := NewSessionManager(ctx, kv, WithClock(clock.Now))
	s := m.CreateSession(ctx, "u1", domain.AgentCaseResearcher)
	m.MarkSessionInitialized(ctx, s.ID)
	m.RecordMessage(ctx, s.ID)

	raw, ok, err := kv.GetItem(ctx, SessionsStorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"appName":"case_researcher"`)

	reloaded := NewSessionManager(ctx, kv, WithClock(clock.Now))
	got, ok := reloaded.Session(s.ID)
	require.True(t, ok)
	assert.True(t, got.Initialized)
	assert.Equal(t, 1, got.MessageCount)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, reloaded.IsSessionInitialized(s.ID))
}

func TestSessionManagerIgnoresCorruptStorage(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	require.NoError(t, kv.SetItem(ctx, SessionsStorageKey, "{not json"))

	m := NewSessionManager(ctx, kv)
	assert.Empty(t, m.Sessions())

	s := m.GetOrCreateSession(ctx, "u1", domain.AgentLegalAdvisor)
	assert.NotEmpty(t, s.ID)
}

func TestSessionManagerSwallowsStorageFailures(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(ctx, failingKV{}, WithIDGenerator(sequentialIDs()))

	s := m.GetOrCreateSession(ctx, "u1", domain.AgentLegalAdvisor)
	require.Equal(t, "sess1", s.ID)

	m.MarkSessionInitialized(ctx, s.ID)
	assert.True(t, m.IsSessionInitialized(s.ID))

	updated, ok := m.RecordMessage(ctx, s.ID)
	require.True(t, ok)
	assert.Equal(t, 1, updated.MessageCount)

	m.ClearSession(ctx, s.ID)
	_, ok = m.Session(s.ID)
	assert.False(t, ok)
}

func TestUpdateSession(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewSessionManager(ctx, nil, WithClock(clock.Now))
	s := m.CreateSession(ctx, "u1", domain.AgentLegalAdvisor)

	clock.Advance(time.Minute)
	count := 7
	updated, ok := m.UpdateSession(ctx, s.ID, SessionUpdate{MessageCount: &count})
	require.True(t, ok)
	assert.Equal(t, 7, updated.MessageCount)
	assert.False(t, updated.Initialized)
	assert.Equal(t, clock.Now(), updated.LastActivity)
	assert.Equal(t, s.CreatedAt, updated.CreatedAt)

	_, ok = m.UpdateSession(ctx, "missing", SessionUpdate{})
	assert.False(t, ok)
	_, ok = m.RecordMessage(ctx, "missing")
	assert.False(t, ok)
}

func TestClearAllSessions(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	m := NewSessionManager(ctx, kv)
	m.CreateSession(ctx, "u1", domain.AgentLegalAdvisor)
	m.CreateSession(ctx, "u2", domain.AgentLegalAdvisor)

	m.ClearAllSessions(ctx)

	assert.Empty(t, m.Sessions())
	raw, _, err := kv.GetItem(ctx, SessionsStorageKey)
	require.NoError(t, err)
	assert.Equal(t, "{}", raw)
}

func TestPruneStale(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewSessionManager(ctx, nil, WithClock(clock.Now), WithMaxAge(time.Hour))

	old := m.CreateSession(ctx, "u1", domain.AgentLegalAdvisor)
	clock.Advance(30 * time.Minute)
	young := m.CreateSession(ctx, "u2", domain.AgentLegalAdvisor)
	clock.Advance(45 * time.Minute)

	removed := m.PruneStale(ctx, clock.Now())

	assert.Equal(t, 1, removed)
	_, ok := m.Session(old.ID)
	assert.False(t, ok)
	_, ok = m.Session(young.ID)
	assert.True(t, ok)
}

func TestSessionsOrderedByActivity(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewSessionManager(ctx, nil, WithClock(clock.Now), WithIDGenerator(sequentialIDs()))

	first := m.CreateSession(ctx, "u1", domain.AgentLegalAdvisor)
	clock.Advance(time.Second)
	second := m.CreateSession(ctx, "u1", domain.AgentConsumerRights)
	clock.Advance(time.Second)
	m.RecordMessage(ctx, first.ID)

	sessions := m.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.Equal(t, second.ID, sessions[1].ID)
}

func TestNewSessionIDIsShortAlphanumeric(t *testing.T) {
	id := newSessionID()
	assert.Len(t, id, 12)
	assert.Regexp(t, `^[0-9a-f]{12}$`, id)
	assert.NotEqual(t, id, newSessionID())
}
