package chatbot

import (
	"cmp"
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexmarket/chatbot/internal/domain"
	"github.com/lexmarket/chatbot/internal/metrics"
	"github.com/lexmarket/chatbot/internal/store"
)

// SessionsStorageKey is the durable key holding every known session.
const SessionsStorageKey = "chatbot_sessions"

// SessionUpdate carries the fields UpdateSession merges. Nil fields are left alone.
type SessionUpdate struct {
	MessageCount *int
	Initialized  *bool
}

// SessionManager maps (user, agent) pairs to conversation sessions and
// writes every change through to a KeyValue store. Storage failures are
// logged and otherwise ignored; the in-memory map stays authoritative.
type SessionManager struct {
	kv      store.KeyValue
	maxAge  time.Duration
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
	metrics *metrics.Client

	mu       sync.RWMutex
	sessions map[string]domain.Session
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithMaxAge overrides domain.SessionMaxAge.
func WithMaxAge(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.maxAge = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(gen func() string) SessionOption {
	return func(m *SessionManager) { m.newID = gen }
}

// WithSessionLogger sets the logger. Nil keeps slog.Default().
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(m *SessionManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSessionMetrics records session creation on m.
func WithSessionMetrics(c *metrics.Client) SessionOption {
	return func(m *SessionManager) { m.metrics = c }
}

// NewSessionManager loads persisted sessions from kv. kv may be nil, in
// which case sessions live in memory only.
func NewSessionManager(ctx context.Context, kv store.KeyValue, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		kv:       kv,
		maxAge:   domain.SessionMaxAge,
		now:      time.Now,
		newID:    newSessionID,
		logger:   slog.Default(),
		sessions: make(map[string]domain.Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.load(ctx)
	return m
}

// newSessionID returns a 12 character alphanumeric token.
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (m *SessionManager) load(ctx context.Context) {
	if m.kv == nil {
		return
	}
	raw, ok, err := m.kv.GetItem(ctx, SessionsStorageKey)
	if err != nil {
		m.logger.Warn("Failed to load chatbot sessions", "error", err)
		return
	}
	if !ok || raw == "" {
		return
	}

	var stored map[string]domain.Session
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		m.logger.Warn("Discarding unreadable chatbot sessions", "error", err)
		return
	}
	for id, s := range stored {
		if s.ID == "" {
			s.ID = id
		}
		m.sessions[id] = s
	}
	m.logger.Debug("Loaded chatbot sessions", "count", len(m.sessions))
}

// persist writes the whole map. Caller holds m.mu.
func (m *SessionManager) persist(ctx context.Context) {
	if m.kv == nil {
		return
	}
	data, err := json.Marshal(m.sessions)
	if err != nil {
		m.logger.Error("Failed to encode chatbot sessions", "error", err)
		return
	}
	if err := m.kv.SetItem(ctx, SessionsStorageKey, string(data)); err != nil {
		m.logger.Warn("Failed to persist chatbot sessions", "error", err)
	}
}

// CreateSession starts a fresh session for the pair, replacing any other
// session the pair had.
func (m *SessionManager) CreateSession(ctx context.Context, userID string, appName domain.AgentID) domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(ctx, userID, appName)
}

// ActiveSession returns the pair's newest session that is younger than
// the max age.
func (m *SessionManager) ActiveSession(userID string, appName domain.AgentID) (domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked(userID, appName, m.now())
}

// GetOrCreateSession returns the pair's active session, creating one when
// there is none. Concurrent callers for the same pair get the same session.
func (m *SessionManager) GetOrCreateSession(ctx context.Context, userID string, appName domain.AgentID) domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.activeLocked(userID, appName, m.now()); ok {
		return s
	}
	return m.createLocked(ctx, userID, appName)
}

// createLocked requires m.mu held for writing.
func (m *SessionManager) createLocked(ctx context.Context, userID string, appName domain.AgentID) domain.Session {
	now := m.now()
	s := domain.Session{
		ID:           m.newID(),
		UserID:       userID,
		AppName:      appName,
		CreatedAt:    now,
		LastActivity: now,
	}

	for id, existing := range m.sessions {
		if existing.Matches(userID, appName) {
			delete(m.sessions, id)
		}
	}
	m.sessions[s.ID] = s
	m.persist(ctx)

	m.metrics.SessionCreated()
	m.logger.Info("Chatbot session created", "session_id", s.ID, "user_id", userID, "app_name", appName)
	return s
}

// activeLocked requires m.mu held.
func (m *SessionManager) activeLocked(userID string, appName domain.AgentID, now time.Time) (domain.Session, bool) {
	var (
		found domain.Session
		ok    bool
	)
	for _, s := range m.sessions {
		if !s.Matches(userID, appName) || s.IsStale(now, m.maxAge) {
			continue
		}
		if !ok || s.CreatedAt.After(found.CreatedAt) {
			found, ok = s, true
		}
	}
	return found, ok
}

// UpdateSession merges u into the session and refreshes LastActivity.
// It returns false if id is unknown.
func (m *SessionManager) UpdateSession(ctx context.Context, id string, u SessionUpdate) (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, false
	}
	if u.MessageCount != nil {
		s.MessageCount = *u.MessageCount
	}
	if u.Initialized != nil {
		s.Initialized = *u.Initialized
	}
	s.LastActivity = m.now()
	m.sessions[id] = s
	m.persist(ctx)
	return s, true
}

// RecordMessage increments the message count of a session.
func (m *SessionManager) RecordMessage(ctx context.Context, id string) (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, false
	}
	s.MessageCount++
	s.LastActivity = m.now()
	m.sessions[id] = s
	m.persist(ctx)
	return s, true
}

// IsSessionInitialized reports whether the backend acknowledged id.
func (m *SessionManager) IsSessionInitialized(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id].Initialized
}

// MarkSessionInitialized flags id as known to the backend.
func (m *SessionManager) MarkSessionInitialized(ctx context.Context, id string) {
	initialized := true
	m.UpdateSession(ctx, id, SessionUpdate{Initialized: &initialized})
}

// Session returns the session with id.
func (m *SessionManager) Session(id string) (domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns every session, most recently active first.
func (m *SessionManager) Sessions() []domain.Session {
	m.mu.RLock()
	out := make([]domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Session) int {
		return cmp.Or(b.LastActivity.Compare(a.LastActivity), strings.Compare(a.ID, b.ID))
	})
	return out
}

// SessionsForUser returns the sessions owned by userID, most recent first.
func (m *SessionManager) SessionsForUser(userID string) []domain.Session {
	return slices.DeleteFunc(m.Sessions(), func(s domain.Session) bool {
		return s.UserID != userID
	})
}

// Save stores s as-is, replacing any session with the same id.
func (m *SessionManager) Save(ctx context.Context, s domain.Session) {
	if s.ID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.persist(ctx)
}

// ClearSession forgets id.
func (m *SessionManager) ClearSession(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return
	}
	delete(m.sessions, id)
	m.persist(ctx)
	m.logger.Info("Chatbot session cleared", "session_id", id)
}

// ClearAllSessions forgets every session.
func (m *SessionManager) ClearAllSessions(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.sessions)
	m.persist(ctx)
	m.logger.Info("All chatbot sessions cleared")
}

// PruneStale drops sessions that reached the max age as of now and
// returns how many were removed.
func (m *SessionManager) PruneStale(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.IsStale(now, m.maxAge) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.persist(ctx)
	}
	return removed
}
