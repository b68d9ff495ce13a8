// Package chatbot is the client for the legal assistant agent backend. It
// manages conversation sessions, collapses duplicate sends, retries
// transient failures and turns the backend's responses into plain text.
package chatbot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lexmarket/chatbot/internal/domain"
	"github.com/lexmarket/chatbot/internal/metrics"
)

// dedupPrefixLen is how much of a message goes into its dedup key.
const dedupPrefixLen = 50

// UserResolver supplies the user id a send is made on behalf of.
type UserResolver interface {
	ResolveUserID(ctx context.Context) string
}

// UserResolverFunc adapts a function to UserResolver.
type UserResolverFunc func(ctx context.Context) string

// ResolveUserID implements UserResolver.
func (f UserResolverFunc) ResolveUserID(ctx context.Context) string { return f(ctx) }

// Result is the outcome of SendMessage. On failure Response holds the
// user-facing message and Error the code.
type Result struct {
	Response  string    `json:"response"`
	SessionID string    `json:"sessionId"`
	Success   bool      `json:"success"`
	Error     ErrorCode `json:"error,omitempty"`
}

// Service is the chatbot facade used by the HTTP layer and the CLI.
// It is safe for concurrent use.
type Service struct {
	sessions  *SessionManager
	transport *Transport
	queue     *RequestQueue
	users     UserResolver

	logger     *slog.Logger
	metrics    *metrics.Client
	schedule   []ProgressStep
	maxRetries int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records message outcomes and dedup hits on m.
func WithMetrics(m *metrics.Client) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithProgressSchedule replaces DefaultProgressSchedule.
func WithProgressSchedule(steps []ProgressStep) ServiceOption {
	return func(s *Service) { s.schedule = steps }
}

// WithMaxRetries overrides the transport's attempt budget.
func WithMaxRetries(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewService wires the facade. Unless the transport already has one, a
// session-lost handler is installed that clears the local session.
func NewService(sessions *SessionManager, transport *Transport, users UserResolver, opts ...ServiceOption) *Service {
	s := &Service{
		sessions:   sessions,
		transport:  transport,
		users:      users,
		logger:     slog.Default(),
		schedule:   DefaultProgressSchedule,
		maxRetries: transport.MaxRetries(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = NewRequestQueue(s.metrics)

	if transport.onSessionLost == nil {
		transport.SetSessionLostHandler(func(sessionID string) {
			sessions.ClearSession(context.Background(), sessionID)
		})
	}
	return s
}

// Queue exposes the dedup queue for introspection.
func (s *Service) Queue() *RequestQueue {
	return s.queue
}

// SendMessage sends message to the appName agent and returns the answer.
// It never returns an error and never panics: failures come back as a
// Result with Success false. onStateChange may be nil.
func (s *Service) SendMessage(ctx context.Context, message string, appName domain.AgentID,
	onStateChange StateFunc, existingSessionID string,
) (result Result) {
	start := time.Now()
	emit := safeStateFunc(onStateChange, s.logger)
	if appName == "" {
		appName = domain.DefaultAgent
	}

	var sessionID string
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("SendMessage panicked", "session_id", sessionID, "panic", r)
			result = s.failure(sessionID, CodeUnknown, emit)
		}
		code := "OK"
		if !result.Success {
			code = string(result.Error)
		}
		s.metrics.ObserveMessage(string(appName), code, time.Since(start))
	}()

	userID := s.users.ResolveUserID(ctx)
	session := s.resolveSession(ctx, userID, appName, existingSessionID)
	sessionID = session.ID

	progress := startProgress(emit, s.schedule)
	defer progress.stop()

	if !s.sessions.IsSessionInitialized(session.ID) {
		if err := s.transport.InitializeBackendSession(ctx, string(appName), userID, session.ID); err != nil {
			progress.stop()
			return s.fail(ctx, session.ID, err, emit)
		}
		s.sessions.MarkSessionInitialized(ctx, session.ID)
		session.Initialized = true
	}

	req := NewRunRequest(string(appName), userID, session.ID, message)
	payload, err := s.queue.Enqueue(ctx, dedupKey(session.ID, message), func() (Payload, error) {
		return s.transport.MakeRequest(ctx, s.transport.RunURL(), req, s.maxRetries)
	})
	progress.stop()
	if err != nil {
		return s.fail(ctx, session.ID, err, emit)
	}

	// Recovery cleared the local record before the backend re-created it.
	// A session cleared by the user while the call ran stays cleared.
	if payload.Recovered {
		if _, ok := s.sessions.Session(session.ID); !ok {
			s.sessions.Save(ctx, session)
		}
	}

	text := ExtractText(payload)
	if text == "" {
		s.sessions.UpdateSession(ctx, session.ID, SessionUpdate{})
		return s.fail(ctx, session.ID, ErrEmptyResponse, emit)
	}

	s.sessions.RecordMessage(ctx, session.ID)
	emit(domain.ChatStateStreaming, StateLabel(domain.ChatStateStreaming))
	emit(domain.ChatStateComplete, StateLabel(domain.ChatStateComplete))

	s.logger.Info("Chatbot message answered",
		"session_id", session.ID, "app_name", appName, "duration", time.Since(start))
	return Result{Response: text, SessionID: session.ID, Success: true}
}

// resolveSession uses existingID when it names a session of this user and
// agent, otherwise the pair's active or a new session.
func (s *Service) resolveSession(ctx context.Context, userID string, appName domain.AgentID, existingID string) domain.Session {
	if existingID != "" {
		if existing, ok := s.sessions.Session(existingID); ok && existing.Matches(userID, appName) {
			return existing
		}
	}
	return s.sessions.GetOrCreateSession(ctx, userID, appName)
}

func (s *Service) fail(ctx context.Context, sessionID string, err error, emit StateFunc) Result {
	code := ClassifyError(err)
	if errors.Is(err, ErrSessionLost) {
		s.sessions.ClearSession(ctx, sessionID)
	}
	s.logger.Warn("Chatbot message failed", "session_id", sessionID, "code", code, "error", err)
	return s.failure(sessionID, code, emit)
}

func (s *Service) failure(sessionID string, code ErrorCode, emit StateFunc) Result {
	msg := UserMessage(code)
	emit(domain.ChatStateError, msg)
	return Result{Response: msg, SessionID: sessionID, Success: false, Error: code}
}

func dedupKey(sessionID, message string) string {
	r := []rune(message)
	if len(r) > dedupPrefixLen {
		r = r[:dedupPrefixLen]
	}
	return sessionID + "_" + string(r)
}

// CreateNewSession starts a new chat, replacing the caller's session for appName.
func (s *Service) CreateNewSession(ctx context.Context, appName domain.AgentID) domain.Session {
	if appName == "" {
		appName = domain.DefaultAgent
	}
	return s.sessions.CreateSession(ctx, s.users.ResolveUserID(ctx), appName)
}

// GetCurrentSession returns the caller's active session for appName, if any.
func (s *Service) GetCurrentSession(ctx context.Context, appName domain.AgentID) (domain.Session, bool) {
	if appName == "" {
		appName = domain.DefaultAgent
	}
	return s.sessions.ActiveSession(s.users.ResolveUserID(ctx), appName)
}

// ClearCurrentSession forgets sessionID.
func (s *Service) ClearCurrentSession(ctx context.Context, sessionID string) {
	s.sessions.ClearSession(ctx, sessionID)
}

// OwnsSession reports whether sessionID belongs to the caller.
func (s *Service) OwnsSession(ctx context.Context, sessionID string) bool {
	session, ok := s.sessions.Session(sessionID)
	return ok && session.UserID == s.users.ResolveUserID(ctx)
}

// CancelRequest aborts in-flight requests of sessionID.
func (s *Service) CancelRequest(sessionID string) {
	s.transport.Cancel(sessionID)
}

// CancelAllRequests aborts every in-flight request and forgets pending keys.
func (s *Service) CancelAllRequests() {
	s.transport.CancelAll()
	s.queue.CancelAll()
}

// Sessions lists the caller's sessions, most recent first.
func (s *Service) Sessions(ctx context.Context) []domain.Session {
	return s.sessions.SessionsForUser(s.users.ResolveUserID(ctx))
}
