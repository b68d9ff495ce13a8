package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmarket/chatbot/internal/chatbot"
	"github.com/lexmarket/chatbot/internal/domain"
	"github.com/lexmarket/chatbot/internal/identity"
	"github.com/lexmarket/chatbot/internal/store"
)

const testUser = "anon_0123456789abcdef0123456789abcdef"

type chatFixture struct {
	router   http.Handler
	sessions *chatbot.SessionManager
	backend  *httptest.Server
}

func newChatFixture(t *testing.T, run http.HandlerFunc) *chatFixture {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/run" {
			run(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	ctx := context.Background()
	sessions := chatbot.NewSessionManager(ctx, store.NewMemory())
	transport := chatbot.NewTransport(chatbot.TransportConfig{BaseURL: backend.URL},
		chatbot.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	svc := chatbot.NewService(sessions, transport, identity.NewResolver(nil, nil),
		chatbot.WithProgressSchedule(nil))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), testUser)))
		})
	})
	NewChatHandler(svc).RegisterRoutes(r)

	return &chatFixture{router: r, sessions: sessions, backend: backend}
}

func (f *chatFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func answer(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"content":{"parts":[{"text":"`+text+`"}]}}]`)
	}
}

func TestSendMessageEndpoint(t *testing.T) {
	f := newChatFixture(t, answer("Section 498A is..."))

	rec := f.do(http.MethodPost, "/api/chat/messages",
		`{"message":"What is Section 498A?","appName":"legal_advisor"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var res chatbot.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.Equal(t, "Section 498A is...", res.Response)

	s, ok := f.sessions.Session(res.SessionID)
	require.True(t, ok)
	assert.Equal(t, testUser, s.UserID)
	assert.Equal(t, 1, s.MessageCount)
}

func TestSendMessageEndpointReportsFailures(t *testing.T) {
	f := newChatFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rec := f.do(http.MethodPost, "/api/chat/messages", `{"message":"hello"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var res chatbot.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.False(t, res.Success)
	assert.Equal(t, chatbot.CodeServiceUnavailable, res.Error)
	assert.Equal(t, chatbot.UserMessage(chatbot.CodeServiceUnavailable), res.Response)
}

func TestSendMessageEndpointValidation(t *testing.T) {
	f := newChatFixture(t, answer("unused"))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"message":`, http.StatusBadRequest},
		{"unknown field", `{"message":"hi","extra":1}`, http.StatusBadRequest},
		{"blank message", `{"message":"   "}`, http.StatusBadRequest},
		{"unknown agent", `{"message":"hi","appName":"astrologer"}`, http.StatusBadRequest},
		{"too long", `{"message":"` + strings.Repeat("a", maxMessageRunes+1) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/chat/messages", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	f := newChatFixture(t, answer("ok"))

	rec := f.do(http.MethodGet, "/api/chat/sessions/current?appName=consumer_rights", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/chat/sessions", `{"appName":"consumer_rights"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, domain.AgentConsumerRights, created.AppName)

	rec = f.do(http.MethodGet, "/api/chat/sessions/current?appName=consumer_rights", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var current domain.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&current))
	assert.Equal(t, created.ID, current.ID)

	rec = f.do(http.MethodGet, "/api/chat/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sessions []domain.Session `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Sessions, 1)

	rec = f.do(http.MethodPost, "/api/chat/sessions/"+created.ID+"/cancel", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodDelete, "/api/chat/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := f.sessions.Session(created.ID)
	assert.False(t, ok)

	rec = f.do(http.MethodDelete, "/api/chat/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionEndpointsHideOtherUsers(t *testing.T) {
	f := newChatFixture(t, answer("ok"))
	other := f.sessions.CreateSession(context.Background(), "someone-else", domain.AgentLegalAdvisor)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/chat/sessions/"+other.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/chat/sessions/"+other.ID+"/cancel", "").Code)

	_, ok := f.sessions.Session(other.ID)
	assert.True(t, ok)
}

func TestCreateSessionWithoutBody(t *testing.T) {
	f := newChatFixture(t, answer("ok"))

	rec := f.do(http.MethodPost, "/api/chat/sessions", "")

	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, domain.DefaultAgent, created.AppName)
}

func TestCancelAllAndAgents(t *testing.T) {
	f := newChatFixture(t, answer("ok"))

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/api/chat/cancel", "").Code)

	rec := f.do(http.MethodGet, "/api/chat/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Agents  []string `json:"agents"`
		Default string   `json:"default"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Agents, 4)
	assert.Equal(t, "legal_advisor", body.Default)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"database": pingFunc(func(context.Context) error { return nil }),
	})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler(map[string]Pinger{
		"redis": pingFunc(func(context.Context) error { return assert.AnError }),
	})
	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"unreachable"`)
}
