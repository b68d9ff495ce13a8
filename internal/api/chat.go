package api

import (
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/lexmarket/chatbot/internal/domain"
	"github.com/lexmarket/chatbot/internal/identity"
)

// maxMessageRunes bounds a single chat message.
const maxMessageRunes = 8000

// ChatHandler serves the /api/chat endpoints.
type ChatHandler struct {
	svc ChatService
}

// NewChatHandler creates a chat handler.
func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/agents", h.ListAgents)
		r.Post("/messages", h.SendMessage)
		r.Post("/cancel", h.CancelAll)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Get("/current", h.CurrentSession)
			r.Delete("/{sessionID}", h.DeleteSession)
			r.Post("/{sessionID}/cancel", h.CancelSession)
		})
	})
}

type sendMessageRequest struct {
	Message   string `json:"message"`
	AppName   string `json:"appName"`
	SessionID string `json:"sessionId"`
}

// SendMessage forwards a message to the agent and returns the chatbot result.
// Failures of the agent call are reported inside the result with status 200.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if utf8.RuneCountInString(req.Message) > maxMessageRunes {
		Error(w, http.StatusRequestEntityTooLarge, "message is too long")
		return
	}
	appName, ok := parseAgent(req.AppName)
	if !ok {
		Error(w, http.StatusBadRequest, "unknown appName")
		return
	}

	result := h.svc.SendMessage(r.Context(), req.Message, appName, nil, req.SessionID)
	JSON(w, http.StatusOK, result)
}

type createSessionRequest struct {
	AppName string `json:"appName"`
}

// CreateSession starts a new chat for the caller.
func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	appName, ok := parseAgent(req.AppName)
	if !ok {
		Error(w, http.StatusBadRequest, "unknown appName")
		return
	}

	session := h.svc.CreateNewSession(r.Context(), appName)
	JSON(w, http.StatusCreated, session)
}

// CurrentSession returns the caller's active session for an agent.
func (h *ChatHandler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	appName, ok := parseAgent(r.URL.Query().Get("appName"))
	if !ok {
		Error(w, http.StatusBadRequest, "unknown appName")
		return
	}

	session, found := h.svc.GetCurrentSession(r.Context(), appName)
	if !found {
		Error(w, http.StatusNotFound, "no active session")
		return
	}
	JSON(w, http.StatusOK, session)
}

// ListSessions returns every session of the caller.
func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.svc.Sessions(r.Context()),
	})
}

// DeleteSession forgets one of the caller's sessions.
func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !h.svc.OwnsSession(r.Context(), sessionID) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	h.svc.CancelRequest(sessionID)
	h.svc.ClearCurrentSession(r.Context(), sessionID)
	slog.Info("Chat session deleted", "user_id", identity.UserIDFromContext(r.Context()), "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// CancelSession aborts the in-flight request of one session.
func (h *ChatHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !h.svc.OwnsSession(r.Context(), sessionID) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	h.svc.CancelRequest(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// CancelAll aborts in-flight requests of every session the caller owns.
func (h *ChatHandler) CancelAll(w http.ResponseWriter, r *http.Request) {
	for _, s := range h.svc.Sessions(r.Context()) {
		h.svc.CancelRequest(s.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAgents returns the agents a chat can target.
func (h *ChatHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"agents":  domain.Agents(),
		"default": domain.DefaultAgent,
	})
}
