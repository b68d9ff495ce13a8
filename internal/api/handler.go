// Package api provides HTTP handlers for the chatbot API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lexmarket/chatbot/internal/chatbot"
	"github.com/lexmarket/chatbot/internal/domain"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// ChatService is the chatbot facade as seen by the HTTP layer.
type ChatService interface {
	SendMessage(ctx context.Context, message string, appName domain.AgentID,
		onStateChange chatbot.StateFunc, existingSessionID string) chatbot.Result
	CreateNewSession(ctx context.Context, appName domain.AgentID) domain.Session
	GetCurrentSession(ctx context.Context, appName domain.AgentID) (domain.Session, bool)
	ClearCurrentSession(ctx context.Context, sessionID string)
	OwnsSession(ctx context.Context, sessionID string) bool
	CancelRequest(sessionID string)
	Sessions(ctx context.Context) []domain.Session
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseAgent validates an optional appName. Empty selects the default agent.
func parseAgent(raw string) (domain.AgentID, bool) {
	if raw == "" {
		return domain.DefaultAgent, true
	}
	id := domain.AgentID(raw)
	return id, id.IsKnown()
}
