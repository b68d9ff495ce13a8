package chatbot

import (
	"encoding/json"

	"google.golang.org/genai"
)

// Payload is a response body as received from the agent backend.
// IsJSON is set when the body parsed as JSON; otherwise Raw holds plain
// or SSE-framed text. Recovered is set when the backend session had to
// be re-created before this body was produced.
type Payload struct {
	Raw       []byte
	IsJSON    bool
	Recovered bool
}

// NewPayload classifies body as JSON or text.
func NewPayload(body []byte) Payload {
	return Payload{Raw: body, IsJSON: json.Valid(body)}
}

// String returns the body as text.
func (p Payload) String() string {
	return string(p.Raw)
}

// RunRequest is the body of POST {base}/run.
type RunRequest struct {
	AppName    string         `json:"app_name"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"sessionId"`
	NewMessage *genai.Content `json:"new_message"`
	Streaming  bool           `json:"streaming"`
}

// NewRunRequest builds a non-streaming run request carrying one user turn.
func NewRunRequest(appName, userID, sessionID, message string) RunRequest {
	return RunRequest{
		AppName:    appName,
		UserID:     userID,
		SessionID:  sessionID,
		NewMessage: genai.NewContentFromText(message, genai.RoleUser),
		Streaming:  false,
	}
}

// createSessionRequest is the body of POST {base}/apps/{app}/users/{user}/sessions.
type createSessionRequest struct {
	SessionID string `json:"sessionId"`
}
