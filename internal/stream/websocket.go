package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lexmarket/chatbot/internal/chatbot"
	"github.com/lexmarket/chatbot/internal/domain"
	"github.com/lexmarket/chatbot/internal/identity"
)

// Sender is the part of chatbot.Service the stream needs.
type Sender interface {
	SendMessage(ctx context.Context, message string, appName domain.AgentID,
		onStateChange chatbot.StateFunc, existingSessionID string) chatbot.Result
	OwnsSession(ctx context.Context, sessionID string) bool
	CancelRequest(sessionID string)
}

// Frame types sent by clients.
const (
	FrameMessage = "message"
	FrameCancel  = "cancel"
	FramePing    = "ping"
)

// inbound is a client frame.
type inbound struct {
	Type      string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	AppName   domain.AgentID `json:"appName,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
}

// Outbound is a server frame: a progress state, a result or an error.
type Outbound struct {
	Type    string           `json:"type"`
	State   domain.ChatState `json:"state,omitempty"`
	Message string           `json:"message,omitempty"`
	*chatbot.Result
}

// Handler serves GET /ws/chat.
type Handler struct {
	svc            Sender
	registry       *Registry
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// NewHandler creates a WebSocket chat handler.
func NewHandler(svc Sender, registry *Registry, allowedOrigins []string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:            svc,
		registry:       registry,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		logger:         logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.registry.Register(userID, ws)
	defer h.registry.Unregister(userID, ws)

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.logger.Info("Chat stream opened", "user_id", userID, "ip", identity.IPFromRequest(r))
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("Chat stream closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.write(ctx, ws, Outbound{Type: "error", Message: "invalid frame"})
			continue
		}

		switch msg.Type {
		case FrameMessage, "":
			if msg.Message == "" {
				h.write(ctx, ws, Outbound{Type: "error", Message: "message is required"})
				continue
			}
			if msg.AppName != "" && !msg.AppName.IsKnown() {
				h.write(ctx, ws, Outbound{Type: "error", Message: "unknown appName"})
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.send(ctx, ws, msg)
			}()
		case FrameCancel:
			if msg.SessionID != "" && h.svc.OwnsSession(ctx, msg.SessionID) {
				h.svc.CancelRequest(msg.SessionID)
			}
		case FramePing:
			h.write(ctx, ws, Outbound{Type: "pong"})
		default:
			h.write(ctx, ws, Outbound{Type: "error", Message: "unknown frame type"})
		}
	}
}

func (h *Handler) send(ctx context.Context, ws *websocket.Conn, msg inbound) {
	onState := func(state domain.ChatState, message string) {
		h.write(ctx, ws, Outbound{Type: "state", State: state, Message: message})
	}
	result := h.svc.SendMessage(ctx, msg.Message, msg.AppName, onState, msg.SessionID)
	h.write(ctx, ws, Outbound{Type: "result", Result: &result})
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, v Outbound) {
	if err := wsjson.Write(ctx, ws, v); err != nil && ctx.Err() == nil {
		h.logger.Debug("WebSocket write error", "error", err)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}
