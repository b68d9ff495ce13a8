// Package stream pushes chatbot progress states to browsers over WebSocket.
package stream

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks open chat connections per user.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Register adds conn for userID.
func (r *Registry) Register(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.active[userID]
	if !ok {
		conns = make(map[*websocket.Conn]struct{})
		r.active[userID] = conns
	}
	conns[conn] = struct{}{}
	slog.Debug("Chat stream registered", "user_id", userID, "connections", len(conns))
}

// Unregister removes conn for userID.
func (r *Registry) Unregister(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.active[userID]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(r.active, userID)
	}
}

// Count returns the number of open connections for userID.
func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active[userID])
}

// CloseAll closes every tracked connection. Used on shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, conns := range r.active {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, reason)
		}
		delete(r.active, userID)
	}
}
