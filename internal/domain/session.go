// Package domain contains core domain types for the legal assistant chatbot.
package domain

import (
	"time"
)

// SessionMaxAge is how long a conversation session stays reusable.
const SessionMaxAge = 24 * time.Hour

// Session is one conversation thread between a user and a backend agent.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	AppName      AgentID   `json:"appName"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	MessageCount int       `json:"messageCount"`
	Initialized  bool      `json:"initialized"`
}

// Age returns how long ago the session was created.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// IsStale reports whether the session has reached maxAge and must be replaced.
func (s *Session) IsStale(now time.Time, maxAge time.Duration) bool {
	return s.Age(now) >= maxAge
}

// Matches reports whether the session belongs to the user/agent pair.
func (s *Session) Matches(userID string, appName AgentID) bool {
	return s.UserID == userID && s.AppName == appName
}
