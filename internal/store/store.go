// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/lexmarket/chatbot/internal/domain"
)

// KeyValue is durable string storage addressed by key. It plays the role
// browser local storage plays for a web client: whole values are read and
// rewritten, there are no partial updates.
type KeyValue interface {
	// GetItem returns the value stored under key. ok is false when the key is absent.
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error
}

// Repository defines the interface for persisting user profiles and local state.
type Repository interface {
	KeyValue

	// GetUser retrieves a user by their user ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// Ping verifies storage connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
