package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/lexmarket/chatbot/internal/domain"
	"github.com/lexmarket/chatbot/internal/store"
)

const (
	// ProfileStorageKey holds the signed-in user's profile as JSON.
	ProfileStorageKey = "user_profile"
	// GuestStorageKey holds the guest id used when there is no profile.
	GuestStorageKey = "chatbot_guest_id"

	profileCacheTTL = time.Minute
	profileCacheKey = "profile"
)

// Resolver decides which user id a chatbot request is made for: the id
// on the context, else the stored profile, else a guest id that is
// generated once and persisted.
type Resolver struct {
	kv       store.KeyValue
	profiles *cache.Cache
	logger   *slog.Logger

	mu      sync.Mutex
	guestID string
}

// NewResolver creates a Resolver backed by kv. kv may be nil.
func NewResolver(kv store.KeyValue, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		kv:       kv,
		profiles: cache.New(profileCacheTTL, 2*profileCacheTTL),
		logger:   logger,
	}
}

// ResolveUserID implements chatbot.UserResolver.
func (r *Resolver) ResolveUserID(ctx context.Context) string {
	if id := UserIDFromContext(ctx); id != "" {
		return id
	}
	if id := r.profileUserID(ctx); id != "" {
		return id
	}
	return r.guest(ctx)
}

func (r *Resolver) profileUserID(ctx context.Context) string {
	if cached, ok := r.profiles.Get(profileCacheKey); ok {
		return cached.(string)
	}
	if r.kv == nil {
		return ""
	}

	raw, ok, err := r.kv.GetItem(ctx, ProfileStorageKey)
	if err != nil {
		r.logger.Warn("Failed to read user profile", "error", err)
		return ""
	}

	id := ""
	if ok && raw != "" {
		var profile domain.User
		if err := json.Unmarshal([]byte(raw), &profile); err != nil {
			r.logger.Warn("Ignoring unreadable user profile", "error", err)
		} else {
			id = profile.UserID
		}
	}
	r.profiles.SetDefault(profileCacheKey, id)
	return id
}

// SetProfile stores profile as the signed-in user.
func (r *Resolver) SetProfile(ctx context.Context, profile domain.User) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	r.profiles.Delete(profileCacheKey)
	if r.kv == nil {
		r.profiles.SetDefault(profileCacheKey, profile.UserID)
		return nil
	}
	return r.kv.SetItem(ctx, ProfileStorageKey, string(data))
}

func (r *Resolver) guest(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.guestID != "" {
		return r.guestID
	}

	if r.kv != nil {
		raw, ok, err := r.kv.GetItem(ctx, GuestStorageKey)
		switch {
		case err != nil:
			r.logger.Warn("Failed to read guest id", "error", err)
		case ok && IsGuestID(raw):
			r.guestID = raw
			return raw
		}
	}

	id, err := NewGuestID()
	if err != nil {
		r.logger.Error("Failed to generate guest id", "error", err)
		return "anon_guest"
	}
	r.guestID = id

	if r.kv != nil {
		if err := r.kv.SetItem(ctx, GuestStorageKey, id); err != nil {
			r.logger.Warn("Failed to persist guest id", "error", err)
		}
	}
	return id
}
