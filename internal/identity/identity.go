// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/lexmarket/chatbot/internal/domain"
	"github.com/lexmarket/chatbot/internal/store"
)

const (
	GuestCookieName     = "lexmarket_guest_id"
	guestCookieMaxAge   = 365 * 24 * time.Hour
	ensuredUserTTL      = 10 * time.Minute
	ensuredUserCleanup  = 30 * time.Minute
	lastSeenGranularity = time.Minute
)

type contextKey int

const userIDKey contextKey = iota

var guestIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// NewGuestID returns a fresh anonymous id of the form anon_<32 hex>.
func NewGuestID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate guest id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsGuestID reports whether id has the guest id shape.
func IsGuestID(id string) bool {
	return guestIDPattern.MatchString(id)
}

func setGuestCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     GuestCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(guestCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(guestCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func guestIDFromRequest(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(GuestCookieName); err == nil && IsGuestID(c.Value) {
		setGuestCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := NewGuestID()
	if err != nil {
		return "", err
	}
	setGuestCookie(w, id, isDev)
	return id, nil
}

// userEnsurer makes sure a profile row exists for every id it sees. Ids
// already handled recently are served from a cache instead of the store.
type userEnsurer struct {
	repo   store.Repository
	seen   *cache.Cache
	logger *slog.Logger
}

func newUserEnsurer(repo store.Repository, logger *slog.Logger) *userEnsurer {
	return &userEnsurer{
		repo:   repo,
		seen:   cache.New(ensuredUserTTL, ensuredUserCleanup),
		logger: logger,
	}
}

func (e *userEnsurer) ensure(ctx context.Context, userID string) error {
	if _, ok := e.seen.Get(userID); ok {
		return nil
	}

	now := time.Now().Truncate(lastSeenGranularity)
	user, err := e.repo.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	if user == nil {
		err = e.repo.UpsertUser(ctx, &domain.User{
			UserID:     userID,
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		e.logger.Info("Guest user created", "user_id", userID)
	} else if err := e.repo.UpdateLastSeen(ctx, userID, now); err != nil {
		e.logger.Warn("Failed to update last seen", "user_id", userID, "error", err)
	}

	e.seen.SetDefault(userID, struct{}{})
	return nil
}

// Middleware attaches the caller's guest id to the request context and
// makes sure a user row exists for it.
func Middleware(repo store.Repository, isDev bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	ensurer := newUserEnsurer(repo, logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := guestIDFromRequest(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish guest identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensurer.ensure(r.Context(), userID); err != nil {
				logger.Error("Failed to initialize guest user", "user_id", userID, "error", err)
				http.Error(w, `{"error":"failed to initialize guest user"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
