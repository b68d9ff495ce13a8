package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lexmarket/chatbot/internal/metrics"
)

const (
	defaultBaseDelay      = time.Second
	defaultRequestTimeout = 60 * time.Second
	defaultMaxRetries     = 3

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 8 << 20
)

// TransportConfig holds the backend endpoint and retry policy.
type TransportConfig struct {
	BaseURL        string
	MaxRetries     int
	BaseDelay      time.Duration
	RequestTimeout time.Duration
	// RateLimit is the outbound request rate per second. Zero disables pacing.
	RateLimit float64
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transport talks HTTP to the agent backend.
type Transport struct {
	cfg           TransportConfig
	client        *http.Client
	limiter       *rate.Limiter
	sleep         Sleeper
	logger        *slog.Logger
	metrics       *metrics.Client
	onSessionLost func(sessionID string)

	mu       sync.Mutex
	inflight map[string]map[string]context.CancelFunc
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithSleeper replaces the backoff sleep.
func WithSleeper(s Sleeper) TransportOption {
	return func(t *Transport) {
		if s != nil {
			t.sleep = s
		}
	}
}

// WithTransportLogger sets the logger. Nil keeps slog.Default().
func WithTransportLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTransportMetrics records attempts and retries on m.
func WithTransportMetrics(m *metrics.Client) TransportOption {
	return func(t *Transport) { t.metrics = m }
}

// WithSessionLostHandler registers fn to run when the backend reports
// that a session no longer exists.
func WithSessionLostHandler(fn func(sessionID string)) TransportOption {
	return func(t *Transport) { t.onSessionLost = fn }
}

// NewTransport creates a Transport. Zero config values get defaults.
func NewTransport(cfg TransportConfig, opts ...TransportOption) *Transport {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	t := &Transport{
		cfg:      cfg,
		client:   &http.Client{},
		sleep:    sleepContext,
		logger:   slog.Default(),
		inflight: make(map[string]map[string]context.CancelFunc),
	}
	if cfg.RateLimit > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetSessionLostHandler registers fn after construction.
func (t *Transport) SetSessionLostHandler(fn func(sessionID string)) {
	t.onSessionLost = fn
}

// RunURL is the message endpoint.
func (t *Transport) RunURL() string {
	return t.cfg.BaseURL + "/run"
}

// MaxRetries is the configured attempt budget.
func (t *Transport) MaxRetries() int {
	return t.cfg.MaxRetries
}

// InitializeBackendSession registers sessionID with the backend. A 409
// means the session already exists and counts as success. Every other
// failure is logged and swallowed because the next run request surfaces
// it anyway. The only error returned is cancellation of ctx.
func (t *Transport) InitializeBackendSession(ctx context.Context, appName, userID, sessionID string) error {
	endpoint := fmt.Sprintf("%s/apps/%s/users/%s/sessions",
		t.cfg.BaseURL, url.PathEscape(appName), url.PathEscape(userID))

	body, err := json.Marshal(createSessionRequest{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("encode session request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		t.logger.Warn("Failed to build session init request", "session_id", sessionID, "error", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrRequestCancelled, ctx.Err())
		}
		t.logger.Warn("Session init failed", "session_id", sessionID, "error", err)
		return nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		t.logger.Debug("Backend session initialized", "session_id", sessionID, "app_name", appName)
	case resp.StatusCode == http.StatusConflict:
		t.logger.Debug("Backend session already exists", "session_id", sessionID)
	default:
		t.logger.Warn("Session init rejected", "session_id", sessionID, "status", resp.StatusCode)
	}
	return nil
}

// MakeRequest posts req to endpoint, retrying transient failures with
// exponential backoff for at most retries attempts. A lost backend session
// is re-initialized and retried once per call; the returned Payload then
// has Recovered set. The whole call, backoff sleeps included, is tracked
// under req.SessionID so Cancel aborts it at any point.
func (t *Transport) MakeRequest(ctx context.Context, endpoint string, req RunRequest, retries int) (Payload, error) {
	if retries < 1 {
		retries = 1
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Payload{}, fmt.Errorf("encode run request: %w", err)
	}

	callCtx, cancel := context.WithCancel(ctx)
	key := uuid.NewString()
	t.track(req.SessionID, key, cancel)
	defer func() {
		t.untrack(req.SessionID, key)
		cancel()
	}()

	recovered := false
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		payload, err := t.attempt(callCtx, endpoint, body)
		if err == nil {
			t.metrics.ObserveAttempt("ok")
			payload.Recovered = recovered
			return payload, nil
		}
		lastErr = err
		t.metrics.ObserveAttempt(attemptOutcome(err))

		switch {
		case errors.Is(err, ErrRequestCancelled):
			return Payload{}, err

		case errors.Is(err, ErrSessionLost):
			if t.onSessionLost != nil {
				t.onSessionLost(req.SessionID)
			}
			if recovered || attempt >= retries {
				return Payload{}, err
			}
			recovered = true
			t.metrics.SessionRecovered()
			t.logger.Warn("Backend lost session, re-initializing",
				"session_id", req.SessionID, "attempt", attempt)
			if err := t.InitializeBackendSession(callCtx, req.AppName, req.UserID, req.SessionID); err != nil {
				return Payload{}, err
			}

		case isRetryable(err):
			if attempt >= retries {
				break
			}
			delay := t.cfg.BaseDelay << (attempt - 1)
			t.metrics.ObserveRetry(attemptOutcome(err))
			t.logger.Warn("Agent request failed, retrying",
				"session_id", req.SessionID, "attempt", attempt, "delay", delay, "error", err)
			if err := t.sleep(callCtx, delay); err != nil {
				return Payload{}, fmt.Errorf("%w: %w", ErrRequestCancelled, err)
			}
			if callCtx.Err() != nil {
				return Payload{}, fmt.Errorf("%w: %w", ErrRequestCancelled, callCtx.Err())
			}

		default:
			return Payload{}, err
		}
	}
	return Payload{}, lastErr
}

// attempt performs one POST bounded by the request timeout. ctx is the
// tracked call context.
func (t *Transport) attempt(ctx context.Context, endpoint string, body []byte) (Payload, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return Payload{}, fmt.Errorf("%w: %w", ErrRequestCancelled, ctx.Err())
			}
			return Payload{}, fmt.Errorf("%w: rate limiter: %v", ErrNetwork, err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Payload{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream, text/plain")

	resp, err := t.client.Do(req)
	if err != nil {
		return Payload{}, transportError(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Payload{}, transportError(ctx, attemptCtx, err)
	}

	if err := classifyStatus(resp.StatusCode, data); err != nil {
		return Payload{}, err
	}
	return NewPayload(data), nil
}

// transportError separates cancellation from timeouts and connection
// failures. An attempt that hit its own timeout is a network failure.
func transportError(ctx, attemptCtx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(attemptCtx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %v", ErrRequestCancelled, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound && bytes.Contains(body, []byte("Session not found")):
		return ErrSessionLost
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: status %d", ErrServiceUnavailable, status)
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, status)
	default:
		return &APIError{Status: status, Body: string(body)}
	}
}

func attemptOutcome(err error) string {
	code := ClassifyError(err)
	if code == CodeUnknown {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return fmt.Sprintf("status_%d", apiErr.Status)
		}
	}
	return strings.ToLower(string(code))
}

// Cancel aborts every in-flight request for sessionID, including ones
// waiting out a backoff delay.
func (t *Transport) Cancel(sessionID string) {
	t.mu.Lock()
	attempts := t.inflight[sessionID]
	delete(t.inflight, sessionID)
	t.mu.Unlock()

	for _, cancel := range attempts {
		cancel()
	}
	if len(attempts) > 0 {
		t.logger.Info("Cancelled agent requests", "session_id", sessionID, "count", len(attempts))
	}
}

// CancelAll aborts every in-flight request.
func (t *Transport) CancelAll() {
	t.mu.Lock()
	all := t.inflight
	t.inflight = make(map[string]map[string]context.CancelFunc)
	t.mu.Unlock()

	for _, attempts := range all {
		for _, cancel := range attempts {
			cancel()
		}
	}
}

// InFlight returns the number of tracked requests.
func (t *Transport) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, attempts := range t.inflight {
		n += len(attempts)
	}
	return n
}

func (t *Transport) track(group, key string, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	attempts, ok := t.inflight[group]
	if !ok {
		attempts = make(map[string]context.CancelFunc)
		t.inflight[group] = attempts
	}
	attempts[key] = cancel
}

func (t *Transport) untrack(group, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	attempts, ok := t.inflight[group]
	if !ok {
		return
	}
	delete(attempts, key)
	if len(attempts) == 0 {
		delete(t.inflight, group)
	}
}
