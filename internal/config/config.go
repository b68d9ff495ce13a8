// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	StorageBackend string
	RedisURL       string
	LogLevel       string
	Chatbot        ChatbotConfig
}

// ChatbotConfig controls the agent backend client.
type ChatbotConfig struct {
	BaseURL        string
	MaxRetries     int
	BaseDelay      time.Duration
	RequestTimeout time.Duration
	SessionMaxAge  time.Duration
	RateLimitRPS   float64
	PruneInterval  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/chatbot.db"),
		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageSQLite)),
		RedisURL:       getEnv("REDIS_URL", ""),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Chatbot: ChatbotConfig{
			BaseURL:        strings.TrimRight(getEnv("CHATBOT_BASE_URL", "http://localhost:8000"), "/"),
			MaxRetries:     getEnvInt("CHATBOT_MAX_RETRIES", 3),
			BaseDelay:      getEnvDuration("CHATBOT_BASE_DELAY", time.Second),
			RequestTimeout: getEnvDuration("CHATBOT_REQUEST_TIMEOUT", 60*time.Second),
			SessionMaxAge:  getEnvDuration("CHATBOT_SESSION_MAX_AGE", 24*time.Hour),
			RateLimitRPS:   getEnvFloat("CHATBOT_RATE_LIMIT_RPS", 0),
			PruneInterval:  getEnvDuration("CHATBOT_PRUNE_INTERVAL", 15*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StorageBackend {
	case StorageSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case StorageRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORAGE_BACKEND=redis")
		}
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of sqlite, redis, memory, got %q", c.StorageBackend)
	}

	u, err := url.Parse(c.Chatbot.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("CHATBOT_BASE_URL must be an absolute URL, got %q", c.Chatbot.BaseURL)
	}
	if c.Chatbot.MaxRetries <= 0 {
		return fmt.Errorf("CHATBOT_MAX_RETRIES must be > 0")
	}
	if c.Chatbot.BaseDelay <= 0 {
		return fmt.Errorf("CHATBOT_BASE_DELAY must be > 0")
	}
	if c.Chatbot.RequestTimeout <= 0 {
		return fmt.Errorf("CHATBOT_REQUEST_TIMEOUT must be > 0")
	}
	if c.Chatbot.SessionMaxAge <= 0 {
		return fmt.Errorf("CHATBOT_SESSION_MAX_AGE must be > 0")
	}
	if c.Chatbot.RateLimitRPS < 0 {
		return fmt.Errorf("CHATBOT_RATE_LIMIT_RPS cannot be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"http://localhost:3000", "http://localhost:5173"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("1500ms") or plain milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
