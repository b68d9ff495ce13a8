package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FRONTEND_URL", "")
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PATH", "./data/chatbot.db")
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("CHATBOT_BASE_URL", "http://localhost:8000/")
	t.Setenv("CHATBOT_MAX_RETRIES", "3")
	t.Setenv("CHATBOT_BASE_DELAY", "1000")
	t.Setenv("CHATBOT_REQUEST_TIMEOUT", "60s")
	t.Setenv("CHATBOT_SESSION_MAX_AGE", "24h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Chatbot.BaseURL)
	assert.Equal(t, 3, cfg.Chatbot.MaxRetries)
	assert.Equal(t, time.Second, cfg.Chatbot.BaseDelay)
	assert.Equal(t, 60*time.Second, cfg.Chatbot.RequestTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Chatbot.SessionMaxAge)
	assert.True(t, cfg.IsDevelopment())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:           "8080",
			DBPath:         "./data/chatbot.db",
			StorageBackend: StorageSQLite,
			Chatbot: ChatbotConfig{
				BaseURL:        "http://localhost:8000",
				MaxRetries:     3,
				BaseDelay:      time.Second,
				RequestTimeout: time.Minute,
				SessionMaxAge:  24 * time.Hour,
			},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"unknown backend", func(c *Config) { c.StorageBackend = "mongo" }},
		{"redis without url", func(c *Config) { c.StorageBackend = StorageRedis }},
		{"relative base url", func(c *Config) { c.Chatbot.BaseURL = "localhost:8000" }},
		{"zero retries", func(c *Config) { c.Chatbot.MaxRetries = 0 }},
		{"zero delay", func(c *Config) { c.Chatbot.BaseDelay = 0 }},
		{"negative rate", func(c *Config) { c.Chatbot.RateLimitRPS = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	c := &Config{FrontendURL: "https://lexmarket.in/, https://admin.lexmarket.in"}
	assert.Equal(t, []string{"https://lexmarket.in", "https://admin.lexmarket.in"}, c.AllowedOrigins())
	assert.False(t, c.IsDevelopment())

	dev := &Config{}
	assert.Contains(t, dev.AllowedOrigins(), "http://localhost:3000")
}
