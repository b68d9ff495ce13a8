// Legal assistant chatbot API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexmarket/chatbot/internal/api"
	"github.com/lexmarket/chatbot/internal/chatbot"
	"github.com/lexmarket/chatbot/internal/config"
	"github.com/lexmarket/chatbot/internal/identity"
	"github.com/lexmarket/chatbot/internal/logging"
	"github.com/lexmarket/chatbot/internal/metrics"
	"github.com/lexmarket/chatbot/internal/middleware"
	"github.com/lexmarket/chatbot/internal/store"
	"github.com/lexmarket/chatbot/internal/stream"
	"github.com/lexmarket/chatbot/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.IsDevelopment())
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"storage", cfg.StorageBackend, "agent_url", cfg.Chatbot.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, sessionKV, checks, cleanup, err := openStorage(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.Info("Storage ready", "backend", cfg.StorageBackend)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize chatbot client.
	sessions := chatbot.NewSessionManager(ctx, sessionKV,
		chatbot.WithMaxAge(cfg.Chatbot.SessionMaxAge),
		chatbot.WithSessionLogger(logger),
		chatbot.WithSessionMetrics(m))
	transport := chatbot.NewTransport(chatbot.TransportConfig{
		BaseURL:        cfg.Chatbot.BaseURL,
		MaxRetries:     cfg.Chatbot.MaxRetries,
		BaseDelay:      cfg.Chatbot.BaseDelay,
		RequestTimeout: cfg.Chatbot.RequestTimeout,
		RateLimit:      cfg.Chatbot.RateLimitRPS,
	}, chatbot.WithTransportLogger(logger), chatbot.WithTransportMetrics(m))
	svc := chatbot.NewService(sessions, transport, identity.NewResolver(sessionKV, logger),
		chatbot.WithLogger(logger), chatbot.WithMetrics(m))

	// Initialize handlers.
	chatHandler := api.NewChatHandler(svc)
	healthHandler := api.NewHealthHandler(checks)
	registry := stream.NewRegistry()
	wsHandler := stream.NewHandler(svc, registry, cfg.AllowedOrigins(), cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Chat routes carry a guest identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment(), logger))
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Agent calls can take a minute and retries add backoff on top, so
	// there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	worker.StartSessionPruner(ctx, sessions, cfg.Chatbot.PruneInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	svc.CancelAllRequests()
	registry.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}

// openStorage returns the profile repository, the store that holds chatbot
// sessions, the readiness checks and a cleanup func.
func openStorage(ctx context.Context, cfg *config.Config) (store.Repository, store.KeyValue, map[string]api.Pinger, func(), error) {
	if cfg.StorageBackend == config.StorageMemory {
		mem := store.NewMemory()
		return mem, mem, map[string]api.Pinger{}, func() {}, nil
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, nil, nil, nil, err
	}
	checks := map[string]api.Pinger{"database": repo}
	closeRepo := func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}

	if cfg.StorageBackend != config.StorageRedis {
		return repo, repo, checks, closeRepo, nil
	}

	kv, err := store.NewRedisKV(ctx, cfg.RedisURL)
	if err != nil {
		closeRepo()
		return nil, nil, nil, nil, err
	}
	checks["redis"] = kv
	return repo, kv, checks, func() {
		if closeErr := kv.Close(); closeErr != nil {
			slog.Error("Failed to close redis", "error", closeErr)
		}
		closeRepo()
	}, nil
}
