// MathChat - SAT math tutoring assistant server
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
	"github.com/tutorstack/mathchat/internal/catalog"
	"github.com/tutorstack/mathchat/internal/chat"
	"github.com/tutorstack/mathchat/internal/config"
	"github.com/tutorstack/mathchat/internal/llm"
	"github.com/tutorstack/mathchat/internal/middleware"
	"github.com/tutorstack/mathchat/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize the repository. A failed database is not fatal: the service
	// keeps answering with stateful features degraded.
	var repo store.Repository
	sqlStore, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database, running degraded", "error", err)
		repo = store.NewUnavailable()
	} else {
		repo = sqlStore
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Warn("Database health check failed, stateful features degraded", "error", err)
	} else {
		slog.Info("Database connected")
		if err := catalog.Seed(context.Background(), repo, cfg.CatalogPath); err != nil {
			slog.Error("Failed to seed problem catalog", "error", err)
			os.Exit(1)
		}
	}

	// Initialize the model client (optional).
	var model llm.Completer
	if cfg.Model.APIKey == "" {
		slog.Info("Model features disabled (OPENAI_API_KEY not set)")
		model = llm.Disabled{}
	} else {
		client, err := llm.NewClient(llm.Config{
			APIKey:  cfg.Model.APIKey,
			BaseURL: cfg.Model.BaseURL,
			Model:   cfg.Model.Name,
			Timeout: cfg.Model.Timeout,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize model client", "error", err)
			os.Exit(1)
		}
		model = client
		slog.Info("Model client initialized", "model", cfg.Model.Name)
	}

	translog, err := chat.NewTranscriptLogger(chat.TranscriptLogConfig{
		Enabled:   cfg.TranscriptLog.Enabled,
		Dir:       cfg.TranscriptLog.Dir,
		QueueSize: cfg.TranscriptLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := translog.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Initialize services and handlers.
	cursor := catalog.NewCursor(repo)
	orchestrator := chat.NewOrchestrator(repo, cursor, model, translog)
	rateLimiter := chat.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	handler := chat.NewHandler(orchestrator, repo, rateLimiter)
	wsHandler := chat.NewWebSocketHandler(orchestrator, rateLimiter, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	handler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/assistant", wsHandler.ServeHTTP)

	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
