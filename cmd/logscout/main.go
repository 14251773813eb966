// logscout - agentic log query server
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

	"github.com/logscout/logscout/internal/api"
	"github.com/logscout/logscout/internal/cache"
	"github.com/logscout/logscout/internal/config"
	"github.com/logscout/logscout/internal/logstore"
	"github.com/logscout/logscout/internal/middleware"
	"github.com/logscout/logscout/internal/model"
	"github.com/logscout/logscout/internal/orchestrator"
	"github.com/logscout/logscout/internal/records"
	"github.com/logscout/logscout/internal/stream"
	"github.com/logscout/logscout/internal/tools"
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

	// Initialize dependencies.
	resultCache, err := cache.New(cfg.Cache, logger)
	if err != nil {
		slog.Error("Failed to initialize result cache", "error", err)
		os.Exit(1)
	}

	ledger, err := records.Open(cfg.RecordsPath, logger)
	if err != nil {
		slog.Error("Failed to initialize record ledger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := ledger.Close(); closeErr != nil {
			slog.Error("Failed to close record ledger", "error", closeErr)
		}
	}()

	if err := ledger.Ping(context.Background()); err != nil {
		slog.Error("Record ledger health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Record ledger connected", "path", cfg.RecordsPath)

	// Initialize services.
	remote := logstore.NewHTTPClient(cfg.LogStore, logger)
	adapter := tools.New(resultCache, remote, cfg.LogStore.ItemCap, cfg.Turn.FanOutLimit, logger)
	completer := model.NewOpenAIClient(cfg.Model, logger)
	registry := stream.NewRegistry(logger)
	manager := orchestrator.NewManager(logger)

	// Every conversation currently shares one model client; the factory
	// seam is where per-conversation provider routing plugs in.
	factory := func(_ string, sink orchestrator.Sink) *orchestrator.Orchestrator {
		return orchestrator.New(completer, adapter, cfg.Turn,
			orchestrator.WithSink(sink),
			orchestrator.WithLogger(logger),
		)
	}

	// Initialize handlers.
	handler := api.NewHandler(manager, factory, registry, ledger, resultCache, logger)
	wsHandler := stream.NewWebSocketHandler(registry, cfg.AllowedOrigin, cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{cfg.AllowedOrigin}))

	handler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/conversations/{conversationID}", wsHandler.ServeHTTP)

	// Create server.
	// Turns can run for minutes, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Periodic cache sweep keeps expired entries from sitting on disk
	// between lookups.
	go func() {
		ticker := time.NewTicker(cfg.Cache.TTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := resultCache.EvictExpired(); n > 0 {
					slog.Debug("Evicted expired cache entries", "count", n)
				}
			}
		}
	}()

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
