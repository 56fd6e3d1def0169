// FinGro - agricultural loan conversation server
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

	"github.com/fingro/fingro-bot/internal/config"
	"github.com/fingro/fingro-bot/internal/conversation"
	"github.com/fingro/fingro-bot/internal/market"
	"github.com/fingro/fingro-bot/internal/orchestrator"
	"github.com/fingro/fingro-bot/internal/outbound"
	"github.com/fingro/fingro-bot/internal/scoring"
	"github.com/fingro/fingro-bot/internal/store"
	"github.com/fingro/fingro-bot/internal/webhook"
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

	slog.Info("Starting server", "port", cfg.Port)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Market reference cache: one shared instance owns the retry budget,
	// single-flight discipline and LRU eviction.
	client := market.NewClient(cfg.Market.BaseURL, cfg.Market.RateLimitRPS)
	policy := market.DefaultRetryPolicy(cfg.Market.MaxRetries, cfg.Market.AttemptTimeout)
	cache := market.NewCache(client, cfg.Market.MaxCacheSize, cfg.Market.CacheTTL, policy)
	slog.Info("Market reference cache initialized",
		"ttl", cfg.Market.CacheTTL,
		"max_entries", cfg.Market.MaxCacheSize,
		"max_retries", cfg.Market.MaxRetries)

	// Engines and conversation core.
	scorer := scoring.NewEngine(cfg.Score.Min, cfg.Score.Max)
	offers := scoring.NewOfferEngine(cfg.Loan.MinAmount, cfg.Loan.MaxAmount, cfg.Loan.TermMonths, cfg.Loan.AnnualRate)
	machine := conversation.NewMachine(cache, scorer, offers)
	orch := orchestrator.New(repo, machine)

	sender := outbound.NewCloudAPIClient(cfg.WhatsApp.Token, cfg.WhatsApp.PhoneID)
	handler := webhook.NewHandler(orch, sender, repo, cfg.WhatsApp.VerifyToken)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start abandon sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator.StartAbandonSweeper(ctx, repo, cfg.SessionTTL)

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
