package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	billingstripe "github.com/dukerupert/ltgvault/internal/billing/stripe"
	"github.com/dukerupert/ltgvault/internal/config"
	"github.com/dukerupert/ltgvault/internal/database"
	"github.com/dukerupert/ltgvault/internal/email"
	"github.com/dukerupert/ltgvault/internal/llm"
	"github.com/dukerupert/ltgvault/internal/logging"
	"github.com/dukerupert/ltgvault/internal/server"
	"github.com/dukerupert/ltgvault/internal/token"
)

// Request log rows older than this are never counted by the sliding window.
const requestLogRetention = 24 * time.Hour

func main() {
	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	catalog, err := config.LoadCatalog(cfg.PolicyFile)
	if err != nil {
		slog.Error("failed to load feature catalog", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	signer, err := token.NewSigner([]byte(cfg.Secret), nil)
	if err != nil {
		slog.Error("failed to create token signer", "error", err)
		os.Exit(1)
	}

	completer := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, llm.WithTimeout(cfg.LLM.Timeout))
	if !completer.Configured() {
		slog.Warn("LTGV_LLM_API_KEY not set, generation requests will fail")
	}

	mailer := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL)
	if !mailer.Configured() {
		slog.Warn("LTGV_POSTMARK_TOKEN not set, activation links will be logged instead of sent")
	}

	billing := billingstripe.NewClient(billingstripe.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.BaseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     cfg.BaseURL + "/billing/cancel",
	})

	srv := server.New(db, cfg, catalog, signer, completer, mailer, billing, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Generation may take up to the model timeout.
		WriteTimeout: cfg.LLM.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		cleanup(srv)
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cleanup(srv)
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("ltgvault starting", "addr", httpServer.Addr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func cleanup(srv *server.Server) {
	if n, err := srv.RequestLog().DeleteOlderThan(time.Now().Add(-requestLogRetention)); err != nil {
		slog.Error("prune request log", "error", err)
	} else if n > 0 {
		slog.Info("pruned request log", "count", n)
	}
	srv.Throttle().Cleanup()
}
