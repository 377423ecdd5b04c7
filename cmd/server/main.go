package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mingpian/cardbase/internal"
	"github.com/mingpian/cardbase/internal/billing"
	"github.com/mingpian/cardbase/internal/handler"
	"github.com/mingpian/cardbase/internal/metrics"
	"github.com/mingpian/cardbase/internal/middleware"
	"github.com/mingpian/cardbase/internal/repository"
	"github.com/mingpian/cardbase/internal/service"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository
	store := repository.NewPostgres(db)

	// Initialize services
	quotaService := service.NewQuotaService(store, logger)
	subscriptionService := service.NewSubscriptionService(store, logger)

	// Stripe billing is optional; the webhook handler degrades to a stub
	// when no secret is configured.
	var billingService billing.Service
	if cfg.StripeSecretKey != "" {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			Pack100PriceID:  cfg.StripePack100PriceID,
			Pack500PriceID:  cfg.StripePack500PriceID,
			Pack1000PriceID: cfg.StripePack1000PriceID,
		})
		logger.Info("Stripe billing enabled")
	} else {
		logger.Warn("Stripe billing not configured, quota pack purchases disabled")
	}

	// Initialize middleware
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	adminMw := middleware.NewAdminAuthMiddleware(cfg.AdminTokenHash, logger)
	if cfg.AdminTokenHash == "" {
		logger.Warn("admin API is unprotected, set ADMIN_TOKEN_HASH outside development")
	}

	// Initialize handlers
	planHandler := handler.NewPlanHandler(subscriptionService, logger)
	tenantHandler := handler.NewTenantHandler(quotaService, subscriptionService, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, quotaService, logger)
	billingHandler := handler.NewBillingHandler(billingService, quotaService, logger)
	tenantAdminHandler := handler.NewTenantAdminHandler(store, quotaService, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics (basic auth when configured)
	mux.Handle("GET /metrics", middleware.MetricsAuthMiddleware(
		cfg.MetricsUsername, cfg.MetricsPassword, promhttp.Handler()))

	// Stripe webhook (public, authenticated by signature)
	webhookHandler.RegisterRoutes(mux)

	// Admin API
	planHandler.RegisterRoutes(mux, adminMw.RequireToken)
	tenantHandler.RegisterRoutes(mux, adminMw.RequireToken)
	billingHandler.RegisterRoutes(mux, adminMw.RequireToken)
	tenantAdminHandler.RegisterRoutes(mux, adminMw.RequireToken)

	// Outer middleware stack
	stack := middleware.Stack(loggingMw.Handler, metrics.Middleware)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: stack(mux),
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
