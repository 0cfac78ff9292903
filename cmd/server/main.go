package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	httpapi "tradehub-backend/internal/api/http"
	"tradehub-backend/internal/config"
	"tradehub-backend/internal/limits"
	"tradehub-backend/internal/logger"
	"tradehub-backend/internal/pricing"
	"tradehub-backend/internal/repository/postgres"
	"tradehub-backend/internal/security"
	"tradehub-backend/internal/service"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting TradeHub Credit Engine...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress())
	logger.Info("Database configuration", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database, "user", cfg.Database.User)

	// Initialize Database
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(); err != nil {
		logger.Error("Failed to ping database", "error", err)
		log.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Database connection established")

	// Initialize Repositories
	store := postgres.NewStore(db)

	// Initialize Security
	tokenManager := security.NewTokenManager(cfg.JWT.Secret, time.Duration(cfg.JWT.AccessTokenExpiry)*time.Minute)

	// Initialize collaborators
	catalog := pricing.NewCatalog(nil, nil, cfg.Credits.CostTolerance)
	limitPolicy := limits.NewPolicy(store.LedgerRepository, cfg.Limits.Roles)
	gateway := service.NewStripeGateway(cfg.Stripe.SecretKey)

	var publisher service.NotificationPublisher
	if cfg.SendGrid.APIKey != "" {
		publisher = service.NewSendGridPublisher(
			cfg.SendGrid.APIKey,
			cfg.SendGrid.FromEmail,
			cfg.SendGrid.FromName,
			nil,
		)
	} else {
		logger.Info("No SendGrid key configured, logging ledger events only")
		publisher = service.NewLogPublisher()
	}

	// Initialize Services
	topupSvc := service.NewTopupService(
		store.TopupPolicyRepository,
		store.LedgerRepository,
		gateway,
		catalog,
		publisher,
		service.TopupConfig{ChargeTimeout: cfg.ChargeTimeout()},
	)
	creditSvc := service.NewCreditService(
		store.LedgerRepository,
		topupSvc,
		gateway,
		limitPolicy,
		catalog,
		publisher,
		service.CreditEngineConfig{
			RefundWindow:             cfg.RefundWindow(),
			LowBalanceThreshold:      cfg.Credits.LowBalanceThreshold,
			CriticalBalanceThreshold: cfg.Credits.CriticalBalanceThreshold,
			ConflictRetries:          cfg.Credits.ConflictRetries,
			BalanceCacheTTL:          cfg.BalanceCacheTTL(),
			TrialGrantCredits:        cfg.Credits.TrialGrantCredits,
		},
	)

	// Initialize HTTP handlers
	creditHandler := httpapi.NewCreditHandler(creditSvc)
	topupHandler := httpapi.NewTopupHandler(topupSvc)
	router := httpapi.NewRouter(tokenManager, creditHandler, topupHandler)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "address", cfg.GetServerAddress())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown", "error", err)
	}
	logger.Info("Server stopped")
}
