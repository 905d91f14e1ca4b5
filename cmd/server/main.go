package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/susubank/ledger/internal/config"
	"github.com/susubank/ledger/internal/database"
	"github.com/susubank/ledger/internal/handlers"
	"github.com/susubank/ledger/internal/logger"
	mW "github.com/susubank/ledger/internal/middleware"
	"github.com/susubank/ledger/internal/services"
	"github.com/susubank/ledger/internal/store"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		// logger config lives in cfg, so fall back to the default one
		logger.New(logger.DefaultConfig()).Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	defer log.Sync()

	if cfg.JWT.SecretKey == "" {
		log.Fatal("JWT_SECRET_KEY must be set")
	}

	loc, err := cfg.Ledger.Location()
	if err != nil {
		log.Fatal("Invalid ledger timezone", zap.Error(err))
	}

	// Initialize storage
	db, err := database.InitDB(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, log)
	if err != nil {
		log.Fatal("Failed to prepare migrations", zap.Error(err))
	}
	if err := migrator.Up(); err != nil {
		log.Fatal("Failed to apply migrations", zap.Error(err))
	}

	var notifier services.Notifier = services.NopNotifier{}
	redisClient := database.InitRedis(cfg.Redis, log)
	if redisClient != nil {
		defer redisClient.Close()
		notifier = services.NewRedisNotifier(redisClient, cfg.Ledger.NotificationQueue)
	}

	ledgerStore := store.NewPostgres(db, log)
	opts := []services.Option{
		services.WithLogger(log),
		services.WithLocation(loc),
		services.WithNotifier(notifier),
	}
	transactionEngine := services.NewTransactionEngine(ledgerStore, opts...)
	reversalEngine := services.NewReversalEngine(ledgerStore, opts...)
	ledgerHandler := handlers.NewLedgerHandler(transactionEngine, reversalEngine, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweep := services.NewInactivitySweep(ledgerStore, services.SweepConfig{
		InactivityDays:    cfg.Ledger.InactivityDays,
		CustomerGraceDays: cfg.Ledger.CustomerGraceDays,
		Hour:              cfg.Ledger.SweepHour,
		BatchSize:         cfg.Ledger.SweepBatchSize,
	}, log, loc)
	go sweep.Start(ctx)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			status, code = "database unavailable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.StaffAuth(cfg.JWT.SecretKey))
		ledgerHandler.Routes(r)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("Server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	log.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}
