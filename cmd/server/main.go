// Package main is the entry point for the TenderHQ core API server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/tenderhq/core/internal/config"
	"github.com/tenderhq/core/internal/database"
	"github.com/tenderhq/core/internal/handler"
	"github.com/tenderhq/core/internal/middleware"
	"github.com/tenderhq/core/internal/pkg/response"
	"github.com/tenderhq/core/internal/pkg/secrets"
	"github.com/tenderhq/core/internal/pkg/timing"
	"github.com/tenderhq/core/internal/repository"
	"github.com/tenderhq/core/internal/service"
)

func main() {
	// Setup structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting TenderHQ core API",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
	)

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Run migrations
	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Connect to Redis
	redis, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	// Signing keys for visitor tokens
	signer, err := secrets.NewSigner(cfg.Auth.HMACKeys, cfg.Auth.HMACActiveVersion)
	if err != nil {
		log.Fatalf("Failed to initialize token signer: %v", err)
	}

	// Repositories share one pool; services open transactions through the store
	store := repository.NewStore(db.Pool())
	userRepo := repository.NewUserRepository(db.Pool())
	sessionRepo := repository.NewSessionRepository(db.Pool())
	inviteRepo := repository.NewInviteRepository(db.Pool())
	creditRepo := repository.NewCreditRepository(db.Pool())
	approvalRepo := repository.NewApprovalRepository(db.Pool())
	reputationRepo := repository.NewReputationRepository(db.Pool())

	equalizer := timing.NewEqualizer(cfg.Auth.TimingFloor)

	inviteService := service.NewInviteService(inviteRepo, logger)
	authService := service.NewAuthService(
		store, userRepo, sessionRepo, inviteService,
		signer, equalizer,
		cfg.Auth.SessionTTL, cfg.Auth.VisitorTTL,
		logger,
	)
	ledgerService := service.NewLedgerService(store, creditRepo, logger)
	approvalService := service.NewApprovalService(store, approvalRepo, creditRepo, ledgerService, cfg.Approvals.SweepBatch, logger)
	reputationService := service.NewReputationService(store, userRepo, reputationRepo, logger)

	// Background jobs: pending-request expiry and session cleanup
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Approvals.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := approvalService.ExpireOverdue(ctx); err != nil {
			logger.Error("approval expiry sweep failed", "error", err)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule approval sweep: %v", err)
	}
	if _, err := scheduler.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := authService.PurgeExpiredSessions(ctx); err != nil {
			logger.Error("session purge failed", "error", err)
		} else if n > 0 {
			logger.Info("purged expired sessions", "count", n)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule session purge: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	limiter := middleware.NewRateLimiter(redis, cfg.RateLimit.Window)
	requireAuth := middleware.Auth(authService)

	authHandler := handler.NewAuthHandler(
		authService, limiter,
		cfg.Auth.SessionTTL, cfg.Auth.VisitorTTL,
		cfg.Server.Production(),
		cfg.RateLimit.LoginPerWindow, cfg.RateLimit.RegisterPerWindow,
	)
	inviteHandler := handler.NewInviteHandler(inviteService)
	creditHandler := handler.NewCreditHandler(ledgerService)
	approvalHandler := handler.NewApprovalHandler(approvalService)
	communityHandler := handler.NewCommunityHandler(reputationService)

	// Setup router
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	// Health check endpoints (no auth required)
	r.Get("/health", healthHandler())
	r.Get("/ready", readyHandler(db, redis))
	r.Handle("/metrics", promhttp.Handler())

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(limiter.Limit("default", cfg.RateLimit.DefaultPerWindow))
		r.Use(middleware.OptionalAuth(authService))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			response.OK(w, map[string]string{
				"name":    "TenderHQ Core API",
				"version": "1.0.0",
			})
		})

		r.Mount("/auth", authHandler.Routes(requireAuth))
		r.Mount("/invites", inviteHandler.Routes(requireAuth))

		// Anonymous endpoints (register, login, invite preview) cannot carry
		// a CSRF cookie yet, so the double-submit check rides with the
		// session requirement.
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(middleware.CSRF)
			r.Mount("/credits", creditHandler.Routes())
			r.Mount("/approvals", approvalHandler.Routes())
			r.Mount("/community", communityHandler.Routes())
		})
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down server", slog.String("signal", sig.String()))

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	logger.Info("Server stopped gracefully")
}

// healthHandler returns a liveness check that succeeds while the process is up.
func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// readyHandler returns a readiness check that verifies database and Redis
// connections.
func readyHandler(db *database.Postgres, redis *database.Redis) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"database"}`))
			return
		}

		if err := redis.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"redis"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","database":"connected","redis":"connected"}`))
	}
}
