package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"roofscale-backend/internal/config"
	"roofscale-backend/internal/database"
	"roofscale-backend/internal/handlers"
	"roofscale-backend/internal/logging"
	"roofscale-backend/internal/middleware"
	"roofscale-backend/internal/repository"
	"roofscale-backend/internal/router"
	"roofscale-backend/internal/services"
	"roofscale-backend/internal/session"
	"roofscale-backend/internal/web"
	"roofscale-backend/internal/websocket"
	"roofscale-backend/internal/worker"
)

const (
	auditWorkers   = 2
	auditQueueSize = 256
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logger, err := logging.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting RoofScale backend", zap.String("env", cfg.Env), zap.String("model", cfg.GeminiModel))

	// ──── Step 2: Optional Audit Database ────
	var auditStore worker.AuditStore
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := database.RunMigrations(ctx, pool, database.Migrations(), logger); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		auditStore = repository.NewAnalysisLogRepo(pool)
		logger.Info("PostgreSQL connected, audit trail enabled")
	} else {
		logger.Info("DATABASE_URL not set, audit records are logged only")
	}

	// ──── Step 3: Optional Redis Pub/Sub ────
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer client.Close()
		redisClient = client
		logger.Info("Redis connected, live updates fan out through pub/sub")
	}

	// ──── Step 4: Initialize Gemini Client ────
	gemini, err := services.NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiConcurrentReqs, logger)
	if err != nil {
		return err
	}
	logger.Info("Gemini client initialized", zap.Int("concurrent_requests", cfg.GeminiConcurrentReqs))

	// ──── Step 5: Audit Worker Pool ────
	auditPool := worker.NewPool(auditStore, auditWorkers, auditQueueSize, logger)
	auditPool.Start()

	// ──── Step 6: Sessions, Hub & Rendering ────
	sessionAuth := middleware.NewSessionAuth(cfg.SessionSecret, cfg.IsProduction())
	hub := websocket.NewHub(redisClient, sessionAuth, cfg.FrontendURL, logger)

	renderer, err := handlers.NewRenderer(logger)
	if err != nil {
		return err
	}

	sessions := session.NewManager(session.Config{
		Analyzer:          gemini,
		Publisher:         handlers.NewLivePublisher(hub, renderer, logger),
		Auditor:           auditPool,
		Logger:            logger,
		FirstStatusDelay:  cfg.StatusFirstDelay,
		SecondStatusDelay: cfg.StatusSecondDelay,
	}, cfg.SessionIdleTTL)
	sessions.Start()

	submitLimiter := middleware.NewRateLimiter(cfg.AnalysisRatePerMinute, cfg.AnalysisRateBurst)
	defer submitLimiter.Stop()

	// ──── Step 7: Start HTTP Server ────
	handler := router.New(router.Deps{
		SessionAuth:     sessionAuth,
		Pages:           handlers.NewPages(renderer, sessions, sessionAuth, logger),
		SessionHandler:  handlers.NewSessionHandler(sessions, sessionAuth, renderer, logger),
		AnalysisHandler: handlers.NewAnalysisHandler(gemini, logger),
		Hub:             hub,
		Static:          web.Static(),
		SubmitLimiter:   submitLimiter,
		FrontendURL:     cfg.FrontendURL,
		Logger:          logger,
	})

	// No WriteTimeout: the stateless analysis endpoint waits on the provider
	// for as long as it takes.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("RoofScale backend ready", zap.String("addr", "http://localhost:"+cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)

		sessions.Stop()
		hub.Close()
		auditPool.Stop()
		return err
	})

	return g.Wait()
}
