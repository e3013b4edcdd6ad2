package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/forms-backend/internal/antispam"
	"github.com/stemsi/forms-backend/internal/config"
	"github.com/stemsi/forms-backend/internal/database"
	"github.com/stemsi/forms-backend/internal/directory"
	"github.com/stemsi/forms-backend/internal/grading"
	"github.com/stemsi/forms-backend/internal/handler"
	"github.com/stemsi/forms-backend/internal/logger"
	"github.com/stemsi/forms-backend/internal/repository"
	"github.com/stemsi/forms-backend/internal/router"
	"github.com/stemsi/forms-backend/internal/sandbox"
	"github.com/stemsi/forms-backend/internal/service"
	"github.com/stemsi/forms-backend/internal/validator"
	"github.com/stemsi/forms-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Forms Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	formRepo := repository.NewFormRepository(pool)
	responseRepo := repository.NewResponseRepository(pool)
	adminRepo := repository.NewAdminRepository(pool)

	var violations service.ViolationStore = repository.NewViolationRepository(pool)
	if cfg.ViolationStore == config.ViolationStoreMinIO {
		mc, err := database.NewMinIOClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MinIO")
		}
		violations = repository.NewViolationObjectStore(mc, cfg.MinIOBucket)
	}

	// ─── Initialize Clients ───────────────────────────────────────────
	runner := sandbox.NewClient(cfg.SnekboxURL, cfg.SandboxTimeout, log)

	captcha := antispam.NewHCaptchaVerifier(cfg.HCaptchaURL, cfg.HCaptchaSecret, 10*time.Second)
	evaluator, err := antispam.NewEvaluator(cfg.AntispamHashKey, captcha, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid antispam configuration")
	}

	directoryClient := directory.NewClient(directory.Options{
		BotToken:            cfg.DiscordBotToken,
		MaxRateLimitRetries: cfg.MaxRateLimitRetries,
		Timeout:             cfg.DirectoryCallTimeout,
	}, log)
	notifier := directory.NewNotifier(directoryClient, cfg.FrontendURL, cfg.DiscordAPIBaseURL, cfg.DiscordGuild)

	// ─── Start Background Workers ─────────────────────────────────────
	// Jobs outlive the request that scheduled them, so they run under
	// their own context.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	dispatcher := worker.NewDispatcher(cfg.DispatchWorkers, cfg.DispatchQueueSize, 2*time.Minute, log)
	dispatcher.Start(workerCtx)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret, adminRepo)
	formService := service.NewFormService(formRepo, responseRepo, rdb, cfg.FormCacheTTL, log)
	feedService := service.NewFeedService(rdb, log)
	submissionService := service.NewSubmissionService(service.SubmissionDeps{
		Forms:      formService,
		Responses:  responseRepo,
		Violations: violations,
		Grader:     grading.NewGrader(runner, log),
		Antispam:   evaluator,
		Notifier:   notifier,
		Events:     feedService,
		Jobs:       dispatcher,
	}, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Form: handler.NewFormHandler(formService, submissionService, log),
		WS:   handler.NewWSHandler(formService, feedService, log, cfg.AllowedOrigins),
		System: handler.NewSystemHandler(map[string]handler.Pinger{
			"postgres": pool,
			"redis": handler.PingFunc(func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}),
		}, dispatcher, log),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Let queued webhooks and role grants finish (30s timeout).
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()

	if err := dispatcher.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Background jobs abandoned")
	}
	workerCancel()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
