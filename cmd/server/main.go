package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/collaborator"
	"github.com/stemsi/exstem-grader/internal/collaborator/evaluator"
	"github.com/stemsi/exstem-grader/internal/collaborator/executor"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/database"
	"github.com/stemsi/exstem-grader/internal/finalize"
	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/handler"
	"github.com/stemsi/exstem-grader/internal/logger"
	"github.com/stemsi/exstem-grader/internal/repository"
	"github.com/stemsi/exstem-grader/internal/router"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/session"
	"github.com/stemsi/exstem-grader/internal/validator"
	"github.com/stemsi/exstem-grader/internal/worker"
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
		Str("evaluator", string(cfg.EvaluatorMode)).
		Int("grading_concurrency", cfg.GradingConcurrency).
		Msg("Starting ExStem Grader")

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
	examRepo := repository.NewExamRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	cheatLogRepo := repository.NewCheatingLogRepository(pool)
	feedbackRepo := repository.NewFeedbackRepository(pool)

	// ─── Grading Collaborators ─────────────────────────────────────────
	httpClient := &http.Client{Timeout: cfg.CollaboratorTimeout}
	retry := collaborator.DefaultRetryConfig(cfg.CollaboratorAttempts)

	exec := executor.New(cfg.ExecutorURL, httpClient, retry)
	eval := buildEvaluator(cfg, httpClient, retry, log)
	pipeline := grading.NewPipeline(exec, eval, cfg.GradingConcurrency, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret)
	examService := service.NewExamService(examRepo, service.NewRedisPaperCache(rdb), log)
	finalizer := finalize.NewFinalizer(submissionRepo, cheatLogRepo, feedbackRepo, pipeline, log)
	regradeQueue := worker.NewRegradeQueue(rdb)
	feedbackService := service.NewFeedbackService(feedbackRepo, submissionRepo, cheatLogRepo, examService, finalizer, regradeQueue, log)

	registry := session.NewRegistry(session.NewRedisLocker(rdb, cfg.SessionLockTTL))
	sessionStore := session.NewRedisStore(rdb, cfg.SessionLockTTL)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		StudentPortal: handler.NewStudentPortalHandler(examService, feedbackService, log),
		Admin:         handler.NewAdminHandler(feedbackService, examService, log),
		WS:            handler.NewWSHandler(examService, feedbackService, sessionStore, registry, finalizer, log, cfg.AllowedOrigins),
		System: handler.NewSystemHandler(registry, log,
			handler.DependencyCheck{Name: "postgres", Ping: database.PostgresPinger(pool)},
			handler.DependencyCheck{Name: "redis", Ping: database.RedisPinger(rdb)},
		),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	regradeWorker := worker.NewRegradeWorker(rdb, feedbackService, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		regradeWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Int("live_sessions", registry.Len()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests. Hijacked WebSocket connections are
	// not tracked by Shutdown; their sessions end when the process exits and
	// the Redis locks expire after SESSION_LOCK_TTL_MINUTES.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the regrade worker. A job in flight finishes; queued jobs stay in Redis.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// buildEvaluator picks the evaluation collaborator named by EVALUATOR_MODE.
func buildEvaluator(cfg *config.Config, httpClient *http.Client, retry collaborator.RetryConfig, log zerolog.Logger) grading.Evaluator {
	switch cfg.EvaluatorMode {
	case config.EvaluatorModeOpenAI:
		if cfg.OpenAIAPIKey == "" {
			log.Fatal().Msg("EVALUATOR_MODE=openai requires OPENAI_API_KEY")
		}
		return evaluator.NewOpenAIEvaluator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, httpClient, retry)
	case config.EvaluatorModeHTTP:
		return evaluator.NewHTTPEvaluator(cfg.EvaluatorURL, httpClient, retry)
	default:
		log.Fatal().Str("mode", string(cfg.EvaluatorMode)).Msg("Unknown EVALUATOR_MODE")
		return nil
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
