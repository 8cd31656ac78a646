package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/staslianx/balli-sub011/config"
	"github.com/staslianx/balli-sub011/internal/api"
	"github.com/staslianx/balli-sub011/internal/auth"
	"github.com/staslianx/balli-sub011/internal/pricing"
	"github.com/staslianx/balli-sub011/internal/report"
	"github.com/staslianx/balli-sub011/internal/seeder"
	"github.com/staslianx/balli-sub011/internal/telemetry"
	"github.com/staslianx/balli-sub011/internal/tracking"
	"github.com/staslianx/balli-sub011/internal/worker"
	"github.com/staslianx/balli-sub011/pkg/ratelimit"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "costd").Logger()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.Timezone).Msg("invalid timezone")
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("costd", cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping postgres")
	}
	logger.Info().Msg("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping redis")
	}
	logger.Info().Msg("Redis connected")

	// 5. Init stores and schema
	trackingStore := tracking.NewPostgresStore(pool)
	if err := trackingStore.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure tracking schema")
	}

	authStore := auth.NewPostgresStore(pool)
	if err := authStore.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure auth schema")
	}
	authMiddleware := auth.NewMiddleware(authStore, rdb, logger)

	// 6. Init recorder and worker queue
	tracer := otel.GetTracerProvider().Tracer("costd")
	calc := pricing.NewCalculator(logger)
	recorder := tracking.NewRecorder(trackingStore, calc, logger, tracer, tracking.WithLocation(loc))

	queue := worker.NewQueue(recorder, 0, logger)
	queue.Start()

	// 7. Init reporter
	reporter := report.NewReporter(trackingStore, logger, tracer, report.WithLocation(loc))

	// 8. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.IngestRateLimitRPM)

	// 9. Seed dev API key if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedDevAPIKey(ctx, authStore, logger)
	}

	// 10. Init Chi router
	handler := api.NewHandler(queue, recorder, reporter, limiter, rdb, cfg.ReportCacheTTL, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"costd"}`))
	})

	// Protected routes
	r.Mount("/v1", handler.Routes(authMiddleware))

	// 11. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("cost service starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	logger.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}

	// Drain queued usage records before exit.
	queue.Stop()
	logger.Info().Msg("server stopped")
}
