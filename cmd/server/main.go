package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/vnmchuo/race-predictor/config"
	"github.com/vnmchuo/race-predictor/internal/api"
	"github.com/vnmchuo/race-predictor/internal/app"
	"github.com/vnmchuo/race-predictor/internal/auth"
	"github.com/vnmchuo/race-predictor/internal/kra"
	"github.com/vnmchuo/race-predictor/internal/logging"
	"github.com/vnmchuo/race-predictor/internal/prediction"
	"github.com/vnmchuo/race-predictor/internal/seeder"
	"github.com/vnmchuo/race-predictor/internal/telemetry"
	"github.com/vnmchuo/race-predictor/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// 2. Init logger
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// 3. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(telemetry.Options{
		ServiceName:    cfg.AppName,
		ServiceVersion: cfg.AppVersion,
		Exporter:       cfg.OTELExporterType,
		Endpoint:       cfg.OTELExporterEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer()
	tracer := otel.GetTracerProvider().Tracer(cfg.AppName)

	// 4. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	logger.Info("postgres connected")

	// 5. Apply schema and seed race tracks if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		if err := seeder.Migrate(ctx, pool); err != nil {
			logger.Fatal("failed to migrate", zap.Error(err))
		}
		if err := seeder.SeedRaceTracks(ctx, pool, logger); err != nil {
			logger.Fatal("failed to seed race tracks", zap.Error(err))
		}
	}

	// 6. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to ping redis", zap.Error(err))
	}
	logger.Info("redis connected")

	// 7. Init auth and rate limiter
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), logger.Named("auth"))
	limiter := ratelimit.NewLimiter(rdb, cfg.PredictionRateLimitPerMin)

	// 8. Init prediction service
	predictor, err := app.NewPredictionClient(cfg, logger, tracer)
	if err != nil {
		logger.Fatal("failed to init prediction client", zap.Error(err))
	}
	predictions := prediction.NewService(
		predictor,
		prediction.NewPostgresStore(pool),
		prediction.NewRedisCache(rdb, prediction.DefaultCacheTTL),
		logger,
	)

	// 9. Init KRA client and sync service; results sync drops stale predictions
	kraClient, err := app.NewKRAClient(cfg, logger, tracer)
	if err != nil {
		logger.Fatal("failed to init kra client", zap.Error(err))
	}
	raceStore := kra.NewPostgresRaceStore(pool)
	syncer := kra.NewSyncService(kraClient, kra.NewPostgresSnapshotStore(pool), logger,
		kra.WithRaceStore(raceStore),
		kra.WithResultsHook(predictions.InvalidateRaces),
	)

	// 10. Init handler and router
	handler := api.NewHandler(predictions, prediction.NewContextBuilder(raceStore), syncer, limiter, tracer, logger.Named("api"),
		api.Info{Name: cfg.AppName, Version: cfg.AppVersion})
	router := api.NewRouter(handler, authMiddleware, cfg.AllowedOrigins)

	// 11. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: api.GenerateTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("race predictor starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}
