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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/heraldhq/herald/internal/adapter"
	"github.com/heraldhq/herald/internal/api"
	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/credentials"
	"github.com/heraldhq/herald/internal/db"
	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/lifecycle"
	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/ratelimiter"
	"github.com/heraldhq/herald/internal/repository"
	"github.com/heraldhq/herald/internal/retry"
	"github.com/heraldhq/herald/internal/service"
	"github.com/heraldhq/herald/internal/tenant"
	"github.com/heraldhq/herald/internal/worker"
)

func main() {
	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("failed to load config", zap.Error(err))
	}

	logger := newLogger(cfg)
	defer logger.Sync() //nolint:errcheck

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	msgRepo := repository.NewPgMessageRepository(pool)
	siteRepo := repository.NewPgSiteRepository(pool)

	onTransition, onInvalid := m.TransitionHooks()
	machine := lifecycle.NewMachine(msgRepo, lifecycle.Hooks{
		OnTransition: onTransition,
		OnInvalid:    onInvalid,
	}, logger)

	dispatchBus := bus.New(bus.Config{
		Topics:        cfg.BusTopics,
		DLQTopics:     cfg.BusDLQTopics,
		Partitions:    cfg.BusPartitions,
		BufferSize:    cfg.BusBufferSize,
		MaxDeliveries: cfg.BusMaxDeliveries,
	}, logger)

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := cache.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, credential cache disabled", zap.Error(err))
			cache = nil
		}
	}
	resolver := credentials.New(siteRepo, cfg.TenantDefaults, cache, cfg.CredentialCacheTTL, logger)

	limiter := ratelimiter.New(cfg.SiteRateLimit)
	policy := retry.NewPolicy(retry.Options{
		MaxAttempts:   cfg.MaxAttempts,
		BackoffBase:   cfg.BackoffBase,
		BackoffCap:    cfg.BackoffCap,
		RateLimitBase: cfg.RateLimitBackoff,
		RateLimitCap:  cfg.RateLimitCap,
	})

	svc := service.NewNotificationService(msgRepo, dispatchBus, machine, logger)
	signer := tenant.NewSessionSigner(cfg.SessionSecret)

	// ---- workers ----
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	workers := make(map[domain.Channel]*worker.Worker, len(domain.Channels))
	for _, ch := range domain.Channels {
		webhook := adapter.NewWebhook(ch, cfg.AdapterEndpoints[ch], cfg.AdapterTimeouts[ch], logger)
		workers[ch] = worker.New(ch, worker.Deps{
			Repo:     msgRepo,
			Machine:  machine,
			Resolver: resolver,
			Adapter:  adapter.NewBreaker(ch, webhook, logger),
			Limiter:  limiter,
			Policy:   policy,
			Bus:      dispatchBus,
			Metrics:  m,
			Timeout:  cfg.AdapterTimeouts[ch],
			Logger:   logger,
		})
	}

	var wg sync.WaitGroup
	workerPool := worker.NewPool(dispatchBus, workers, cfg.WorkersPerChannel, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := workerPool.Run(workerCtx); err != nil {
			logger.Error("worker pool exited with error", zap.Error(err))
		}
	}()

	retryW := worker.NewRetryWorker(msgRepo, dispatchBus, cfg.RetryTick, cfg.StalePending, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		retryW.Run(workerCtx)
	}()

	schedulerW := worker.NewSchedulerWorker(machine, dispatchBus, cfg.SchedulerTick, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		schedulerW.Run(workerCtx)
	}()

	// Depth gauges are sampled rather than updated inline so the hot publish
	// path stays free of registry writes.
	wg.Add(1)
	go func() {
		defer wg.Done()
		sampleBusDepths(workerCtx, dispatchBus, m)
	}()

	// ---- HTTP server ----
	router := api.NewRouter(api.Deps{
		Service:  svc,
		Sites:    siteRepo,
		Resolver: resolver,
		Bus:      dispatchBus,
		Pool:     pool,
		Registry: reg,
		AdminKey: cfg.AdminAPIKey,
		Signer:   signer,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests and new publishes.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	dispatchBus.Close()

	// 2. Signal workers to stop; in-flight jobs finish their current step.
	cancelWorkers()

	// 3. Wait for consumers and background loops to drain, bounded by the
	// drain timeout. Unfinished PENDING rows are recovered by the stale
	// sweep after restart.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("server stopped cleanly")
	case <-time.After(cfg.DrainTimeout):
		logger.Warn("drain timeout elapsed, exiting with jobs in flight")
	}
}

// newLogger builds the production zap logger, teeing to a size-rotated file
// when LOG_FILE is set.
func newLogger(cfg *config.Config) *zap.Logger {
	if cfg.LogFile == "" {
		logger, _ := zap.NewProduction()
		return logger
	}

	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	fileSink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    100, // MB
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	})
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapcore.InfoLevel),
		zapcore.NewCore(encoder, fileSink, zapcore.InfoLevel),
	)
	return zap.New(core)
}

func sampleBusDepths(ctx context.Context, b *bus.Bus, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for topic, depth := range b.Depths() {
				m.BusDepth.WithLabelValues(topic).Set(float64(depth))
			}
			for ch, depth := range b.DLQDepths() {
				m.DLQDepth.WithLabelValues(string(ch)).Set(float64(depth))
			}
		}
	}
}
