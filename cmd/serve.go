package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kiliantyler/kil.dev-sub000/game"
	"github.com/kiliantyler/kil.dev-sub000/handlers"
	"github.com/kiliantyler/kil.dev-sub000/metrics"
	"github.com/kiliantyler/kil.dev-sub000/pkg/config"
	"github.com/kiliantyler/kil.dev-sub000/ratelimit"
	"github.com/kiliantyler/kil.dev-sub000/repository"
)

const (
	shutdownTimeout      = 10 * time.Second
	limiterSweepInterval = time.Minute
	nonceFallbackSize    = 10000
)

func serve(ctx context.Context, flags globalFlags) error {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", "app", appName, "version", Version, "env", cfg.Env, "addr", cfg.HTTPAddr)

	client, closeRedis, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRedis()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	retry := repository.DefaultRetryPolicy()
	prod := cfg.IsProduction()

	// Replay protection must not silently degrade to per-process state in
	// production, where several instances share one Redis.
	var nonceFallback *expirable.LRU[string, struct{}]
	if !prod {
		nonceFallback = repository.NewNonceFallback(nonceFallbackSize, 2*cfg.SubmissionMaxAge)
	}
	telemetry := repository.NewTelemetryLog(client)

	opts := game.Options{
		Sessions: repository.NewSessionStore(client, nil, repository.SessionStoreOptions{
			Retry:         retry,
			AllowFallback: !prod,
			Logger:        logger,
			Metrics:       m,
		}),
		Nonces:           repository.NewNonceStore(client, nonceFallback, retry, m),
		Telemetry:        telemetry,
		Thresholds:       cfg.Validation,
		MaxSubmissionAge: cfg.SubmissionMaxAge,
		Logger:           logger,
	}

	if cfg.MongoURI != "" {
		mc, err := repository.ConnectMongoDB(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		defer disconnectMongo(mc, logger)
		opts.Archive = repository.NewSessionArchive(mc)
	}
	svc := game.NewService(opts)

	trusted, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	hcfg := handlers.Config{
		Game:              svc,
		Leaderboard:       repository.NewLeaderboardStore(client, retry, logger),
		Limiter:           newLimiter(ctx, cfg, client, m),
		Telemetry:         telemetry,
		Metrics:           m,
		Gatherer:          reg,
		Health:            func(ctx context.Context) error { return client.Ping(ctx).Err() },
		TrustedProxies:    trusted,
		JWTSecret:         []byte(cfg.JWTSecret),
		AdminPasswordHash: []byte(cfg.AdminPasswordHash),
		Debug:             !prod,
		Logger:            logger,
	}

	if cfg.DatabaseURL != "" {
		db, err := repository.ConnectToPostgreSQL(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		archive := repository.NewScoreArchive(db)
		if err := archive.EnsureSchema(ctx); err != nil {
			return err
		}
		hcfg.Archive = archive
	}

	hub := handlers.NewHub(m)
	go hub.Run(ctx)
	hcfg.Hub = hub

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.NewRouter(handlers.New(hcfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openRedis dials REDIS_URL, or starts an embedded server when it is unset.
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, func(), error) {
	if cfg.RedisURL != "" {
		client, err := repository.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	}

	srv, client, err := repository.StartEmbeddedRedis()
	if err != nil {
		return nil, nil, err
	}
	return client, func() {
		_ = client.Close()
		srv.Close()
	}, nil
}

// newLimiter picks the submission limiter. Production shares a sliding
// window through Redis and degrades to per-process counting on errors.
func newLimiter(ctx context.Context, cfg *config.Config, client redis.Cmdable, m *metrics.Metrics) ratelimit.Limiter {
	memory := ratelimit.NewMemory(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.MaxKeys)
	go memory.Run(ctx, limiterSweepInterval)

	if !cfg.IsProduction() {
		return memory
	}
	primary := ratelimit.NewSlidingWindow(client, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	return ratelimit.NewFallback(primary, memory, m)
}

func disconnectMongo(client *mongo.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Warn("failed to disconnect from MongoDB", "error", err)
	}
}
