package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samhotchkiss/openclaw-hub/internal/api"
	"github.com/samhotchkiss/openclaw-hub/internal/approval"
	"github.com/samhotchkiss/openclaw-hub/internal/config"
	"github.com/samhotchkiss/openclaw-hub/internal/integration"
	"github.com/samhotchkiss/openclaw-hub/internal/logging"
	"github.com/samhotchkiss/openclaw-hub/internal/metrics"
	"github.com/samhotchkiss/openclaw-hub/internal/plugins/dingtalk"
	"github.com/samhotchkiss/openclaw-hub/internal/ratelimit"
	"github.com/samhotchkiss/openclaw-hub/internal/scheduler"
	"github.com/samhotchkiss/openclaw-hub/internal/store"
	"github.com/samhotchkiss/openclaw-hub/internal/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	migrationsDir   = "migrations"
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var recorder *metrics.Recorder
	if cfg.MetricsEnabled {
		recorder = metrics.New()
	}

	limiter, err := buildLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = limiter.Close() }()

	approvals, db, err := buildApprovalStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	opts := integration.OptionsFromConfig(cfg)
	opts.Logger = logger
	opts.Metrics = recorder
	opts.Limiter = limiter
	opts.ApprovalStore = approvals

	platform, err := integration.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform: %w", err)
	}
	defer platform.Close()

	created, err := platform.Admin.EnsureBootstrapAdmin(cfg.Admin.BootstrapUsername, cfg.Admin.BootstrapPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		logger.Info("created bootstrap admin", zap.String("username", cfg.Admin.BootstrapUsername))
	}

	if cfg.DingTalk.Enabled() {
		plugin, err := dingtalk.New(dingtalk.Options{
			AppSecret:     cfg.DingTalk.AppSecret,
			CallbackToken: cfg.DingTalk.CallbackToken,
			RobotWebhook:  cfg.DingTalk.RobotWebhook,
			RobotSecret:   cfg.DingTalk.RobotSecret,
		})
		if err != nil {
			return fmt.Errorf("dingtalk: %w", err)
		}
		if err := platform.RegisterPlugin(plugin); err != nil {
			return fmt.Errorf("dingtalk: %w", err)
		}
		logger.Info("dingtalk channel enabled")
	}

	hub := ws.NewHub(logger.Named("ws"))
	platform.Approvals.Subscribe(ws.ApprovalListener(hub))
	platform.Channels.Subscribe(ws.ChannelListener(hub))

	router := api.NewRouter(api.RouterOptions{
		Platform:          platform,
		Hub:               hub,
		Metrics:           recorder,
		AllowedOrigins:    cfg.AllowedOrigins,
		OnboardConfigPath: cfg.ConfigPath,
		Logger:            logger.Named("api"),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper := scheduler.NewSweeper(platform.Approvals, platform.Admin, scheduler.SweeperConfig{
		Interval: cfg.Approvals.SweepInterval,
	})
	sweeper.Logf = logging.Logf(logger.Named("sweeper"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})
	g.Go(func() error { return platform.RunChannels(gctx) })
	g.Go(func() error {
		logger.Info("openclaw hub listening", zap.String("addr", server.Addr), zap.String("env", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildLimiter prefers Redis when REDIS_URL is set so limits hold across
// replicas. A non-positive per-sender limit disables throttling.
func buildLimiter(ctx context.Context, cfg config.Config, logger *zap.Logger) (ratelimit.Limiter, error) {
	if cfg.RateLimit.PerSender <= 0 {
		return ratelimit.Unlimited{}, nil
	}
	if cfg.RateLimit.RedisURL != "" {
		limiter, err := ratelimit.NewRedisLimiter(ctx, cfg.RateLimit.RedisURL, cfg.RateLimit.PerSender, cfg.RateLimit.Window, logger.Named("ratelimit"))
		if err != nil {
			return nil, fmt.Errorf("redis limiter: %w", err)
		}
		return limiter, nil
	}
	return ratelimit.NewMemoryLimiter(cfg.RateLimit.PerSender, cfg.RateLimit.Window), nil
}

// buildApprovalStore uses Postgres when DATABASE_URL is set and falls back to
// one JSON file per request under the data dir.
func buildApprovalStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (approval.Store, *sql.DB, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set, persisting approvals to disk", zap.String("dir", cfg.Approvals.Dir))
		return approval.NewFileStore(cfg.Approvals.Dir), nil, nil
	}
	if err := store.Migrate(cfg.DatabaseURL, migrationsDir); err != nil {
		return nil, nil, err
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store.NewApprovalStore(db), db, nil
}
