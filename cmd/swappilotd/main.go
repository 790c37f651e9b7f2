package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"swappilot/internal/api"
	"swappilot/internal/app"
	"swappilot/internal/config"
	"swappilot/internal/observability/metrics"
	"swappilot/pkg/logger"
)

// main 是 swappilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("swappilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SWAPPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "config.yaml")
	}
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		configPath = ""
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("swappilotd")

	application, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			lg.Error("释放资源失败", slog.Any("error", err))
		}
	}()
	if err := application.EnableJobs(ctx); err != nil {
		return err
	}

	opts := []api.Option{
		api.WithJobService(application.Jobs),
		api.WithAuth(application.Auth),
		api.WithLogger(logger.Named("api")),
	}
	if application.Metrics != nil {
		opts = append(opts, api.WithMetrics(application.Metrics))
	}
	if application.History != nil {
		opts = append(opts, api.WithSwapRecorder(application.History))
	}
	server := api.NewServer(cfg.Server.Address, application.Orchestrator, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return application.Processor.Start(gctx)
	})
	g.Go(func() error {
		return server.Start(gctx)
	})
	if application.Metrics != nil && cfg.Observability.MetricsAddress != "" {
		g.Go(func() error {
			return metrics.StartServer(gctx, cfg.Observability.MetricsAddress, application.Metrics)
		})
	}

	lg.Info("swappilotd 已启动", slog.String("address", cfg.Server.Address))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	lg.Info("swappilotd 已退出")
	return nil
}
