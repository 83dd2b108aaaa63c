package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nugget/alfred/internal/api"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

// runServe is the primary operating mode. It blocks until SIGINT or
// SIGTERM, or until ctx is cancelled.
//
// The shutdown sequence is:
//  1. the signal cancels ctx
//  2. the HTTP server drains in-flight requests
//  3. the cleanup scheduler and dependency watchers stop
//  4. MQTT publishes offline and the session store closes
func runServe(ctx context.Context, opts *options) error {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(opts.stdout, cfg)
	startupBanner(logger)
	logger.Info("config loaded",
		"path", cfgPath,
		"mode", cfg.Mode,
		"port", cfg.Listen.Port,
		"model", cfg.Ollama.Model,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.start(ctx); err != nil {
		return err
	}

	watchers, err := a.watchDependencies(ctx)
	if err != nil {
		return err
	}
	defer watchers.Stop()

	// Expired sessions are removed once at startup and then on schedule.
	a.cleanupSessions(ctx)
	scheduler := cron.New(cron.WithLogger(cronLogger{logger}))
	if cfg.Sessions.CleanupSchedule != "" {
		if _, err := scheduler.AddFunc(cfg.Sessions.CleanupSchedule, func() { a.cleanupSessions(ctx) }); err != nil {
			return fmt.Errorf("schedule session cleanup: %w", err)
		}
		logger.Info("session cleanup scheduled",
			"schedule", cfg.Sessions.CleanupSchedule,
			"timeout", cfg.Sessions.Timeout())
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	apiCfg := api.Config{
		Address:           cfg.Listen.Address,
		Port:              cfg.Listen.Port,
		Mode:              cfg.Mode,
		Assistant:         a.assistant,
		Store:             a.store,
		Backend:           a.backend,
		Dependencies:      watchers,
		Plugins:           a.pluginCount(),
		Metrics:           a.metrics,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		Logger:            logger,
	}
	if a.ha != nil {
		apiCfg.Devices = a.ha
		apiCfg.HomeAssistant = a.ha
	}
	server := api.NewServer(apiCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Alfred stopped")
	return nil
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

var _ cron.Logger = cronLogger{}
