package main

import (
	"context"
	"os"
	"time"

	"scadenze/internal/cli"
	applog "scadenze/internal/log"
	"scadenze/internal/metrics"
	"scadenze/internal/schedule"
	"scadenze/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentScheduler)
	logger.Info("Starting recurring-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	store := cli.InitStore(context.Background(), logger, cfg)
	defer store.Close()

	// Due notices go to the broker; without it they are only logged.
	var publisher services.DuePublisher
	if client := cli.ConnectAMQP(logger, cfg); client != nil {
		defer client.Close()
		publisher = client
	}

	resolver := services.NewNextDueResolver(
		schedule.ActiveOnly(schedule.NewGenerator(schedule.Options{})),
		cli.ResolverConfig(cfg),
	)
	processor := services.NewDueProcessor(
		store,
		services.NewCompletionLoader(store, 0),
		resolver,
		publisher,
		metrics.New(),
		services.DueProcessorConfig{
			PollInterval: cfg.DueScanInterval,
			NoticeDays:   cfg.DueNoticeDays,
		},
	)

	ctx, _, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		logger.Info("Shutting down recurring-worker...")
		if err := processor.Stop(ctx); err != nil {
			logger.Error("Due processor stop failed", applog.FieldError, err)
		}
	})

	logger.Info("Due processor configured",
		"interval", cfg.DueScanInterval,
		"notice_days", cfg.DueNoticeDays,
		"backend", cfg.DataBackend)

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start due processor", applog.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}
