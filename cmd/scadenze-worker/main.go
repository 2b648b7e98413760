package main

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"scadenze/internal/amqp"
	"scadenze/internal/cli"
	"scadenze/internal/core"
	applog "scadenze/internal/log"
	"scadenze/internal/metrics"
	"scadenze/internal/ports"
	"scadenze/internal/schedule"
	"scadenze/internal/services"
	gsheet "scadenze/internal/sheets/google"
	memsheet "scadenze/internal/sheets/memory"
	"scadenze/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting scadenze-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	store := cli.InitStore(context.Background(), logger, cfg)
	defer store.Close()

	// Export target: Google Sheets when configured, otherwise in memory so
	// completions are still applied.
	var exporter ports.ScheduleExporter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleScheduleSheet)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
			os.Exit(1)
		}
		exporter = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		exporter = memsheet.New()
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the worker")
		os.Exit(1)
	}
	amqpClient, err := amqp.NewClient(cli.AMQPConfig(cfg), nil)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	gen := schedule.NewGenerator(schedule.Options{})
	resolver := services.NewNextDueResolver(schedule.ActiveOnly(gen), cli.ResolverConfig(cfg))
	service := services.NewCompletionService(store, store, gen, amqpClient, metrics.New())
	scheduleWorker := worker.NewScheduleWorker(store, store, resolver, gen, exporter, service)

	ctx, stop, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	var consumerFailed atomic.Bool

	// Catch up on completions applied while the worker was down.
	logger.Info("Performing startup export...", applog.FieldOperation, applog.OpStartup)
	if err := scheduleWorker.StartupExport(ctx, core.DateOf(time.Now())); err != nil {
		logger.Error("Failed startup export", applog.FieldError, err)
	}

	// A stopped consumer shuts the worker down with a non-zero exit.
	consume := func(name string, run func(context.Context) error) {
		go func() {
			err := run(ctx)
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = errors.New("consumer stopped")
			}
			logger.Error("Message consumption failed", applog.FieldQueue, name, applog.FieldError, err)
			consumerFailed.Store(true)
			stop("consumer for " + name + " stopped")
		}()
	}
	consume(cfg.AMQPPostedQueue, func(ctx context.Context) error {
		return amqpClient.ConsumeOccurrencePosted(ctx, scheduleWorker.HandlePostedMessage)
	})
	consume(cfg.AMQPCompletionQueue, func(ctx context.Context) error {
		return amqpClient.ConsumeOccurrenceCompletion(ctx, scheduleWorker.HandleCompletionMessage)
	})

	// Periodic re-export of the current month for messages lost in transit.
	go func() {
		ticker := time.NewTicker(cfg.DueScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if err := scheduleWorker.ExportMonth(ctx, core.MonthOf(core.DateOf(now))); err != nil {
					logger.Error("Periodic export failed", applog.FieldError, err)
				}
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
	if consumerFailed.Load() {
		logger.Error("Worker exiting after consumer failure")
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
