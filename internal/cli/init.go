// Package cli provides common CLI initialization utilities shared by
// cmd/scadenze, cmd/scadenze-worker, cmd/recurring-worker and cmd/scadenzectl.
package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"scadenze/internal/amqp"
	"scadenze/internal/backend"
	"scadenze/internal/config"
	applog "scadenze/internal/log"
	"scadenze/internal/services"
)

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(component string) *applog.Logger {
	cfg := applog.DefaultConfig()
	var err error
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		cfg.Level, err = applog.ParseLevel(raw)
	}
	cfg.Component = component
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = format
	}
	logger := applog.New(cfg)
	applog.SetDefault(logger)
	if err != nil {
		logger.Warn("Falling back to info level", applog.FieldError, err)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitStore creates the configured backend or exits the process.
func InitStore(ctx context.Context, logger *applog.Logger, cfg *config.Config) backend.Backend {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	store, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	return store
}

// ResolverConfig maps the next-due settings.
func ResolverConfig(cfg *config.Config) services.ResolverConfig {
	return services.ResolverConfig{
		SearchDepth:     cfg.SearchDepth,
		LookbackMonths:  cfg.LookbackMonths,
		LookaheadMonths: cfg.LookaheadMonths,
		CarryOverdue:    cfg.CarryOverdue,
	}
}

// AMQPConfig maps the broker settings.
func AMQPConfig(cfg *config.Config) amqp.Config {
	return amqp.Config{
		URL:             cfg.AMQPURL,
		Exchange:        cfg.AMQPExchange,
		DueQueue:        cfg.AMQPDueQueue,
		PostedQueue:     cfg.AMQPPostedQueue,
		CompletionQueue: cfg.AMQPCompletionQueue,
	}
}

// ConnectAMQP returns a client, or nil with a warning when AMQP is disabled
// or unreachable. Producers run without it.
func ConnectAMQP(logger *applog.Logger, cfg *config.Config) *amqp.Client {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled - no messages will be published")
		return nil
	}
	// The client tags its own records with the amqp component.
	client, err := amqp.NewClient(AMQPConfig(cfg), nil)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing without messaging", applog.FieldError, err)
		return nil
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange)
	return client
}

// GracefulShutdown cancels the returned context on SIGINT/SIGTERM or when
// stop is called, then runs cleanup bounded by timeout. done is closed once
// cleanup returns. stop may be called any number of times, from any
// goroutine; a component that can no longer do its job calls it so the
// process exits and its supervisor restarts it.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (ctx context.Context, stop func(reason string), done <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	stopCh := make(chan string, 1)
	var once sync.Once
	stop = func(reason string) {
		once.Do(func() { stopCh <- reason })
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String(), applog.FieldOperation, applog.OpShutdown)
		case reason := <-stopCh:
			logger.Warn("Shutdown requested", "reason", reason, applog.FieldOperation, applog.OpShutdown)
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(finished)
	}()

	return ctx, stop, finished
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
