package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"scadenze/internal/cache"
	"scadenze/internal/cli"
	"scadenze/internal/core"
	apphttp "scadenze/internal/http"
	applog "scadenze/internal/log"
	"scadenze/internal/metrics"
	"scadenze/internal/middleware/ratelimit"
	"scadenze/internal/schedule"
	"scadenze/internal/services"
)

const (
	occurrenceCacheSize = 1024
	occurrenceCacheTTL  = 10 * time.Minute
	cacheSweepInterval  = time.Minute
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	store := cli.InitStore(context.Background(), logger, cfg)
	defer store.Close()

	m := metrics.New()
	gen := schedule.NewGenerator(schedule.Options{})
	occCache := cache.NewLRUCache[[]core.Occurrence](occurrenceCacheSize, occurrenceCacheTTL)
	src := schedule.NewCachedGenerator(gen, occCache)
	resolver := services.NewNextDueResolver(schedule.ActiveOnly(src), cli.ResolverConfig(cfg))

	var publisher services.CompletionPublisher
	if client := cli.ConnectAMQP(logger, cfg); client != nil {
		defer client.Close()
		publisher = client
	}

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Items:       store,
		Completions: store,
		Source:      src,
		Rules:       gen,
		Resolver:    resolver,
		Loader:      services.NewCompletionLoader(store, 0),
		Completion:  services.NewCompletionService(store, store, gen, publisher, m),
		Metrics:     m,
		Logger:      logger,
		Ready:       store.Ping,
		RateLimit: ratelimit.Config{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
	})
	if err != nil {
		logger.Error("Failed to configure server", applog.FieldError, err)
		os.Exit(1)
	}

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, _, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
	})

	manager := cache.NewManager(nil)
	manager.Register(occCache)
	go manager.Run(ctx, cacheSweepInterval)

	logger.Info("Starting scadenze server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
