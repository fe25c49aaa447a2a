// Command runbookd serves incident runbooks and operational knowledge
// federated from configured documentation sources.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runbookops/runbookd/adapter"
	"github.com/runbookops/runbookd/cache"
	"github.com/runbookops/runbookd/core"
	"github.com/runbookops/runbookd/health"
	"github.com/runbookops/runbookd/query"
	"github.com/runbookops/runbookd/registry"
	"github.com/runbookops/runbookd/server"
	"github.com/runbookops/runbookd/telemetry"
	"github.com/runbookops/runbookd/tools"
)

const version = "1.0.0"

const (
	exitClean   = 0
	exitStartup = 1
	exitRuntime = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	logger := core.NewProductionLogger("runbookd", "info")

	cfg, err := core.LoadConfig(*configPath, logger)
	if err != nil {
		logger.Error("Failed to load configuration", map[string]interface{}{
			"operation": "startup",
			"path":      *configPath,
			"error":     err.Error(),
		})
		return exitStartup
	}
	logger = core.NewProductionLogger("runbookd", cfg.Server.LogLevel)

	provider, err := telemetry.NewProvider("runbookd", version, nil)
	if err != nil {
		logger.Error("Failed to initialize telemetry", map[string]interface{}{
			"operation": "startup",
			"error":     err.Error(),
		})
		return exitStartup
	}
	recorder := telemetry.NewRecorder()

	hc, err := buildCache(cfg, logger)
	if err != nil {
		logger.Error("Failed to build cache", map[string]interface{}{
			"operation": "startup",
			"error":     err.Error(),
		})
		return exitStartup
	}

	ctx := context.Background()

	reg := registry.New(registry.Options{Logger: logger})
	registerSources(ctx, reg, cfg, logger)

	processor := query.NewProcessor(cfg.Query, logger)

	tl := tools.New(tools.Options{
		Registry:   reg,
		Cache:      hc,
		Processor:  processor,
		Escalation: cfg.Escalation,
		Logger:     logger,
		Metrics:    recorder,
	})

	warmup(ctx, reg, hc, tl, logger)

	poller := health.New(health.Options{
		Registry: reg,
		Cache:    hc,
		Interval: cfg.Server.HealthInterval(),
		Logger:   logger,
	})
	poller.Start(ctx)

	srv := server.New(server.Options{
		Config:   cfg.Server,
		Tools:    tl,
		Poller:   poller,
		Cache:    hc,
		Recorder: recorder,
		Logger:   logger,
	})

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	code := exitClean
	for running := true; running; {
		select {
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				reloadSources(ctx, reg, *configPath, logger)
				continue
			}
			logger.Info("Shutdown signal received", map[string]interface{}{
				"operation": "shutdown",
				"signal":    sig.String(),
			})
			running = false
		case err := <-serverErr:
			if err != nil {
				logger.Error("HTTP server failed", map[string]interface{}{
					"operation": "shutdown",
					"error":     err.Error(),
				})
				code = exitRuntime
			}
			running = false
		}
	}

	// Teardown mirrors construction in reverse.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown incomplete", map[string]interface{}{
			"operation": "shutdown",
			"error":     err.Error(),
		})
	}
	poller.Stop()
	processor.Stop()
	reg.Close(shutdownCtx)
	if hc != nil {
		hc.Stop()
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown incomplete", map[string]interface{}{
			"operation": "shutdown",
			"error":     err.Error(),
		})
	}

	logger.Info("Shutdown complete", map[string]interface{}{
		"operation": "shutdown",
		"exit_code": code,
	})
	return code
}

// buildCache assembles the configured cache tiers. A disabled cache
// returns nil and the tool layer runs uncached.
func buildCache(cfg *core.Config, logger core.Logger) (*cache.HybridCache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}

	opts := cache.Options{
		Strategy: cfg.Cache.Strategy,
		Policies: cfg.Cache.ContentTypes,
		Logger:   logger,
	}
	if cfg.Cache.Strategy != core.CacheStrategyRedisOnly {
		opts.Fast = cache.NewMemoryTier(cfg.Cache.Memory.MaxKeys)
	}
	if cfg.Cache.Strategy != core.CacheStrategyMemoryOnly {
		slow, err := cache.NewRedisTier(cache.RedisTierOptions{
			URL:       cfg.Cache.Redis.URL,
			KeyPrefix: cfg.Cache.Redis.KeyPrefix,
			PoolSize:  cfg.Cache.Redis.PoolSize,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Slow = slow
	}
	return cache.New(opts)
}

// registerSources builds and registers an adapter per enabled source.
// A single broken source degrades rather than aborting startup.
func registerSources(ctx context.Context, reg *registry.Registry, cfg *core.Config, logger core.Logger) {
	for _, sc := range cfg.EnabledSources() {
		a, err := adapter.New(sc, adapter.Deps{Logger: logger})
		if err != nil {
			logger.Error("Skipping source with invalid configuration", map[string]interface{}{
				"operation": "startup",
				"source":    sc.Name,
				"error":     err.Error(),
			})
			continue
		}
		if err := reg.Register(ctx, sc, a); err != nil {
			logger.Error("Failed to register source", map[string]interface{}{
				"operation": "startup",
				"source":    sc.Name,
				"error":     err.Error(),
			})
		}
	}
}

// warmup primes adapter indexes and preloads the content types flagged
// for warmup so the first requests hit a warm cache.
func warmup(ctx context.Context, reg *registry.Registry, hc *cache.HybridCache, tl *tools.Tools, logger core.Logger) {
	start := time.Now()
	reg.RefreshAll(ctx, true)
	if hc == nil {
		return
	}

	warmRunbooks, warmTrees := false, false
	for _, ct := range hc.WarmupTags() {
		switch ct {
		case core.ContentTypeRunbooks:
			warmRunbooks = true
		case core.ContentTypeDecisionTrees:
			warmTrees = true
		}
	}
	if !warmRunbooks && !warmTrees {
		return
	}

	preloaded := 0
	for _, rb := range reg.AllRunbooks() {
		if warmTrees && rb.DecisionTree != nil {
			if _, err := tl.GetDecisionTree(ctx, tools.DecisionTreeInput{RunbookID: rb.ID}); err == nil {
				preloaded++
			}
		}
	}
	if warmRunbooks {
		if _, err := tl.ListRunbooks(ctx, tools.RunbookListInput{}); err == nil {
			preloaded++
		}
	}

	logger.Info("Cache warmup complete", map[string]interface{}{
		"operation":   "warmup",
		"preloaded":   preloaded,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// reloadSources re-reads the configuration and swaps registered
// adapters for every enabled source in the new file.
func reloadSources(ctx context.Context, reg *registry.Registry, path string, logger core.Logger) {
	logger.Info("Reloading configuration", map[string]interface{}{
		"operation": "reload",
		"path":      path,
	})

	cfg, err := core.LoadConfig(path, logger)
	if err != nil {
		logger.Error("Reload aborted, configuration invalid", map[string]interface{}{
			"operation": "reload",
			"error":     err.Error(),
		})
		return
	}

	for _, sc := range cfg.EnabledSources() {
		a, err := adapter.New(sc, adapter.Deps{Logger: logger})
		if err != nil {
			logger.Error("Skipping source on reload", map[string]interface{}{
				"operation": "reload",
				"source":    sc.Name,
				"error":     err.Error(),
			})
			continue
		}
		if err := reg.Unregister(ctx, sc.Name); err != nil && !core.IsNotFound(err) {
			logger.Warn("Could not unregister old source", map[string]interface{}{
				"operation": "reload",
				"source":    sc.Name,
				"error":     err.Error(),
			})
		}
		if err := reg.Register(ctx, sc, a); err != nil {
			logger.Error("Failed to re-register source", map[string]interface{}{
				"operation": "reload",
				"source":    sc.Name,
				"error":     err.Error(),
			})
		}
	}
	reg.RefreshAll(ctx, true)
	logger.Info("Reload complete", map[string]interface{}{"operation": "reload"})
}
