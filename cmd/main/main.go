package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"kimchi-observer/src/config"
	exchangerate "kimchi-observer/src/exchange_rate"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/server"
)

func main() {
	// 1. Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	// 2. Load config
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 3. Setup Logger
	appLogger := logger.NewLogger(conf.MConfig, conf.Name)
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Setup Components
	var db interfaces.IDatabase
	if d, err := setupDatabase(conf.MConfig, appLogger); err != nil {
		appLogger.Warning("Running without persistence: %v", err)
	} else {
		db = d
	}

	networkManager := setupNetwork(conf.MConfig)
	cache := setupCache(conf.MConfig, appLogger)
	marketStore := setupStore(conf.MConfig, cache)
	rates := exchangerate.NewProviderFromConfig(conf.ExchangeRate, networkManager, db, logger.NewLogger(conf.MConfig, "ExchangeRate"))

	supervisor, err := setupFeeds(conf, marketStore, networkManager)
	if err != nil {
		appLogger.Critical("Failed to set up feeds: %v", err)
	}

	engine, closers := setupEngine(conf, marketStore, rates, db, cache, appLogger)
	monitor := setupHealth(conf, supervisor, marketStore, rates, engine, db, cache)

	// 5. Start background workers
	var wg sync.WaitGroup
	marketStore.Start(ctx, &wg)
	rates.Start(ctx, &wg)
	if err := supervisor.Start(ctx); err != nil {
		appLogger.Critical("Failed to start feeds: %v", err)
	}
	engine.Start(ctx, &wg)
	if db != nil {
		runRetention(ctx, &wg, db.CleanupOldData, appLogger)
	}

	// 6. Start Servers
	deps := server.Deps{
		Market:   marketStore,
		Premiums: engine,
		Rates:    rates,
		Feeds:    supervisor,
		Health:   monitor,
		DB:       db,
	}
	apiServer := startServers(ctx, &wg, conf, deps, appLogger)

	appLogger.Info("%s running with %d feeds", conf.Name, len(supervisor.ListFeeds()))
	<-ctx.Done()

	// 7. Graceful shutdown
	appLogger.Info("Shutting down...")
	grace := time.Duration(conf.ShutdownGraceSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		appLogger.Warning("HTTP shutdown: %v", err)
	}
	if !supervisor.Stop(grace) {
		appLogger.Warning("Some feeds did not stop in time")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		appLogger.Warning("Workers still running after %s", grace)
	}

	for _, closeFn := range closers {
		closeFn(shutdownCtx)
	}
	if cache != nil {
		cache.Close()
	}
	if db != nil {
		db.Close()
	}
	appLogger.Info("Shutdown complete.")
}
