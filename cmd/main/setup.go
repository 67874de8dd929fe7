package main

import (
	"context"
	"time"

	"kimchi-observer/src/alert"
	"kimchi-observer/src/analysis"
	"kimchi-observer/src/config"
	datasource "kimchi-observer/src/data_source"
	exchangerate "kimchi-observer/src/exchange_rate"
	"kimchi-observer/src/health"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
	"kimchi-observer/src/network"
	"kimchi-observer/src/publisher"
	"kimchi-observer/src/storage"
	"kimchi-observer/src/store"
)

// -----------------------------------------------------------------------------

// setupDatabase initializes the database connection based on config
func setupDatabase(config *models.MConfig, appLogger *logger.Logger) (interfaces.IDatabase, error) {
	var db interfaces.IDatabase
	var err error

	switch config.Storage.DBType {
	case "postgres":
		db, err = storage.NewPostgresDB(config, logger.NewLogger(config, "PostgresDB"))
	default:
		db, err = storage.NewAsyncSQLiteDB(config, logger.NewLogger(config, "SQLiteDB"))
	}

	if err != nil {
		appLogger.Error("Failed to init db: %v", err)
		return nil, err
	}
	if err := db.Initialize(); err != nil {
		appLogger.Error("Failed to migrate db: %v", err)
		db.Close()
		return nil, err
	}
	return db, nil
}

// -----------------------------------------------------------------------------

// setupNetwork initializes the network manager
func setupNetwork(config *models.MConfig) interfaces.INetworkManager {
	return network.NewAsyncNetworkManager(config, logger.NewLogger(config, "NetworkManager"))
}

// -----------------------------------------------------------------------------

// setupCache connects Redis when enabled. An unreachable Redis is logged and
// skipped so the service keeps running on memory alone.
func setupCache(config *models.MConfig, appLogger *logger.Logger) *storage.RedisCache {
	if !config.Redis.Enabled {
		return nil
	}
	cache := storage.NewRedisCache(config.Redis, logger.NewLogger(config, "RedisCache"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		appLogger.Warning("Redis at %s unreachable, mirror disabled: %v", config.Redis.Addr, err)
		cache.Close()
		return nil
	}
	appLogger.Info("Redis mirror enabled at %s", config.Redis.Addr)
	return cache
}

// -----------------------------------------------------------------------------

// setupStore builds the shared market store, mirrored to Redis when present.
func setupStore(config *models.MConfig, cache *storage.RedisCache) *store.MarketStore {
	var mirror interfaces.ICacheMirror
	if cache != nil {
		mirror = cache
	}
	return store.NewMarketStore(config.Store, mirror, logger.NewLogger(config, "MarketStore"))
}

// -----------------------------------------------------------------------------

// setupFeeds registers one supervised feed per enabled exchange.
func setupFeeds(conf *config.Config, marketStore *store.MarketStore, nm interfaces.INetworkManager) (*datasource.FeedSupervisor, error) {
	feedLogger := logger.NewLogger(conf.MConfig, "Feeds")
	feeds, err := datasource.NewFeeds(conf.Exchanges, nm, feedLogger)
	if err != nil {
		return nil, err
	}

	supervisor := datasource.NewFeedSupervisor(marketStore, conf.Groups(), logger.NewLogger(conf.MConfig, "FeedSupervisor"))
	for _, f := range feeds {
		if err := supervisor.AddFeed(f); err != nil {
			return nil, err
		}
	}
	return supervisor, nil
}

// -----------------------------------------------------------------------------

// setupEngine builds the premium engine and attaches every configured sink.
// The returned closers release sink resources on shutdown.
func setupEngine(
	conf *config.Config,
	marketStore *store.MarketStore,
	rates interfaces.IRateProvider,
	db interfaces.IDatabase,
	cache *storage.RedisCache,
	appLogger *logger.Logger,
) (*analysis.PremiumEngine, []func(context.Context)) {
	engine := analysis.NewPremiumEngine(conf.Premium, conf.Groups(), marketStore, rates, logger.NewLogger(conf.MConfig, "PremiumEngine"))
	var closers []func(context.Context)

	if db != nil && (conf.Premium.Mode == models.PremiumModeBatch || conf.Premium.Persist) {
		var snapshots storage.TickerSnapshotSource
		if conf.Premium.Mode == models.PremiumModeBatch {
			snapshots = marketStore
		}
		engine.AddSink(storage.NewDatabaseSink(db, snapshots))
	}

	if cache != nil {
		engine.AddSink(cache)
	}

	if conf.Kafka.Enabled && len(conf.Kafka.Brokers) > 0 {
		kp := publisher.NewKafkaPublisher(conf.Kafka, publisher.NewKafkaWriter(conf.Kafka), logger.NewLogger(conf.MConfig, "Kafka"))
		engine.AddSink(kp)
		closers = append(closers, func(context.Context) {
			if err := kp.Close(); err != nil {
				appLogger.Warning("Kafka writer close: %v", err)
			}
		})
		appLogger.Info("Kafka sink enabled on topic %s", conf.Kafka.Topic)
	}

	if conf.Alert.Enabled && conf.Alert.WebhookURL != "" {
		sender, err := alert.NewWebhookSender(conf.Alert.WebhookURL)
		if err != nil {
			appLogger.Warning("Discord alerts disabled: %v", err)
		} else {
			alerter := alert.NewPremiumAlerter(conf.Alert, sender, logger.NewLogger(conf.MConfig, "Alerts"))
			engine.AddSink(alerter)
			closers = append(closers, alerter.Close)
			appLogger.Info("Discord alerts enabled above %.2f%%", alerter.Threshold)
		}
	}
	return engine, closers
}

// -----------------------------------------------------------------------------

// setupHealth registers the built-in checks.
func setupHealth(
	conf *config.Config,
	supervisor *datasource.FeedSupervisor,
	marketStore *store.MarketStore,
	rates *exchangerate.Provider,
	engine *analysis.PremiumEngine,
	db interfaces.IDatabase,
	cache *storage.RedisCache,
) *health.Monitor {
	monitor := health.NewMonitor(conf.Name, logger.NewLogger(conf.MConfig, "Health"))

	for _, ex := range conf.Exchanges {
		feed, err := supervisor.GetFeed(ex.Name)
		if err != nil {
			continue
		}
		monitor.Register(health.NewFeedCheck(ex.Name, supervisor, feedStaleAfter(ex, feed.Capability())))
	}
	monitor.Register(health.NewExchangeRateCheck(rates, 2*rates.Interval()))
	monitor.Register(health.NewPremiumEngineCheck(engine, engine.Interval()))
	monitor.Register(health.StoreCheck{Store: marketStore})
	if db != nil {
		monitor.Register(health.PingCheck{CheckName: "database", Target: db})
	}
	if cache != nil {
		monitor.Register(health.PingCheck{CheckName: "cache", Target: cache})
	}
	return monitor
}

// -----------------------------------------------------------------------------

// feedStaleAfter is how long a feed may be silent before it counts as stale.
func feedStaleAfter(ex models.MExchangeConfig, capability models.FeedCapability) time.Duration {
	if capability == models.PollingPull {
		return 3 * time.Duration(ex.PollIntervalSeconds) * time.Second
	}
	return time.Duration(ex.IdleTimeoutSeconds) * time.Second
}
