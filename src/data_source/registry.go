package datasource

import (
	"fmt"
	"sort"

	"kimchi-observer/src/data_source/binance"
	"kimchi-observer/src/data_source/bithumb"
	"kimchi-observer/src/data_source/luno"
	"kimchi-observer/src/data_source/upbit"
	"kimchi-observer/src/helpers"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
)

// FeedFactory builds the feed for one configured exchange.
type FeedFactory func(cfg models.MExchangeConfig, nm interfaces.INetworkManager, log *logger.Logger) interfaces.IExchangeFeed

var registry = map[string]FeedFactory{
	"upbit": func(cfg models.MExchangeConfig, nm interfaces.INetworkManager, log *logger.Logger) interfaces.IExchangeFeed {
		return NewStreamingFeed(upbit.New(cfg, nm), cfg, log)
	},
	"binance": func(cfg models.MExchangeConfig, nm interfaces.INetworkManager, log *logger.Logger) interfaces.IExchangeFeed {
		return NewStreamingFeed(binance.New(cfg, nm), cfg, log)
	},
	"bithumb": func(cfg models.MExchangeConfig, nm interfaces.INetworkManager, log *logger.Logger) interfaces.IExchangeFeed {
		return NewPollingFeed(bithumb.New(cfg, nm), cfg, log)
	},
	"luno": func(cfg models.MExchangeConfig, _ interfaces.INetworkManager, log *logger.Logger) interfaces.IExchangeFeed {
		return NewPollingFeed(luno.New(cfg), cfg, log)
	},
}

// -----------------------------------------------------------------------------

// NewFeed returns the adapter registered under cfg.Name.
func NewFeed(cfg models.MExchangeConfig, nm interfaces.INetworkManager, log *logger.Logger) (interfaces.IExchangeFeed, error) {
	factory, ok := registry[cfg.Name]
	if !ok {
		return nil, helpers.NewConfigurationError(fmt.Sprintf("no adapter for exchange %q", cfg.Name), nil)
	}
	return factory(cfg, nm, log.Named(cfg.Name)), nil
}

// -----------------------------------------------------------------------------

// NewFeeds builds an adapter for every enabled exchange.
func NewFeeds(exchanges []models.MExchangeConfig, nm interfaces.INetworkManager, log *logger.Logger) ([]interfaces.IExchangeFeed, error) {
	feeds := make([]interfaces.IExchangeFeed, 0, len(exchanges))
	for _, ex := range exchanges {
		if !ex.Enabled {
			continue
		}
		feed, err := NewFeed(ex, nm, log)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, feed)
	}
	return feeds, nil
}

// -----------------------------------------------------------------------------

// RegisteredExchanges lists the exchange names NewFeed understands.
func RegisteredExchanges() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
