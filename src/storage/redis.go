package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"

	"github.com/redis/go-redis/v9"
)

// -----------------------------------------------------------------------------
// RedisCache mirrors live tickers and premiums into Redis with a short expiry.
// -----------------------------------------------------------------------------

type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewRedisCache(cfg models.MRedisConfig, log *logger.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisCache{
		Client: client,
		TTL:    time.Duration(cfg.TTLSeconds) * time.Second,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

// TickerKey is the Redis key of one exchange ticker.
func TickerKey(exchange, symbol string) string {
	return fmt.Sprintf("ticker:%s:%s", exchange, symbol)
}

// PremiumKey is the Redis key of the latest premium of a symbol.
func PremiumKey(symbol string) string {
	return fmt.Sprintf("premium:%s", symbol)
}

// -----------------------------------------------------------------------------

// MirrorTickers writes every ticker in one pipeline.
func (r *RedisCache) MirrorTickers(ctx context.Context, tickers []models.MTicker) error {
	if len(tickers) == 0 {
		return nil
	}

	pipe := r.Client.Pipeline()
	for _, t := range tickers {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal ticker %s: %w", t.Key(), err)
		}
		pipe.Set(ctx, TickerKey(t.Exchange, t.Symbol), data, r.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (r *RedisCache) Name() string {
	return "redis"
}

// -----------------------------------------------------------------------------

// ConsumePremiums stores the latest record per symbol.
func (r *RedisCache) ConsumePremiums(ctx context.Context, records []models.MPremiumRecord) error {
	if len(records) == 0 {
		return nil
	}

	pipe := r.Client.Pipeline()
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal premium %s: %w", rec.Symbol, err)
		}
		pipe.Set(ctx, PremiumKey(rec.Symbol), data, r.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// -----------------------------------------------------------------------------

func (r *RedisCache) Close() error {
	return r.Client.Close()
}
