package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/quantfall/backcast/internal/cache"
	"github.com/quantfall/backcast/internal/config"
	"github.com/quantfall/backcast/internal/datasource"
	"github.com/quantfall/backcast/internal/queue"
)

// backends bundles the shared stores one command invocation wires up.
type backends struct {
	broker queue.Broker
	cache  *cache.OhlcvCache
	source *datasource.PostgresSource
	redis  *redis.Client
}

// buildBackends connects Redis and Postgres per the configuration. Without a
// Redis address the in-memory broker and cache serve a single process, which
// is enough for local runs.
func buildBackends(cfg *config.BacktestConfig) (*backends, error) {
	b := &backends{}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		b.redis = client
		b.broker = queue.NewRedisBroker(client)
		b.cache = cache.NewOhlcvCache(cache.NewRedisKV(client), cfg.CacheTTL(), cfg.Redis.CacheMaxBytes)
	} else {
		log.Warn().Msg("no redis address configured, using in-process cache and queues")
		b.broker = queue.NewMemoryBroker()
		b.cache = cache.NewOhlcvCache(cache.NewMemoryKV(), cfg.CacheTTL(), cfg.Redis.CacheMaxBytes)
	}

	if cfg.Ohlcv.DSN == "" {
		return nil, fmt.Errorf("ohlcv.dsn is required")
	}
	pgCfg := datasource.DefaultPostgresConfig()
	pgCfg.DSN = cfg.Ohlcv.DSN
	source, err := datasource.NewPostgresSource(pgCfg)
	if err != nil {
		return nil, err
	}
	b.source = source
	return b, nil
}

func (b *backends) close() {
	if b.source != nil {
		b.source.Close()
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close failed")
		}
	}
}
