package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quota-service/internal/client"
	"quota-service/internal/config"
	"quota-service/internal/ratelimit"
	"quota-service/internal/util"
)

// Factory owns the lifecycle of every application dependency: config, the
// shared store client, the event producer and the quota engine. Construction
// happens once at startup; Close tears everything down in reverse order.
type Factory struct {
	config *config.Config

	redisClient   *client.RedisClient
	eventProducer *client.QuotaEventProducer

	fallbackStore *ratelimit.FallbackStore
	engine        *ratelimit.Engine

	closeOnce sync.Once
}

// NewFactory loads configuration and initializes all clients and the engine.
func NewFactory() (*Factory, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	logger := util.Get()

	f := &Factory{config: cfg}

	redisClient, err := client.NewRedisClient(client.RedisOptions{
		URL:      cfg.Redis.URL,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		// The engine can start degraded; the fallback store covers the gap
		// until Redis answers.
		util.Warn("Redis health check failed, starting in degraded mode", util.ErrorField(err))
	}

	// Events are optional; the service runs fine without Kafka.
	var events ratelimit.EventPublisher
	if cfg.Kafka.Enabled {
		f.eventProducer = client.NewQuotaEventProducer(client.KafkaOptions{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, logger)
		events = f.eventProducer
	}

	f.fallbackStore = ratelimit.NewFallbackStore(time.Minute, logger)
	f.fallbackStore.Start()

	windowStore := ratelimit.NewRedisWindowStore(f.redisClient, cfg.RateLimit.StoreTimeout, logger)
	f.engine = ratelimit.NewEngine(windowStore, f.fallbackStore, ratelimit.NewMetrics(), events, cfg.RateLimit.DownFor, logger)

	util.Info("Factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	return f, nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Engine() *ratelimit.Engine {
	return f.engine
}

func (f *Factory) RedisClient() *client.RedisClient {
	return f.redisClient
}

// HealthCheck reports per-dependency health.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)
	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}
	return healthErrors
}

// Close stops the background sweep and closes every client. Idempotent.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.fallbackStore != nil {
			f.fallbackStore.Close()
			util.Info("Fallback store sweep stopped")
		}

		if f.eventProducer != nil {
			if err := f.eventProducer.Close(); err != nil {
				util.Error("Failed to close quota event producer", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
	})
	return nil
}
