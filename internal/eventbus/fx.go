package eventbus

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/sahayak-app/sahayak/internal/config"
	obsmetrics "github.com/sahayak-app/sahayak/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func NewBus(lc fx.Lifecycle, p Params, client *redis.Client) Bus {
	if p.Cfg.Bus.Backend == "memory" {
		bus := NewMemoryBus(p.Log,
			WithMaxDeliveryAttempts(p.Cfg.Bus.MaxDeliveryAttempts),
			WithRetryBaseDelay(p.Cfg.Bus.RetryBaseDelay),
			WithMetrics(p.ObsMetrics),
		)
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				bus.Close()
				return nil
			},
		})
		return bus
	}

	bus := NewRedisBus(client, p.Log, p.Cfg.Bus.Stream,
		WithRedisMaxDeliveryAttempts(p.Cfg.Bus.MaxDeliveryAttempts),
		WithRedisRetryBaseDelay(p.Cfg.Bus.RetryBaseDelay),
		WithRedisMetrics(p.ObsMetrics),
	)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			bus.Close()
			return client.Close()
		},
	})
	return bus
}

var Module = fx.Module("eventbus",
	fx.Provide(NewRedisClient),
	fx.Provide(NewBus),
)
