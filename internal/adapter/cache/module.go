package cache

import (
	"context"
	"log/slog"

	"github.com/webitel/im-connect/config"
	"go.uber.org/fx"
)

var Module = fx.Module("cache",
	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) Service {
			if cfg.CacheBackend == config.CacheRedis {
				r := NewRedis(cfg.RedisAddr, "im:")
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error { return r.Close() },
				})
				logger.Info("cache backend ready", "backend", "redis", "addr", cfg.RedisAddr)
				return r
			}
			logger.Info("cache backend ready", "backend", "memory")
			return NewMemory()
		},
	),
)
