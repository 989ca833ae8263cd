package service

import (
	"context"
	"log/slog"

	"github.com/webitel/im-connect/internal/adapter/pubsub"
	"github.com/webitel/im-connect/internal/domain/model"
	"github.com/webitel/im-connect/internal/domain/routing"
	"go.uber.org/fx"
)

var Module = fx.Module("service",
	fx.Provide(
		NewCacheBridge,
		NewConnectionFactory,
		NewEngine,

		// The router republishes every successfully routed message onto the
		// in-process bus the cache bridge consumes.
		func(d pubsub.Dispatcher, logger *slog.Logger) routing.Router {
			return routing.NewRouter(
				routing.WithLogger(logger),
				routing.WithPublisher(func(m *model.Message) {
					if err := d.Publish(context.Background(), m); err != nil {
						logger.Warn("routed message not republished", "error", err)
					}
				}),
			)
		},
	),

	fx.Invoke(func(lc fx.Lifecycle, e *Engine) {
		lc.Append(fx.Hook{
			OnStart: e.Start,
			OnStop:  e.Stop,
		})
	}),
)
