package pubsub

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("pubsub",
	fx.Provide(NewDispatcher),
	fx.Invoke(func(lc fx.Lifecycle, d Dispatcher) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return d.Close() },
		})
	}),
)
