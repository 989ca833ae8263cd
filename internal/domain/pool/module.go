package pool

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("pool",
	fx.Provide(NewManager),
	fx.Invoke(func(lc fx.Lifecycle, m Manager) {
		runCtx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go m.Run(runCtx)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				m.Shutdown()
				return nil
			},
		})
	}),
)
