package diag

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/webitel/im-connect/config"
	"go.uber.org/fx"
)

var Module = fx.Module("diag",
	fx.Provide(NewHandler),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, h *Handler, logger *slog.Logger) {
		if cfg.DiagAddr == "" {
			return
		}
		srv := &http.Server{Addr: cfg.DiagAddr, Handler: h.Routes()}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("diag listener failed", "error", err)
					}
				}()
				logger.Info("diag listener up", "addr", cfg.DiagAddr)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
