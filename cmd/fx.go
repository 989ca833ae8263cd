package cmd

import (
	"log/slog"
	"os"

	"github.com/webitel/im-connect/config"
	"github.com/webitel/im-connect/internal/adapter/cache"
	"github.com/webitel/im-connect/internal/adapter/pubsub"
	"github.com/webitel/im-connect/internal/domain/pool"
	"github.com/webitel/im-connect/internal/handler/diag"
	"github.com/webitel/im-connect/internal/service"
	"go.uber.org/fx"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		cache.Module,
		pubsub.Module,
		service.Module,
		pool.Module,
		diag.Module,
	)
}

func ProvideLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
