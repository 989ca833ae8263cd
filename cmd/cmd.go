package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/webitel/im-connect/config"
)

const ServiceName = "im-connect"

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Enterprise WebSocket connection engine",
		Commands: []*cli.Command{
			engineCmd(),
		},
	}

	return app.Run(os.Args)
}

func engineCmd() *cli.Command {
	return &cli.Command{
		Name:    "engine",
		Aliases: []string{"e"},
		Usage:   "Run the connection engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config_file"))
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...")
			return app.Stop(context.Background())
		},
	}
}
