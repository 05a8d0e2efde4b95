package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lhdbsbz/analystdesk/internal/config"
	"github.com/lhdbsbz/analystdesk/internal/gateway"
)

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development workflow backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Gateway.Port = port
			}
			slog.Info("analystdesk starting", "version", version, "config", path)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := gateway.NewServer(cfg.Gateway)
			if _, err := os.Stat(path); err == nil {
				watchGateway(ctx, path, srv, port)
			}
			return srv.Start(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides gateway.port)")
	return cmd
}

// watchGateway applies edits of the config file to the running gateway.
// A port given on the command line keeps precedence over the file.
func watchGateway(ctx context.Context, path string, srv *gateway.Server, port int) {
	config.RegisterOnReload(func(c *config.Config) {
		next := c.Gateway
		if port > 0 {
			next.Port = port
		}
		if err := srv.Apply(next); err != nil {
			slog.Warn("gateway settings not applied", "error", err)
		}
	})
	if err := config.Watch(ctx, path); err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	}
}
