package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/go-unitsel/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the synthesis HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			svc, mgr, err := newService(cfg)
			if err != nil {
				return err
			}
			defer mgr.Close()

			// Load the default voice up front so a broken voice fails at start.
			if _, err := mgr.Get(cfg.Paths.Voice); err != nil {
				return err
			}

			srv := server.New(cfg, svc).WithLogger(slog.Default())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	return cmd
}
