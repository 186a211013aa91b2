package main

import (
	"context"
	"os/signal"
	"syscall"

	"dixis-gateway/gateway"
	"dixis-gateway/observability"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			gw, err := gateway.New(cfg, gateway.Deps{Logger: logger})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- gw.Start() }()

			select {
			case err := <-errCh:
				gw.Close()
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := gw.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown incomplete", zap.Error(err))
				return err
			}
			return <-errCh
		},
	}
}
