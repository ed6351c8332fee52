package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/server"
	"github.com/mohammad-safakhou/counsel/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			log := newLogger(cfg.General)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry, version)
			if err != nil {
				return err
			}
			defer func() { _ = shutdownTracing(context.Background()) }()

			metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
			p, err := buildPipeline(ctx, cfg, log, pipelineOptions{withHistory: true, metrics: metrics})
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			srv, err := server.New(*cfg, p.orch, log, server.WithMetrics(metrics))
			if err != nil {
				return err
			}

			addr := serveAddr
			if addr == "" {
				addr = cfg.Server.Address
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			log.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.address)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
