package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/steer/pkg/gateway"
)

func newServeCmd(configPath *string) *cobra.Command {
	var (
		listen     string
		resetEvery time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openGateway(ctx, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if listen == "" {
				listen = a.cfg.Listen
			}
			srv := gateway.NewServer(gateway.ServerOptions{
				Listen:   listen,
				Gateway:  a.gateway,
				Engine:   a.engine,
				Budgets:  a.registry,
				Tracker:  a.tracker,
				Breakers: a.breakers,
				Cache:    a.cache,
				Gatherer: a.prom,
				Health:   a.health,
				Logger:   a.logger,
			})

			if resetEvery > 0 {
				go resetDailySpend(ctx, a, resetEvery)
			}

			a.logger.Info("starting steer gateway",
				zap.String("config", *configPath),
				zap.Int("providers", len(a.cfg.Providers)),
				zap.Int("rules", len(a.engine.Rules())),
				zap.Bool("cache", a.cache != nil),
				zap.Bool("audit", a.audit != nil),
			)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().DurationVar(&resetEvery, "spend-reset-interval", 0, "reset the daily spend counter on this interval (0 leaves it to POST /v1/spend/reset)")
	return cmd
}

func resetDailySpend(ctx context.Context, a *app, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.gateway.ResetDailySpend()
		}
	}
}
