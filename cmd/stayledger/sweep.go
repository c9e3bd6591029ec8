package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/internal/metricspush"
	"github.com/smallbiznis/stayledger/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newSweepCommand() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Release security deposits whose hold window has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var (
				sched *scheduler.Scheduler
				cfg   config.Config
				log   *zap.Logger
			)
			app := fx.New(
				infrastructure,
				domain,
				fx.NopLogger,
				fx.Populate(&sched, &cfg, &log),
			)
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()

			if !once {
				sched.RunForever(ctx)
				return nil
			}

			report, sweepErr := sched.SweepExpiredDeposits(ctx)
			pushMetrics(ctx, cfg, log)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return sweepErr
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}

// pushMetrics ships the run's counters for short-lived invocations that
// are never scraped.
func pushMetrics(ctx context.Context, cfg config.Config, log *zap.Logger) {
	pusher := metricspush.NewPusher(cfg, log)
	if pusher == nil {
		return
	}
	if err := pusher.Push(ctx, prometheus.DefaultGatherer); err != nil {
		log.Warn("metrics push failed", zap.Error(err))
	}
}
