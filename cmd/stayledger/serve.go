package main

import (
	"github.com/smallbiznis/stayledger/internal/migration"
	"github.com/smallbiznis/stayledger/internal/scheduler"
	"github.com/smallbiznis/stayledger/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newServeCommand() *cobra.Command {
	var withScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{
				infrastructure,
				migration.Module,
				server.Module,
			}
			if withScheduler {
				opts = append(opts, scheduler.Worker)
			}
			app := fx.New(opts...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also run the deposit expiry sweeper in-process")
	return cmd
}
