package main

import (
	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/internal/migration"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migration.Up(config.Load())
		},
	}
}
