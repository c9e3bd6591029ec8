package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/clock"
	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/internal/migration"
	"github.com/smallbiznis/stayledger/internal/observability"
	"github.com/smallbiznis/stayledger/internal/server"
	"github.com/smallbiznis/stayledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
