package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/authorization"
	"github.com/smallbiznis/stayledger/internal/availability"
	"github.com/smallbiznis/stayledger/internal/booking"
	"github.com/smallbiznis/stayledger/internal/clock"
	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/internal/deposit"
	"github.com/smallbiznis/stayledger/internal/eligibility"
	"github.com/smallbiznis/stayledger/internal/fees"
	"github.com/smallbiznis/stayledger/internal/listing"
	"github.com/smallbiznis/stayledger/internal/notification"
	"github.com/smallbiznis/stayledger/internal/observability"
	"github.com/smallbiznis/stayledger/internal/payment"
	"github.com/smallbiznis/stayledger/internal/providers/pdf"
	"github.com/smallbiznis/stayledger/internal/ratelimit"
	"github.com/smallbiznis/stayledger/internal/scheduler"
	"github.com/smallbiznis/stayledger/internal/wallet"
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

		// Domain services required by the expiry sweep
		deposit.Module,
		payment.Module,
		booking.Module,
		listing.Module,
		wallet.Module,
		availability.Module,
		eligibility.Module,
		fees.Module,
		authorization.Module,
		notification.Module,
		pdf.Module,
		ratelimit.Module,

		scheduler.Module,
		scheduler.Worker,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
