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

// infrastructure is shared by every command that opens the store.
var infrastructure = fx.Options(
	config.Module,
	observability.Module,
	fx.Provide(registerSnowflake),
	db.Module,
	clock.Module,
)

// domain holds the services behind the sweep and wallet commands.
var domain = fx.Options(
	authorization.Module,
	availability.Module,
	eligibility.Module,
	fees.Module,
	listing.Module,
	booking.Module,
	payment.Module,
	wallet.Module,
	deposit.Module,
	notification.Module,
	pdf.Module,
	ratelimit.Module,
	scheduler.Module,
)

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
