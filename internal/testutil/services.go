package testutil

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/auth"
	"github.com/smallbiznis/stayledger/internal/authorization"
	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/internal/fees"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewAuthz builds the casbin-backed authorizer on conn.
func NewAuthz(t *testing.T, conn *gorm.DB) authorization.Service {
	t.Helper()
	enforcer, err := authorization.NewEnforcer(conn)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	return authorization.NewService(authorization.Params{DB: conn, Log: zap.NewNop(), Enforcer: enforcer})
}

// FlatFees charges guests 12% plus 5% tax on the fee and hosts 3%. Every
// country falls back to the single region.
func FlatFees() fees.Calculator {
	return fees.NewTieredCalculator(config.NewStaticFeeScheduleHolder(config.FeeSchedule{
		DefaultRegion: "FRANCE",
		Regions: []config.FeeRegion{{
			Code:     "FRANCE",
			Currency: "EUR",
			TaxRate:  0.05,
			Tiers:    []config.FeeTier{{UpToCents: 0, HostRate: 0.03, GuestRate: 0.12}},
		}},
	}))
}

// As returns ctx carrying the given user as the authenticated actor.
func As(ctx context.Context, userID snowflake.ID, role string) context.Context {
	return auth.WithActor(ctx, auth.Actor{UserID: userID, Role: role})
}
