// Package fees computes guest fees, tax on guest fees and host fees for a
// booking. The booking flow only depends on Calculator.
package fees

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stayledger/internal/config"
)

var (
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrUnknownRegion = errors.New("unknown_fee_region")
)

type BookingInput struct {
	ListingID      snowflake.ID
	HostID         snowflake.ID
	Country        string
	Province       string
	Currency       string
	BasePriceCents int64
	Nights         int
}

type Fees struct {
	GuestFeeCents      int64
	TaxOnGuestFeeCents int64
	HostFeeCents       int64
	HostUserID         snowflake.ID
}

// GuestTotalCents is what the guest is charged for the stay.
func (f Fees) GuestTotalCents(basePriceCents int64) int64 {
	return basePriceCents + f.GuestFeeCents + f.TaxOnGuestFeeCents
}

type Calculator interface {
	ComputeFees(ctx context.Context, in BookingInput) (Fees, error)
}

type tieredCalculator struct {
	schedule *config.FeeScheduleHolder
}

// NewTieredCalculator reads the current schedule on every call so hot
// reloads apply to the next booking.
func NewTieredCalculator(schedule *config.FeeScheduleHolder) Calculator {
	return &tieredCalculator{schedule: schedule}
}

func (c *tieredCalculator) ComputeFees(ctx context.Context, in BookingInput) (Fees, error) {
	if in.BasePriceCents <= 0 {
		return Fees{}, ErrInvalidAmount
	}

	schedule := c.schedule.Get()
	region, ok := schedule.Region(regionCode(in.Country, in.Province))
	if !ok {
		return Fees{}, fmt.Errorf("%w: %s/%s", ErrUnknownRegion, in.Country, in.Province)
	}
	tier, ok := tierFor(region.Tiers, in.BasePriceCents)
	if !ok {
		return Fees{}, fmt.Errorf("%w: %s has no tiers", ErrUnknownRegion, region.Code)
	}

	base := decimal.NewFromInt(in.BasePriceCents)
	guestFee := ceilCents(base, tier.GuestRate)
	return Fees{
		GuestFeeCents:      guestFee,
		TaxOnGuestFeeCents: ceilCents(decimal.NewFromInt(guestFee), region.TaxRate),
		HostFeeCents:       ceilCents(base, tier.HostRate),
		HostUserID:         in.HostID,
	}, nil
}

func regionCode(country, province string) string {
	switch strings.ToUpper(strings.TrimSpace(country)) {
	case "CA":
		return strings.ToUpper(strings.TrimSpace(province))
	case "FR":
		return "FRANCE"
	default:
		return strings.ToUpper(strings.TrimSpace(country))
	}
}

func tierFor(tiers []config.FeeTier, amountCents int64) (config.FeeTier, bool) {
	for _, tier := range tiers {
		if tier.UpToCents == 0 || amountCents < tier.UpToCents {
			return tier, true
		}
	}
	return config.FeeTier{}, false
}

func ceilCents(amount decimal.Decimal, rate float64) int64 {
	return amount.Mul(decimal.NewFromFloat(rate)).Ceil().IntPart()
}
