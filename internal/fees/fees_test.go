package fees

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/stretchr/testify/require"
)

func flatSchedule() config.FeeSchedule {
	return config.FeeSchedule{
		DefaultRegion: "FRANCE",
		Regions: []config.FeeRegion{{
			Code:     "FRANCE",
			Currency: "EUR",
			TaxRate:  0.05,
			Tiers:    []config.FeeTier{{UpToCents: 0, HostRate: 0.03, GuestRate: 0.12}},
		}},
	}
}

func TestComputeFeesThreeNightStay(t *testing.T) {
	calc := NewTieredCalculator(config.NewStaticFeeScheduleHolder(flatSchedule()))

	got, err := calc.ComputeFees(context.Background(), BookingInput{
		HostID:         9,
		Country:        "FR",
		Currency:       "EUR",
		BasePriceCents: 30000,
		Nights:         3,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3600), got.GuestFeeCents)
	require.Equal(t, int64(180), got.TaxOnGuestFeeCents)
	require.Equal(t, int64(900), got.HostFeeCents)
	require.Equal(t, int64(33780), got.GuestTotalCents(30000))
	require.EqualValues(t, 9, got.HostUserID)
}

func TestComputeFeesTiersAndRounding(t *testing.T) {
	calc := NewTieredCalculator(config.NewStaticFeeScheduleHolder(config.DefaultFeeSchedule()))
	ctx := context.Background()

	// 30000 is not below the 30000 bound, so the open-ended tier applies.
	got, err := calc.ComputeFees(ctx, BookingInput{Country: "FR", BasePriceCents: 30000})
	require.NoError(t, err)
	require.Equal(t, int64(2250), got.GuestFeeCents)
	require.Equal(t, int64(450), got.TaxOnGuestFeeCents)
	require.Equal(t, int64(600), got.HostFeeCents)

	// 1999 * 0.115 = 229.885 rounds up.
	got, err = calc.ComputeFees(ctx, BookingInput{Country: "FR", BasePriceCents: 1999})
	require.NoError(t, err)
	require.Equal(t, int64(230), got.GuestFeeCents)

	got, err = calc.ComputeFees(ctx, BookingInput{Country: "CA", Province: "on", BasePriceCents: 10000})
	require.NoError(t, err)
	require.Equal(t, int64(920), got.GuestFeeCents)
	require.Equal(t, int64(120), got.TaxOnGuestFeeCents)
}

func TestComputeFeesRejectsInvalidInput(t *testing.T) {
	calc := NewTieredCalculator(config.NewStaticFeeScheduleHolder(config.FeeSchedule{}))

	_, err := calc.ComputeFees(context.Background(), BookingInput{BasePriceCents: 0})
	require.True(t, errors.Is(err, ErrInvalidAmount))

	_, err = calc.ComputeFees(context.Background(), BookingInput{Country: "FR", BasePriceCents: 100})
	require.True(t, errors.Is(err, ErrUnknownRegion))
}
