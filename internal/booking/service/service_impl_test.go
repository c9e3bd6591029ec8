package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/authorization"
	"github.com/smallbiznis/stayledger/internal/availability"
	"github.com/smallbiznis/stayledger/internal/booking/domain"
	"github.com/smallbiznis/stayledger/internal/booking/repository"
	"github.com/smallbiznis/stayledger/internal/clock"
	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/internal/eligibility"
	listingrepo "github.com/smallbiznis/stayledger/internal/listing/repository"
	listingservice "github.com/smallbiznis/stayledger/internal/listing/service"
	"github.com/smallbiznis/stayledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	hostID   snowflake.ID = 1
	guestID  snowflake.ID = 2
	otherID  snowflake.ID = 3
	listingA snowflake.ID = 100
)

func setupService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))
	authz := testutil.NewAuthz(t, conn)

	listings := listingservice.New(listingservice.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   listingrepo.Provide(),
		Authz:  authz,
		Clock:  clk,
		Config: config.Config{},
	})
	checker := eligibility.NewChecker(eligibility.Params{DB: conn, Log: zap.NewNop(), Clock: clk, Listings: listings})

	svc := New(Params{
		DB:          conn,
		Log:         zap.NewNop(),
		GenID:       node,
		Repo:        repository.Provide(),
		Ledger:      availability.NewLedger(),
		Listings:    listings,
		Eligibility: checker,
		Fees:        testutil.FlatFees(),
		Authz:       authz,
		Clock:       clk,
	})

	testutil.SeedUser(t, conn, testutil.UserSeed{ID: hostID, Role: "host"})
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: guestID})
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: otherID})
	testutil.SeedListing(t, conn, testutil.ListingSeed{ID: listingA, OwnerID: hostID, PriceCents: 10000, Capacity: 4})
	return svc, conn
}

func request(start, end string) domain.CreateBookingRequest {
	return domain.CreateBookingRequest{
		ListingID:  listingA.String(),
		StartDate:  start,
		EndDate:    end,
		GuestCount: 2,
	}
}

func countBookings(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Raw(`SELECT COUNT(*) FROM bookings WHERE listing_id = ?`, listingA).Scan(&n).Error)
	return n
}

func TestCreateChargesStayPlusGuestFees(t *testing.T) {
	svc, _ := setupService(t)
	ctx := testutil.As(context.Background(), guestID, "guest")

	booking, err := svc.Create(ctx, request("2026-07-10", "2026-07-13"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, booking.Status)
	assert.Equal(t, 3, booking.Nights)
	assert.Equal(t, int64(30000), booking.TotalPriceCents)
	assert.Equal(t, int64(3600), booking.GuestFeeCents)
	assert.Equal(t, int64(180), booking.TaxOnGuestFeeCents)
	assert.Equal(t, int64(900), booking.HostFeeCents)
	assert.Equal(t, int64(33780), booking.GuestTotalCents())
	assert.Equal(t, int64(29100), booking.HostShareCents())
	assert.Equal(t, hostID, booking.HostID)
	assert.Len(t, booking.Reference, 26)

	stored, err := svc.GetByID(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.Reference, stored.Reference)
	assert.True(t, stored.StartDate.Equal(booking.StartDate))
}

func TestCreateRejectsOverlapWithConfirmedBooking(t *testing.T) {
	svc, conn := setupService(t)

	first, err := svc.Create(testutil.As(context.Background(), guestID, "guest"), request("2026-07-10", "2026-07-15"))
	require.NoError(t, err)
	confirmed, err := svc.MarkConfirmed(context.Background(), nil, first.ID)
	require.NoError(t, err)
	require.True(t, confirmed)

	_, err = svc.Create(testutil.As(context.Background(), otherID, "guest"), request("2026-07-12", "2026-07-13"))
	require.ErrorIs(t, err, domain.ErrDatesUnavailable)

	var unavailable *domain.DatesUnavailableError
	require.True(t, errors.As(err, &unavailable))
	require.Len(t, unavailable.Conflicts, 1)
	assert.Equal(t, "2026-07-10..2026-07-15", unavailable.Conflicts[0].String())
	assert.Equal(t, int64(1), countBookings(t, conn))

	// Checkout day is free for the next arrival.
	_, err = svc.Create(testutil.As(context.Background(), otherID, "guest"), request("2026-07-15", "2026-07-17"))
	require.NoError(t, err)
}

func TestConcurrentOverlappingAdmissionAdmitsOne(t *testing.T) {
	svc, conn := setupService(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		clashes int
	)
	for _, id := range []snowflake.ID{guestID, otherID} {
		wg.Add(1)
		go func(id snowflake.ID) {
			defer wg.Done()
			_, err := svc.Create(testutil.As(context.Background(), id, "guest"), request("2026-08-01", "2026-08-05"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrDatesUnavailable):
				clashes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 1, clashes)
	assert.Equal(t, int64(1), countBookings(t, conn))
}

func TestCreateReusesIdenticalPendingBooking(t *testing.T) {
	svc, conn := setupService(t)
	ctx := testutil.As(context.Background(), guestID, "guest")

	first, err := svc.Create(ctx, request("2026-07-20", "2026-07-22"))
	require.NoError(t, err)
	second, err := svc.Create(ctx, request("2026-07-20", "2026-07-22"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), countBookings(t, conn))
}

func TestCreateValidation(t *testing.T) {
	svc, conn := setupService(t)
	testutil.SeedListing(t, conn, testutil.ListingSeed{ID: 101, OwnerID: hostID, PriceCents: 50000, PricingMode: "WEEKLY"})
	testutil.SeedListing(t, conn, testutil.ListingSeed{ID: 102, OwnerID: hostID, PriceCents: 10000, MinNights: 2, MaxNights: 5})
	testutil.SeedListing(t, conn, testutil.ListingSeed{ID: 103, OwnerID: hostID, PriceCents: 10000, Currency: "CAD", Country: "CA"})
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: 4, IdentityStatus: "PENDING"})

	cases := []struct {
		name    string
		actor   snowflake.ID
		listing snowflake.ID
		start   string
		end     string
		guests  int
		want    error
	}{
		{"reversed range", guestID, listingA, "2026-07-13", "2026-07-10", 1, domain.ErrInvalidDateRange},
		{"empty range", guestID, listingA, "2026-07-10", "2026-07-10", 1, domain.ErrInvalidDateRange},
		{"own listing", hostID, listingA, "2026-07-10", "2026-07-12", 1, domain.ErrSelfBooking},
		{"too many guests", guestID, listingA, "2026-07-10", "2026-07-12", 5, domain.ErrCapacityExceeded},
		{"below min nights", guestID, 102, "2026-07-10", "2026-07-11", 1, domain.ErrStayLength},
		{"above max nights", guestID, 102, "2026-07-10", "2026-07-16", 1, domain.ErrStayLength},
		{"weekly listing partial week", guestID, 101, "2026-07-10", "2026-07-15", 1, domain.ErrPricingMode},
		{"canadian listing without province", guestID, 103, "2026-07-10", "2026-07-12", 1, domain.ErrProvinceRequired},
		{"unverified guest", 4, listingA, "2026-07-10", "2026-07-12", 1, domain.ErrNotEligible},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(testutil.As(context.Background(), tc.actor, "guest"), domain.CreateBookingRequest{
				ListingID:  tc.listing.String(),
				StartDate:  tc.start,
				EndDate:    tc.end,
				GuestCount: tc.guests,
			})
			require.ErrorIs(t, err, tc.want)
		})
	}

	var n int64
	require.NoError(t, conn.Raw(`SELECT COUNT(*) FROM bookings`).Scan(&n).Error)
	assert.Zero(t, n)
}

func TestCreateWeeklyListingChargesPerWeek(t *testing.T) {
	svc, conn := setupService(t)
	testutil.SeedListing(t, conn, testutil.ListingSeed{ID: 101, OwnerID: hostID, PriceCents: 50000, PricingMode: "WEEKLY"})

	booking, err := svc.Create(testutil.As(context.Background(), guestID, "guest"), domain.CreateBookingRequest{
		ListingID:  "101",
		StartDate:  "2026-07-04",
		EndDate:    "2026-07-18",
		GuestCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 14, booking.Nights)
	assert.Equal(t, int64(100000), booking.TotalPriceCents)
}

func TestCreateRequiresActor(t *testing.T) {
	svc, _ := setupService(t)
	_, err := svc.Create(context.Background(), request("2026-07-10", "2026-07-12"))
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestCancelFreesNights(t *testing.T) {
	svc, _ := setupService(t)
	guestCtx := testutil.As(context.Background(), guestID, "guest")
	otherCtx := testutil.As(context.Background(), otherID, "guest")

	booking, err := svc.Create(guestCtx, request("2026-07-10", "2026-07-12"))
	require.NoError(t, err)

	_, err = svc.Cancel(otherCtx, booking.ID.String())
	require.ErrorIs(t, err, authorization.ErrForbidden)

	cancelled, err := svc.Cancel(guestCtx, booking.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	_, err = svc.Cancel(guestCtx, booking.ID.String())
	require.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = svc.Create(otherCtx, request("2026-07-10", "2026-07-12"))
	require.NoError(t, err)
}

func TestGetVisibleToGuestAndHostOnly(t *testing.T) {
	svc, _ := setupService(t)

	booking, err := svc.Create(testutil.As(context.Background(), guestID, "guest"), request("2026-07-10", "2026-07-12"))
	require.NoError(t, err)

	_, err = svc.Get(testutil.As(context.Background(), guestID, "guest"), booking.ID.String())
	require.NoError(t, err)
	_, err = svc.Get(testutil.As(context.Background(), hostID, "host"), booking.ID.String())
	require.NoError(t, err)
	_, err = svc.Get(testutil.As(context.Background(), otherID, "guest"), booking.ID.String())
	require.ErrorIs(t, err, authorization.ErrForbidden)
	_, err = svc.Get(testutil.As(context.Background(), guestID, "guest"), "nope")
	require.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestApplyRefundAccumulatesAndCancels(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	booking, err := svc.Create(testutil.As(ctx, guestID, "guest"), request("2026-07-10", "2026-07-13"))
	require.NoError(t, err)
	_, err = svc.MarkConfirmed(ctx, nil, booking.ID)
	require.NoError(t, err)

	partial, err := svc.ApplyRefund(ctx, nil, booking.ID, 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), partial.AppliedCents)
	assert.False(t, partial.FullyRefunded)
	assert.Equal(t, domain.StatusConfirmed, partial.Booking.Status)

	rest, err := svc.ApplyRefund(ctx, nil, booking.ID, 25000)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), rest.AppliedCents)
	assert.True(t, rest.FullyRefunded)

	stored, err := svc.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.Equal(t, int64(30000), stored.RefundedAmountCents)

	_, err = svc.ApplyRefund(ctx, nil, booking.ID, 0)
	require.ErrorIs(t, err, domain.ErrInvalidRefund)
}
