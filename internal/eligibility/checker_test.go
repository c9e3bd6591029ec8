package eligibility

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/availability"
	"github.com/smallbiznis/stayledger/internal/clock"
	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/internal/listing/repository"
	listingservice "github.com/smallbiznis/stayledger/internal/listing/service"
	"github.com/smallbiznis/stayledger/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

func newTestChecker(t *testing.T) (Checker, *gorm.DB) {
	t.Helper()
	conn := testutil.NewDB(t)
	clk := clock.NewFakeClock(now)
	listings := listingservice.New(listingservice.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  testutil.NewNode(t),
		Repo:   repository.Provide(),
		Clock:  clk,
		Config: config.Config{},
	})
	return NewChecker(Params{DB: conn, Log: zap.NewNop(), Clock: clk, Listings: listings}), conn
}

func addReview(t *testing.T, conn *gorm.DB, id, guestID snowflake.ID, rating int) {
	t.Helper()
	require.NoError(t, conn.Exec(
		`INSERT INTO guest_reviews (id, guest_id, host_id, booking_id, rating, created_at) VALUES (?, ?, 1, ?, ?, ?)`,
		id, guestID, id, rating, now,
	).Error)
}

func enableInstantBook(t *testing.T, conn *gorm.DB, listingID snowflake.ID, minRating float64, minNights, maxNights, noticeHours int) {
	t.Helper()
	require.NoError(t, conn.Exec(`UPDATE listings SET instant_book = ? WHERE id = ?`, true, listingID).Error)
	require.NoError(t, conn.Exec(
		`INSERT INTO listing_instant_book_settings (listing_id, enabled, require_verified_id, require_positive_reviews,
			min_guest_rating, min_nights, max_nights, advance_notice_hours, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		listingID, true, true, true, minRating, minNights, maxNights, noticeHours, now,
	).Error)
}

func stay(startDay, nights int) availability.DateRange {
	start := time.Date(2026, 7, startDay, 0, 0, 0, 0, time.UTC)
	return availability.DateRange{Start: start, End: start.AddDate(0, 0, nights)}
}

func TestIdentityGatesEveryBooking(t *testing.T) {
	checker, conn := newTestChecker(t)
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: 2, IdentityStatus: "PENDING"})
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: 3})

	res, err := checker.IsEligible(context.Background(), Request{UserID: 2, ListingID: 100, Range: stay(10, 3)})
	require.NoError(t, err)
	require.False(t, res.Eligible)
	require.Equal(t, []string{ReasonIdentityNotVerified}, res.Reasons)

	res, err = checker.IsEligible(context.Background(), Request{UserID: 3, ListingID: 100, Range: stay(10, 3)})
	require.NoError(t, err)
	require.True(t, res.Eligible)

	res, err = checker.IsEligible(context.Background(), Request{UserID: 404, ListingID: 100, Range: stay(10, 3)})
	require.NoError(t, err)
	require.Equal(t, []string{ReasonUserNotFound}, res.Reasons)
}

func TestInstantBookCriteria(t *testing.T) {
	checker, conn := newTestChecker(t)
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: 1, Role: "host"})
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: 2})
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: 3})
	testutil.SeedListing(t, conn, testutil.ListingSeed{ID: 100, OwnerID: 1, PriceCents: 10000})
	testutil.SeedListing(t, conn, testutil.ListingSeed{ID: 101, OwnerID: 1, PriceCents: 10000})
	enableInstantBook(t, conn, 100, 4.0, 2, 7, 48)

	addReview(t, conn, 500, 2, 5)
	addReview(t, conn, 501, 2, 4)
	addReview(t, conn, 502, 3, 3)

	ctx := context.Background()

	res, err := checker.IsEligible(ctx, Request{UserID: 2, ListingID: 100, Range: stay(10, 3), InstantBook: true})
	require.NoError(t, err)
	require.True(t, res.Eligible, "reasons: %v", res.Reasons)

	res, err = checker.IsEligible(ctx, Request{UserID: 3, ListingID: 100, Range: stay(10, 3), InstantBook: true})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{ReasonNoPositiveReviews, ReasonRatingBelowMinimum}, res.Reasons)

	// July 2 is 15 hours away, below the 48h notice, and 10 nights exceed the maximum.
	res, err = checker.IsEligible(ctx, Request{UserID: 2, ListingID: 100, Range: stay(2, 10), InstantBook: true})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{ReasonNightsOutOfRange, ReasonAdvanceNoticeTooShort}, res.Reasons)

	res, err = checker.IsEligible(ctx, Request{UserID: 2, ListingID: 101, Range: stay(10, 3), InstantBook: true})
	require.NoError(t, err)
	require.Equal(t, []string{ReasonInstantBookDisabled}, res.Reasons)
}
