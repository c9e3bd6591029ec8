package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/stayledger/internal/auth"
	"github.com/smallbiznis/stayledger/internal/authorization"
	"github.com/smallbiznis/stayledger/internal/clock"
	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/internal/listing/domain"
	"github.com/smallbiznis/stayledger/internal/listing/repository"
	"github.com/smallbiznis/stayledger/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	conn := testutil.NewDB(t)
	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)

	svc := New(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  testutil.NewNode(t),
		Repo:   repository.Provide(),
		Authz:  authorization.NewService(authorization.Params{DB: conn, Log: zap.NewNop(), Enforcer: enforcer}),
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Config: config.Config{Deposit: config.DepositConfig{DefaultRefundDays: 7, DefaultCurrency: "EUR"}},
	})
	return svc, conn
}

func asActor(id snowflake.ID, role string) context.Context {
	return auth.WithActor(context.Background(), auth.Actor{UserID: id, Role: role})
}

func TestCreateListing(t *testing.T) {
	svc, conn := newTestService(t)
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: 1, Role: "host"})

	listing, err := svc.Create(asActor(1, auth.RoleHost), domain.CreateListingRequest{
		Title:      "Cosy Loft in Lyon",
		PriceCents: 10000,
		Currency:   "eur",
		Country:    "fr",
		Capacity:   2,
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(listing.Slug, "cosy-loft-in-lyon-"))
	require.Equal(t, domain.PricingModeNightly, listing.PricingMode)
	require.Equal(t, 1, listing.MinNights)
	require.Equal(t, "EUR", listing.Currency)

	got, err := svc.Get(context.Background(), listing.ID.String())
	require.NoError(t, err)
	require.Equal(t, listing.Slug, got.Slug)
	require.EqualValues(t, 1, got.OwnerID)
}

func TestCreateListingValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := asActor(1, auth.RoleHost)

	_, err := svc.Create(ctx, domain.CreateListingRequest{Title: "x", Currency: "EUR", Country: "FR", Capacity: 1})
	var vErrs validator.ValidationErrors
	require.True(t, errors.As(err, &vErrs), "got %v", err)

	_, err = svc.Create(ctx, domain.CreateListingRequest{
		Title: "Cabin", PriceCents: 100, Currency: "CAD", Country: "CA", Capacity: 1,
	})
	require.ErrorIs(t, err, domain.ErrProvinceRequired)

	_, err = svc.Create(ctx, domain.CreateListingRequest{
		Title: "Cabin", PriceCents: 100, Currency: "EUR", Country: "FR", Capacity: 1, MinNights: 5, MaxNights: 2,
	})
	require.ErrorIs(t, err, domain.ErrInvalidStayLength)

	_, err = svc.Create(context.Background(), domain.CreateListingRequest{})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = svc.Get(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = svc.Get(context.Background(), "123")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpsertDepositPolicyRequiresOwner(t *testing.T) {
	svc, conn := newTestService(t)
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: 1, Role: "host"})
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: 2, Role: "host"})
	testutil.SeedListing(t, conn, testutil.ListingSeed{ID: 100, OwnerID: 1, PriceCents: 10000})

	_, err := svc.UpsertDepositPolicy(asActor(2, auth.RoleHost), domain.UpsertDepositPolicyRequest{
		ListingID: "100", Enabled: true, AmountCents: 20000,
	})
	require.ErrorIs(t, err, authorization.ErrForbidden)

	policy, err := svc.UpsertDepositPolicy(asActor(1, auth.RoleHost), domain.UpsertDepositPolicyRequest{
		ListingID: "100", Enabled: true, AmountCents: 20000, Description: "Breakage",
	})
	require.NoError(t, err)
	require.Equal(t, "EUR", policy.Currency)
	require.Equal(t, 7, policy.RefundDays)

	// Second upsert overwrites.
	_, err = svc.UpsertDepositPolicy(asActor(1, auth.RoleHost), domain.UpsertDepositPolicyRequest{
		ListingID: "100", Enabled: true, AmountCents: 15000, RefundDays: 3,
	})
	require.NoError(t, err)

	stored, err := svc.DepositPolicy(context.Background(), 100)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.True(t, stored.Active())
	require.EqualValues(t, 15000, stored.AmountCents)
	require.Equal(t, 3, stored.RefundDays)
}

func TestUpdateInstantBookSettings(t *testing.T) {
	svc, conn := newTestService(t)
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: 1, Role: "host"})
	testutil.SeedListing(t, conn, testutil.ListingSeed{ID: 100, OwnerID: 1, PriceCents: 10000})

	settings, err := svc.UpdateInstantBookSettings(asActor(1, auth.RoleHost), domain.UpdateInstantBookRequest{
		ListingID:         "100",
		Enabled:           true,
		RequireVerifiedID: true,
		MinGuestRating:    4,
		MinNights:         2,
		MaxNights:         14,
	})
	require.NoError(t, err)
	require.True(t, settings.Enabled)

	listing, err := svc.GetByID(context.Background(), 100)
	require.NoError(t, err)
	require.True(t, listing.InstantBook)

	stored, err := svc.InstantBookSettings(context.Background(), 100)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.InDelta(t, 4.0, stored.MinGuestRating, 0.001)
}
