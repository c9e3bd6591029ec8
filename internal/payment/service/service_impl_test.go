package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/stayledger/internal/authorization"
	bookingdomain "github.com/smallbiznis/stayledger/internal/booking/domain"
	bookingrepo "github.com/smallbiznis/stayledger/internal/booking/repository"
	bookingservice "github.com/smallbiznis/stayledger/internal/booking/service"
	"github.com/smallbiznis/stayledger/internal/clock"
	"github.com/smallbiznis/stayledger/internal/config"
	depositdomain "github.com/smallbiznis/stayledger/internal/deposit/domain"
	listingrepo "github.com/smallbiznis/stayledger/internal/listing/repository"
	listingservice "github.com/smallbiznis/stayledger/internal/listing/service"
	"github.com/smallbiznis/stayledger/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
	"github.com/smallbiznis/stayledger/internal/payment/domain/mocks"
	"github.com/smallbiznis/stayledger/internal/payment/repository"
	"github.com/smallbiznis/stayledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	hostID    snowflake.ID = 1
	guestID   snowflake.ID = 2
	otherID   snowflake.ID = 3
	listingID snowflake.ID = 100
	bookingID snowflake.ID = 500
)

type fakeDeposits struct {
	depositdomain.Service
	holds []depositdomain.HoldRequest
	err   error
}

func (f *fakeDeposits) CreateHold(ctx context.Context, req depositdomain.HoldRequest) (depositdomain.SecurityDeposit, error) {
	f.holds = append(f.holds, req)
	if f.err != nil {
		return depositdomain.SecurityDeposit{}, f.err
	}
	return depositdomain.SecurityDeposit{ID: 900, BookingID: req.Booking.ID, Status: depositdomain.StatusAuthorized}, nil
}

// refundingNetwork adds the PayPal refund call to the generated mock.
type refundingNetwork struct {
	*mocks.MockNetwork
	refunds []int64
	err     error
}

func (n *refundingNetwork) Refund(ctx context.Context, captureRef string, amountCents int64, currency, idempotencyKey string) error {
	if n.err != nil {
		return n.err
	}
	n.refunds = append(n.refunds, amountCents)
	return nil
}

type harness struct {
	svc      paymentdomain.Service
	conn     *gorm.DB
	bookings bookingdomain.Service
	refunder *refundingNetwork
	paypal   *mocks.MockNetwork
	stripe   *mocks.MockNetwork
	deposits *fakeDeposits
}

func setup(t *testing.T) *harness {
	t.Helper()

	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))
	authz := testutil.NewAuthz(t, conn)

	ctrl := gomock.NewController(t)
	paypal := mocks.NewMockNetwork(ctrl)
	paypal.EXPECT().Name().Return(paymentdomain.NetworkPayPal).AnyTimes()
	stripe := mocks.NewMockNetwork(ctrl)
	stripe.EXPECT().Name().Return(paymentdomain.NetworkStripe).AnyTimes()

	listings := listingservice.New(listingservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Repo: listingrepo.Provide(), Authz: authz, Clock: clk, Config: config.Config{},
	})
	bookings := bookingservice.New(bookingservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Repo: bookingrepo.Provide(), Listings: listings, Authz: authz, Clock: clk,
	})
	deposits := &fakeDeposits{}
	refunder := &refundingNetwork{MockNetwork: paypal}

	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Cfg:      config.Config{Payment: config.PaymentConfig{AmountTolerancePercent: 1}},
		Repo:     repository.Provide(),
		Networks: adapters.NewRegistry([]paymentdomain.Network{refunder, stripe}, nil),
		Bookings: bookings,
		Deposits: deposits,
		Authz:    authz,
		Clock:    clk,
	})

	testutil.SeedUser(t, conn, testutil.UserSeed{ID: hostID, Role: "host"})
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: guestID})
	testutil.SeedUser(t, conn, testutil.UserSeed{ID: otherID})
	testutil.SeedListing(t, conn, testutil.ListingSeed{ID: listingID, OwnerID: hostID, PriceCents: 10000})
	testutil.SeedBooking(t, conn, testutil.BookingSeed{ID: bookingID, ListingID: listingID, GuestID: guestID, HostID: hostID})

	return &harness{svc: svc, conn: conn, bookings: bookings, refunder: refunder, paypal: paypal, stripe: stripe, deposits: deposits}
}

func guest() context.Context {
	return testutil.As(context.Background(), guestID, "guest")
}

func (h *harness) bookingStatus(t *testing.T) bookingdomain.Status {
	t.Helper()
	booking, err := h.bookings.GetByID(context.Background(), bookingID)
	require.NoError(t, err)
	return booking.Status
}

func TestAuthorizePayPalCapturesGuestTotal(t *testing.T) {
	h := setup(t)
	h.paypal.EXPECT().Authorize(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req paymentdomain.AuthorizeRequest) (paymentdomain.Authorization, error) {
			assert.Equal(t, int64(33780), req.AmountCents)
			assert.Equal(t, "EUR", req.Currency)
			assert.Equal(t, "ORDER-1", req.Credential)
			assert.False(t, req.ManualCapture)
			assert.NotEmpty(t, req.IdempotencyKey)
			assert.Equal(t, bookingID.String(), req.Metadata["booking_id"])
			return paymentdomain.Authorization{
				ExternalRef: "ORDER-1",
				CaptureRef:  "CAP-1",
				Status:      paymentdomain.StatusCaptured,
				AmountCents: req.AmountCents,
			}, nil
		})

	result, err := h.svc.Authorize(guest(), paymentdomain.AuthorizeBookingRequest{
		BookingID:  bookingID.String(),
		Network:    "PayPal",
		Credential: "ORDER-1",
	})
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusConfirmed, result.Booking.Status)
	assert.Equal(t, paymentdomain.StatusCaptured, result.Transaction.Status)
	assert.Equal(t, int64(33780), result.Transaction.AmountCents)
	assert.Equal(t, bookingdomain.StatusConfirmed, h.bookingStatus(t))
	assert.Empty(t, h.deposits.holds, "paypal bookings need an explicit deposit credential")

	txns, err := h.svc.ListForBooking(guest(), bookingID.String())
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "ORDER-1", txns[0].ExternalRef)
	assert.Equal(t, "CAP-1", txns[0].CaptureRef)
	assert.Equal(t, paymentdomain.PurposeBooking, txns[0].Purpose)
}

func TestAuthorizeStripeHoldsDeposit(t *testing.T) {
	h := setup(t)
	h.stripe.EXPECT().Authorize(gomock.Any(), gomock.Any()).
		Return(paymentdomain.Authorization{ExternalRef: "pi_1", CaptureRef: "ch_1", Status: paymentdomain.StatusCaptured, AmountCents: 33780}, nil)

	_, err := h.svc.Authorize(guest(), paymentdomain.AuthorizeBookingRequest{
		BookingID:  bookingID.String(),
		Network:    paymentdomain.NetworkStripe,
		Credential: "pm_card_visa",
	})
	require.NoError(t, err)
	require.Len(t, h.deposits.holds, 1)
	assert.Equal(t, "pm_card_visa", h.deposits.holds[0].Credential)
	assert.Equal(t, bookingID, h.deposits.holds[0].Booking.ID)
	assert.Equal(t, bookingdomain.StatusConfirmed, h.deposits.holds[0].Booking.Status)
}

func TestAuthorizeDepositFailureKeepsBooking(t *testing.T) {
	h := setup(t)
	h.deposits.err = errors.New("card_declined")
	h.paypal.EXPECT().Authorize(gomock.Any(), gomock.Any()).
		Return(paymentdomain.Authorization{ExternalRef: "ORDER-2", Status: paymentdomain.StatusCaptured, AmountCents: 33780}, nil)

	_, err := h.svc.Authorize(guest(), paymentdomain.AuthorizeBookingRequest{
		BookingID:         bookingID.String(),
		Network:           paymentdomain.NetworkPayPal,
		Credential:        "ORDER-2",
		DepositCredential: "pm_card_visa",
	})
	require.NoError(t, err)
	require.Len(t, h.deposits.holds, 1)
	assert.Equal(t, bookingdomain.StatusConfirmed, h.bookingStatus(t))
}

func TestAuthorizePendingCustomerActionLeavesBookingPending(t *testing.T) {
	h := setup(t)
	h.stripe.EXPECT().Authorize(gomock.Any(), gomock.Any()).
		Return(paymentdomain.Authorization{ExternalRef: "pi_3ds", Status: paymentdomain.StatusCreated, ClientSecret: "pi_3ds_secret"}, nil)

	result, err := h.svc.Authorize(guest(), paymentdomain.AuthorizeBookingRequest{
		BookingID:  bookingID.String(),
		Network:    paymentdomain.NetworkStripe,
		Credential: "pm_card_3ds",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_3ds_secret", result.ClientSecret)
	assert.Equal(t, bookingdomain.StatusPending, h.bookingStatus(t))
	assert.Empty(t, h.deposits.holds)
}

func TestAuthorizeDeclineCancelsBooking(t *testing.T) {
	h := setup(t)
	h.paypal.EXPECT().Authorize(gomock.Any(), gomock.Any()).
		Return(paymentdomain.Authorization{}, &paymentdomain.PaymentError{Network: paymentdomain.NetworkPayPal, Reason: "INSTRUMENT_DECLINED"})

	_, err := h.svc.Authorize(guest(), paymentdomain.AuthorizeBookingRequest{
		BookingID:  bookingID.String(),
		Network:    paymentdomain.NetworkPayPal,
		Credential: "ORDER-3",
	})
	var paymentErr *paymentdomain.PaymentError
	require.ErrorAs(t, err, &paymentErr)
	assert.Equal(t, "INSTRUMENT_DECLINED", paymentErr.Reason)
	assert.Equal(t, bookingdomain.StatusCancelled, h.bookingStatus(t))

	txns, err := h.svc.ListForBooking(guest(), bookingID.String())
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.StatusFailed, txns[0].Status)
	assert.Equal(t, "INSTRUMENT_DECLINED", txns[0].FailureReason)
}

func TestAuthorizeNetworkOutageFailsPayment(t *testing.T) {
	h := setup(t)
	h.stripe.EXPECT().Authorize(gomock.Any(), gomock.Any()).
		Return(paymentdomain.Authorization{}, paymentdomain.ErrNetworkUnavailable)

	_, err := h.svc.Authorize(guest(), paymentdomain.AuthorizeBookingRequest{
		BookingID:  bookingID.String(),
		Network:    paymentdomain.NetworkStripe,
		Credential: "pm_card_visa",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentFailed)
	assert.ErrorIs(t, err, paymentdomain.ErrNetworkUnavailable)
	assert.Equal(t, bookingdomain.StatusCancelled, h.bookingStatus(t))
}

func TestAuthorizeAmountMismatchRefundsCapture(t *testing.T) {
	h := setup(t)
	h.paypal.EXPECT().Authorize(gomock.Any(), gomock.Any()).
		Return(paymentdomain.Authorization{ExternalRef: "ORDER-4", CaptureRef: "CAP-4", Status: paymentdomain.StatusCaptured, AmountCents: 30000}, nil)

	_, err := h.svc.Authorize(guest(), paymentdomain.AuthorizeBookingRequest{
		BookingID:  bookingID.String(),
		Network:    paymentdomain.NetworkPayPal,
		Credential: "ORDER-4",
	})
	require.ErrorIs(t, err, paymentdomain.ErrPaymentFailed)
	assert.Equal(t, []int64{30000}, h.refunder.refunds)
	assert.Equal(t, bookingdomain.StatusCancelled, h.bookingStatus(t))

	txns, err := h.svc.ListForBooking(guest(), bookingID.String())
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.StatusRefunded, txns[0].Status)
	assert.Equal(t, "ORDER-4", txns[0].ExternalRef)
	assert.Equal(t, "CAP-4", txns[0].CaptureRef)
	assert.Contains(t, txns[0].FailureReason, "amount_mismatch")
}

func TestAuthorizeAmountMismatchKeepsChargeVisibleWhenRefundFails(t *testing.T) {
	h := setup(t)
	h.refunder.err = paymentdomain.ErrNetworkUnavailable
	h.paypal.EXPECT().Authorize(gomock.Any(), gomock.Any()).
		Return(paymentdomain.Authorization{ExternalRef: "ORDER-5", CaptureRef: "CAP-5", Status: paymentdomain.StatusCaptured, AmountCents: 30000}, nil)

	_, err := h.svc.Authorize(guest(), paymentdomain.AuthorizeBookingRequest{
		BookingID:  bookingID.String(),
		Network:    paymentdomain.NetworkPayPal,
		Credential: "ORDER-5",
	})
	require.ErrorIs(t, err, paymentdomain.ErrPaymentFailed)
	assert.Equal(t, bookingdomain.StatusCancelled, h.bookingStatus(t))

	txns, err := h.svc.ListForBooking(guest(), bookingID.String())
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, paymentdomain.StatusCaptured, txns[0].Status)
	assert.Equal(t, "CAP-5", txns[0].CaptureRef)
	assert.NotEmpty(t, txns[0].FailureReason)
}

func TestAuthorizeAmountWithinToleranceConfirms(t *testing.T) {
	h := setup(t)
	h.paypal.EXPECT().Authorize(gomock.Any(), gomock.Any()).
		Return(paymentdomain.Authorization{ExternalRef: "ORDER-6", CaptureRef: "CAP-6", Status: paymentdomain.StatusCaptured, AmountCents: 33700}, nil)

	_, err := h.svc.Authorize(guest(), paymentdomain.AuthorizeBookingRequest{
		BookingID:  bookingID.String(),
		Network:    paymentdomain.NetworkPayPal,
		Credential: "ORDER-6",
	})
	require.NoError(t, err)
	assert.Empty(t, h.refunder.refunds)
	assert.Equal(t, bookingdomain.StatusConfirmed, h.bookingStatus(t))
}

func TestAuthorizeGuards(t *testing.T) {
	h := setup(t)

	_, err := h.svc.Authorize(context.Background(), paymentdomain.AuthorizeBookingRequest{
		BookingID: bookingID.String(), Network: paymentdomain.NetworkPayPal, Credential: "x",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrUnauthenticated)

	_, err = h.svc.Authorize(guest(), paymentdomain.AuthorizeBookingRequest{
		BookingID: bookingID.String(), Network: "adyen", Credential: "x",
	})
	assert.Error(t, err)

	_, err = h.svc.Authorize(guest(), paymentdomain.AuthorizeBookingRequest{
		BookingID: "nope", Network: paymentdomain.NetworkPayPal, Credential: "x",
	})
	assert.ErrorIs(t, err, bookingdomain.ErrInvalidID)

	_, err = h.svc.Authorize(testutil.As(context.Background(), otherID, "guest"), paymentdomain.AuthorizeBookingRequest{
		BookingID: bookingID.String(), Network: paymentdomain.NetworkPayPal, Credential: "x",
	})
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	_, err = h.bookings.MarkConfirmed(context.Background(), nil, bookingID)
	require.NoError(t, err)
	_, err = h.svc.Authorize(guest(), paymentdomain.AuthorizeBookingRequest{
		BookingID: bookingID.String(), Network: paymentdomain.NetworkPayPal, Credential: "x",
	})
	assert.ErrorIs(t, err, bookingdomain.ErrInvalidStatus)
}

func TestListForBookingVisibility(t *testing.T) {
	h := setup(t)

	txns, err := h.svc.ListForBooking(testutil.As(context.Background(), hostID, "host"), bookingID.String())
	require.NoError(t, err)
	assert.Empty(t, txns)

	_, err = h.svc.ListForBooking(testutil.As(context.Background(), otherID, "guest"), bookingID.String())
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}
