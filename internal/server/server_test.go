package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/stayledger/internal/auth"
	"github.com/smallbiznis/stayledger/internal/authorization"
	"github.com/smallbiznis/stayledger/internal/availability"
	bookingdomain "github.com/smallbiznis/stayledger/internal/booking/domain"
	"github.com/smallbiznis/stayledger/internal/config"
	depositdomain "github.com/smallbiznis/stayledger/internal/deposit/domain"
	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBookingService struct {
	bookingdomain.Service
	createErr error
	lastActor auth.Actor
}

func (f *fakeBookingService) Create(ctx context.Context, req bookingdomain.CreateBookingRequest) (bookingdomain.Booking, error) {
	f.lastActor, _ = auth.ActorFromContext(ctx)
	if f.createErr != nil {
		return bookingdomain.Booking{}, f.createErr
	}
	return bookingdomain.Booking{ID: 500, Status: bookingdomain.StatusPending}, nil
}

type fakeWebhookService struct {
	result  paymentdomain.IngestResult
	err     error
	network string
	payload []byte
}

func (f *fakeWebhookService) Ingest(ctx context.Context, network string, payload []byte, headers http.Header) (paymentdomain.IngestResult, error) {
	f.network = network
	f.payload = payload
	return f.result, f.err
}

type fakeDepositService struct {
	depositdomain.Service
	captureErr error
	captured   depositdomain.CaptureRequest
}

func (f *fakeDepositService) Capture(ctx context.Context, req depositdomain.CaptureRequest) (depositdomain.SecurityDeposit, error) {
	f.captured = req
	if f.captureErr != nil {
		return depositdomain.SecurityDeposit{}, f.captureErr
	}
	return depositdomain.SecurityDeposit{ID: 900, Status: depositdomain.StatusCaptured}, nil
}

func (f *fakeDepositService) Statement(ctx context.Context, id string) ([]byte, error) {
	return []byte("%PDF-1.4"), nil
}

func newTestServer(t *testing.T, s *Server) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier, err := auth.NewTokenVerifier("test-secret", "stayledger")
	require.NoError(t, err)

	s.engine = gin.New()
	s.engine.Use(ErrorHandlingMiddleware())
	s.verifier = verifier
	s.registerAPIRoutes()
	s.registerWebhookRoutes()
	s.registerInternalRoutes()
	return s.engine
}

func bearer(t *testing.T, s *Server, id snowflake.ID, role string) string {
	t.Helper()
	token, err := s.verifier.Issue(auth.Actor{UserID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestCreateBookingRequiresToken(t *testing.T) {
	bookings := &fakeBookingService{}
	srv := &Server{bookingSvc: bookings}
	engine := newTestServer(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/api/bookings", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
}

func TestCreateBookingPassesActor(t *testing.T) {
	bookings := &fakeBookingService{}
	srv := &Server{bookingSvc: bookings}
	engine := newTestServer(t, srv)

	body := `{"listing_id":"100","start_date":"2026-08-10","end_date":"2026-08-13","guest_count":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/bookings", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, srv, 2, auth.RoleGuest))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, snowflake.ID(2), bookings.lastActor.UserID)
}

func TestCreateBookingConflictCarriesRanges(t *testing.T) {
	conflict := availability.DateRange{
		Start: time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
	}
	bookings := &fakeBookingService{createErr: &bookingdomain.DatesUnavailableError{Conflicts: []availability.DateRange{conflict}}}
	srv := &Server{bookingSvc: bookings}
	engine := newTestServer(t, srv)

	body := `{"listing_id":"100","start_date":"2026-08-12","end_date":"2026-08-13","guest_count":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/bookings", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, srv, 2, auth.RoleGuest))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "DATES_NOT_AVAILABLE", payload.Code)
	require.Len(t, payload.Conflicts, 1)
	assert.True(t, conflict.Start.Equal(payload.Conflicts[0].Start))
}

func TestCaptureDepositUsesPathID(t *testing.T) {
	deposits := &fakeDepositService{captureErr: depositdomain.ErrAmountExceedsAuthorization}
	srv := &Server{depositSvc: deposits}
	engine := newTestServer(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/api/deposits/900/capture",
		bytes.NewBufferString(`{"amount_cents":25000,"reason":"broken lamp"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, srv, 1, auth.RoleHost))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "AMOUNT_EXCEEDS_AUTHORIZATION", decodeError(t, rec).Code)
	assert.Equal(t, "900", deposits.captured.DepositID)
	assert.Equal(t, int64(25000), deposits.captured.AmountCents)
}

func TestDepositStatementServesPDF(t *testing.T) {
	srv := &Server{depositSvc: &fakeDepositService{}}
	engine := newTestServer(t, srv)

	req := httptest.NewRequest(http.MethodGet, "/api/deposits/900/statement.pdf", nil)
	req.Header.Set("Authorization", bearer(t, srv, 1, auth.RoleHost))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "deposit-900.pdf")
}

func TestWebhookAcknowledgesDuplicates(t *testing.T) {
	webhooks := &fakeWebhookService{result: paymentdomain.IngestResult{EventID: "WH-1", Duplicate: true}}
	srv := &Server{webhookSvc: webhooks}
	engine := newTestServer(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/PayPal", bytes.NewBufferString(`{"id":"WH-1"}`))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paypal", webhooks.network)
	assert.JSONEq(t, `{"id":"WH-1"}`, string(webhooks.payload))

	var body struct {
		Received  bool `json:"received"`
		Duplicate bool `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Received)
	assert.True(t, body.Duplicate)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	webhooks := &fakeWebhookService{err: paymentdomain.ErrInvalidSignature}
	srv := &Server{webhookSvc: webhooks}
	engine := newTestServer(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", decodeError(t, rec).Code)
}

func TestCronRequiresSecret(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{name: "unset secret", secret: "", header: "Bearer anything", want: http.StatusUnauthorized},
		{name: "missing header", secret: "s3cret", header: "", want: http.StatusUnauthorized},
		{name: "wrong secret", secret: "s3cret", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "no scheduler", secret: "s3cret", header: "Bearer s3cret", want: http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := &Server{cfg: config.Config{CronSecret: tc.secret}}
			engine := newTestServer(t, srv)

			req := httptest.NewRequest(http.MethodPost, "/internal/cron/security-deposits", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestMapError(t *testing.T) {
	type sample struct {
		AmountCents int64 `validate:"gt=0"`
	}
	fieldErr := validator.New().Struct(sample{})
	require.Error(t, fieldErr)

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"declined", &paymentdomain.PaymentError{Network: "paypal", Reason: "INSTRUMENT_DECLINED"}, http.StatusPaymentRequired, "PAYMENT_DECLINED"},
		{"network outage", fmt.Errorf("%w: %w", paymentdomain.ErrPaymentFailed, paymentdomain.ErrNetworkUnavailable), http.StatusPaymentRequired, "PAYMENT_FAILED"},
		{"capture state", &depositdomain.InvalidStateError{From: depositdomain.StatusReleased, Op: "capture"}, http.StatusConflict, "DEPOSIT_NOT_CAPTURABLE"},
		{"release state", &depositdomain.InvalidStateError{From: depositdomain.StatusReleased, Op: "release"}, http.StatusConflict, "DEPOSIT_NOT_RELEASABLE"},
		{"justification", depositdomain.ErrMissingJustification, http.StatusBadRequest, "MISSING_JUSTIFICATION"},
		{"capacity", bookingdomain.ErrCapacityExceeded, http.StatusBadRequest, "CAPACITY_EXCEEDED"},
		{"stay length", bookingdomain.ErrStayLength, http.StatusBadRequest, "STAY_LENGTH_VIOLATION"},
		{"not eligible", &bookingdomain.NotEligibleError{Reasons: []string{"ID_NOT_VERIFIED"}}, http.StatusBadRequest, "NOT_ELIGIBLE"},
		{"booking status", bookingdomain.ErrInvalidStatus, http.StatusConflict, "INVALID_BOOKING_STATUS"},
		{"amount mismatch", paymentdomain.ErrAmountMismatch, http.StatusUnprocessableEntity, "AMOUNT_MISMATCH"},
		{"validator", fieldErr, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"forbidden", authorization.ErrForbidden, http.StatusForbidden, ""},
		{"not found", fmt.Errorf("load: %w", bookingdomain.ErrNotFound), http.StatusNotFound, ""},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, ""},
		{"network down", paymentdomain.ErrNetworkUnavailable, http.StatusServiceUnavailable, ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, payload.Code)
		})
	}
}

func TestMapErrorFieldNames(t *testing.T) {
	type sample struct {
		AmountCents int64 `validate:"gt=0"`
	}
	_, payload := mapError(validator.New().Struct(sample{}))
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "amount_cents", payload.Errors[0].Field)
	assert.Equal(t, "gt", payload.Errors[0].Code)
}

func TestPaymentFailureReasonSurfaced(t *testing.T) {
	_, payload := mapError(&paymentdomain.PaymentError{Network: "stripe", Reason: "card_declined"})
	assert.Equal(t, "card_declined", payload.Reason)

	_, payload = mapError(fmt.Errorf("%w: %w", paymentdomain.ErrPaymentFailed, paymentdomain.ErrNetworkUnavailable))
	assert.Equal(t, "network_unavailable", payload.Reason)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(0))
	assert.Equal(t, "1", retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, "3", retryAfterSeconds(2100*time.Millisecond))
}
