package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	bookingdomain "github.com/smallbiznis/stayledger/internal/booking/domain"
)

type AuthorizeBookingRequest struct {
	BookingID  string `json:"-"`
	Network    string `json:"network" validate:"required,oneof=paypal stripe"`
	Credential string `json:"credential" validate:"required"`
	// DepositCredential is a Stripe payment method for the deposit hold.
	// Stripe bookings fall back to Credential.
	DepositCredential string `json:"deposit_credential"`
}

type AuthorizeBookingResult struct {
	Booking      bookingdomain.Booking `json:"booking"`
	Transaction  Transaction           `json:"transaction"`
	ClientSecret string                `json:"client_secret,omitempty"`
}

type Service interface {
	Authorize(ctx context.Context, req AuthorizeBookingRequest) (AuthorizeBookingResult, error)
	ListForBooking(ctx context.Context, bookingID string) ([]Transaction, error)
}

// IngestResult reports what a webhook delivery did. Duplicate deliveries and
// events for unknown transactions are acknowledged without effect.
type IngestResult struct {
	EventID        string    `json:"event_id"`
	Kind           EventKind `json:"kind"`
	Duplicate      bool      `json:"duplicate"`
	Ignored        bool      `json:"ignored"`
	ShortfallCents int64     `json:"shortfall_cents,omitempty"`
}

type WebhookService interface {
	Ingest(ctx context.Context, network string, payload []byte, headers http.Header) (IngestResult, error)
}

var (
	ErrPaymentFailed      = errors.New("payment_failed")
	ErrDuplicateEvent     = errors.New("duplicate_event")
	ErrUnknownNetwork     = errors.New("unknown_network")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrInvalidEvent       = errors.New("invalid_event")
	ErrAmountMismatch     = errors.New("amount_mismatch")
	ErrUncorrelatedRefund = errors.New("uncorrelated_refund")
	ErrNotCancellable     = errors.New("not_cancellable")
	ErrNetworkUnavailable = errors.New("network_unavailable")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

// PaymentError is an authorization the network declined or could not
// complete.
type PaymentError struct {
	Network string
	Reason  string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrPaymentFailed.Error(), e.Network, e.Reason)
}

func (e *PaymentError) Unwrap() error { return ErrPaymentFailed }

// FailureReason extracts the network reason from err for persistence.
func FailureReason(err error) string {
	var paymentErr *PaymentError
	if errors.As(err, &paymentErr) {
		return paymentErr.Reason
	}
	if errors.Is(err, ErrNotCancellable) {
		return ErrNotCancellable.Error()
	}
	return ErrNetworkUnavailable.Error()
}
