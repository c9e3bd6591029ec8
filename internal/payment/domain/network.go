package domain

import (
	"context"
	"net/http"
)

//go:generate mockgen -source=network.go -destination=./mocks/mock_network.go -package=mocks

type AuthorizeRequest struct {
	AmountCents int64
	Currency    string
	// Credential is the network-side payment instrument: an approved order
	// id for PayPal, a payment method id for Stripe.
	Credential     string
	ManualCapture  bool
	IdempotencyKey string
	Metadata       map[string]string
}

type Authorization struct {
	ExternalRef  string
	CaptureRef   string
	Status       TransactionStatus
	AmountCents  int64
	ClientSecret string
}

type Capture struct {
	CaptureRef  string
	AmountCents int64
}

// Network is a payment network. Immediate-capture networks treat Capture
// as a no-op and refuse Cancel.
type Network interface {
	Name() string
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
	Capture(ctx context.Context, externalRef string, amountCents int64) (Capture, error)
	Cancel(ctx context.Context, externalRef string) error
}

// Refunder returns captured funds. Immediate-capture networks implement it
// so a capture the booking cannot keep is sent back.
type Refunder interface {
	Refund(ctx context.Context, captureRef string, amountCents int64, currency, idempotencyKey string) error
}

// WebhookAdapter authenticates and normalizes a network's webhooks.
type WebhookAdapter interface {
	Network() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}
