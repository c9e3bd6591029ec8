package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
)

const defaultTolerance = 5 * time.Minute

type Webhook struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewWebhook(cfg Config) *Webhook {
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &Webhook{
		secret:    strings.TrimSpace(cfg.WebhookSecret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

func (w *Webhook) Network() string {
	return paymentdomain.NetworkStripe
}

func (w *Webhook) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" || w.secret == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if age := w.now().Sub(time.Unix(unix, 0)); age > w.tolerance || age < -w.tolerance {
		return paymentdomain.ErrInvalidSignature
	}

	expected := Sign(w.secret, timestamp, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

// Sign computes the v1 signature of payload at timestamp.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%s.%s", timestamp, payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCharge struct {
	ID             string            `json:"id"`
	PaymentIntent  string            `json:"payment_intent"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
	Refunds        struct {
		Data []struct {
			ID     string `json:"id"`
			Amount int64  `json:"amount"`
		} `json:"data"`
	} `json:"refunds"`
}

func (w *Webhook) Parse(ctx context.Context, payload []byte) (*paymentdomain.Event, error) {
	var raw stripeEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	event := &paymentdomain.Event{
		Network:    paymentdomain.NetworkStripe,
		EventID:    raw.ID,
		RawType:    raw.Type,
		Kind:       paymentdomain.EventUnknown,
		OccurredAt: timestamp(raw.Created),
		Payload:    payload,
	}

	switch raw.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.amount_capturable_updated":
		var intent paymentIntent
		if err := json.Unmarshal(raw.Data.Object, &intent); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		event.ExternalRef = intent.ID
		event.CaptureRef = intent.LatestCharge
		event.Currency = strings.ToUpper(intent.Currency)
		event.BookingID = bookingID(intent.Metadata)
		switch raw.Type {
		case "payment_intent.succeeded":
			event.Kind = paymentdomain.EventCaptureCompleted
			event.AmountCents = intent.AmountReceived
		case "payment_intent.payment_failed":
			event.Kind = paymentdomain.EventCaptureDenied
			event.AmountCents = intent.Amount
		default:
			event.Kind = paymentdomain.EventOrderApproved
			event.AmountCents = intent.AmountCapturable
		}
	case "charge.refunded":
		var charge stripeCharge
		if err := json.Unmarshal(raw.Data.Object, &charge); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		event.Kind = paymentdomain.EventCaptureRefunded
		event.ExternalRef = charge.PaymentIntent
		event.CaptureRef = charge.ID
		event.Currency = strings.ToUpper(charge.Currency)
		event.BookingID = bookingID(charge.Metadata)
		// refunds.data is newest first; amount_refunded is cumulative.
		if len(charge.Refunds.Data) > 0 {
			event.RefundRef = charge.Refunds.Data[0].ID
			event.AmountCents = charge.Refunds.Data[0].Amount
		} else {
			event.AmountCents = charge.AmountRefunded
		}
	}
	return event, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			timestamp = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func bookingID(metadata map[string]string) snowflake.ID {
	id, err := snowflake.ParseString(strings.TrimSpace(metadata["booking_id"]))
	if err != nil {
		return 0
	}
	return id
}

func timestamp(unix int64) time.Time {
	if unix == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unix, 0).UTC()
}
