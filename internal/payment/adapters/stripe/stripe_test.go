package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedHeader(secret string, payload []byte, ts time.Time) http.Header {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	header := http.Header{}
	header.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", stamp, Sign(secret, stamp, payload)))
	return header
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"charge.succeeded","data":{"object":{}}}`)
	now := time.Now()

	hook := NewWebhook(Config{WebhookSecret: secret})
	require.NoError(t, hook.Verify(context.Background(), payload, signedHeader(secret, payload, now)))

	err := hook.Verify(context.Background(), payload, signedHeader("wrong", payload, now))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	err = hook.Verify(context.Background(), payload, signedHeader(secret, payload, now.Add(-10*time.Minute)))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature, "stale timestamp")

	err = hook.Verify(context.Background(), payload, http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature, "missing header")

	unconfigured := NewWebhook(Config{})
	err = unconfigured.Verify(context.Background(), payload, signedHeader("", payload, now))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature, "no secret configured")
}

func TestParseEvents(t *testing.T) {
	created := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC).Unix()

	tests := []struct {
		name       string
		event      map[string]any
		kind       paymentdomain.EventKind
		amount     int64
		externalID string
		captureID  string
		refundID   string
	}{{
		name: "payment_intent.succeeded",
		event: map[string]any{
			"id": "evt_pi", "type": "payment_intent.succeeded", "created": created,
			"data": map[string]any{"object": map[string]any{
				"id": "pi_1", "amount": 20000, "amount_received": 5000, "currency": "eur",
				"latest_charge": "ch_1",
				"metadata":      map[string]any{"booking_id": "1234"},
			}},
		},
		kind: paymentdomain.EventCaptureCompleted, amount: 5000, externalID: "pi_1", captureID: "ch_1",
	}, {
		name: "payment_intent.amount_capturable_updated",
		event: map[string]any{
			"id": "evt_hold", "type": "payment_intent.amount_capturable_updated", "created": created,
			"data": map[string]any{"object": map[string]any{
				"id": "pi_2", "amount": 20000, "amount_capturable": 20000, "currency": "eur",
			}},
		},
		kind: paymentdomain.EventOrderApproved, amount: 20000, externalID: "pi_2",
	}, {
		name: "payment_intent.payment_failed",
		event: map[string]any{
			"id": "evt_fail", "type": "payment_intent.payment_failed", "created": created,
			"data": map[string]any{"object": map[string]any{"id": "pi_3", "amount": 900, "currency": "eur"}},
		},
		kind: paymentdomain.EventCaptureDenied, amount: 900, externalID: "pi_3",
	}, {
		name: "charge.refunded",
		event: map[string]any{
			"id": "evt_refund", "type": "charge.refunded", "created": created,
			"data": map[string]any{"object": map[string]any{
				"id": "ch_9", "payment_intent": "pi_9", "amount": 33780, "amount_refunded": 20000, "currency": "eur",
				"refunds": map[string]any{"data": []any{
					map[string]any{"id": "re_2", "amount": 10000},
					map[string]any{"id": "re_1", "amount": 10000},
				}},
			}},
		},
		kind: paymentdomain.EventCaptureRefunded, amount: 10000, externalID: "pi_9", captureID: "ch_9", refundID: "re_2",
	}, {
		name: "customer.created",
		event: map[string]any{
			"id": "evt_other", "type": "customer.created", "created": created,
			"data": map[string]any{"object": map[string]any{"id": "cus_1"}},
		},
		kind: paymentdomain.EventUnknown,
	}}

	hook := NewWebhook(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			require.NoError(t, err)

			event, err := hook.Parse(context.Background(), payload)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, event.Kind)
			assert.Equal(t, tt.amount, event.AmountCents)
			assert.Equal(t, tt.externalID, event.ExternalRef)
			assert.Equal(t, tt.captureID, event.CaptureRef)
			assert.Equal(t, tt.refundID, event.RefundRef)
			assert.Equal(t, created, event.OccurredAt.Unix())
		})
	}
}

func TestParseRejectsMalformedPayload(t *testing.T) {
	hook := NewWebhook(Config{})

	_, err := hook.Parse(context.Background(), []byte("{"))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = hook.Parse(context.Background(), []byte(`{"type":"charge.refunded"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}

func TestAuthorizeManualCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "deposit-42", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "20000", r.PostForm.Get("amount"))
		assert.Equal(t, "eur", r.PostForm.Get("currency"))
		assert.Equal(t, "manual", r.PostForm.Get("capture_method"))
		assert.Equal(t, "42", r.PostForm.Get("metadata[booking_id]"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "pi_hold", "status": "requires_capture", "amount": 20000,
		})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, SecretKey: "sk_test"})
	auth, err := client.Authorize(context.Background(), paymentdomain.AuthorizeRequest{
		AmountCents:    20000,
		Currency:       "EUR",
		Credential:     "pm_card_visa",
		ManualCapture:  true,
		IdempotencyKey: "deposit-42",
		Metadata:       map[string]string{"booking_id": "42"},
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusApproved, auth.Status)
	assert.Equal(t, "pi_hold", auth.ExternalRef)
	assert.Equal(t, int64(20000), auth.AmountCents)
}

func TestAuthorizeDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds"}}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, SecretKey: "sk_test"})
	_, err := client.Authorize(context.Background(), paymentdomain.AuthorizeRequest{
		AmountCents: 33780, Currency: "EUR", Credential: "pm_card_chargeDeclined",
	})

	var paymentErr *paymentdomain.PaymentError
	require.ErrorAs(t, err, &paymentErr)
	assert.Equal(t, "insufficient_funds", paymentErr.Reason)
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentFailed)
}

func TestAuthorizeServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, SecretKey: "sk_test"})
	_, err := client.Authorize(context.Background(), paymentdomain.AuthorizeRequest{
		AmountCents: 100, Currency: "EUR", Credential: "pm_card_visa",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrNetworkUnavailable)
}

func TestCaptureAndCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payment_intents/pi_hold/capture":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "5000", r.PostForm.Get("amount_to_capture"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "pi_hold", "status": "succeeded", "amount_received": 5000, "latest_charge": "ch_hold",
			})
		case "/v1/payment_intents/pi_other/cancel":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "pi_other", "status": "canceled"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, SecretKey: "sk_test"})

	capture, err := client.Capture(context.Background(), "pi_hold", 5000)
	require.NoError(t, err)
	assert.Equal(t, "ch_hold", capture.CaptureRef)
	assert.Equal(t, int64(5000), capture.AmountCents)

	require.NoError(t, client.Cancel(context.Background(), "pi_other"))
}
