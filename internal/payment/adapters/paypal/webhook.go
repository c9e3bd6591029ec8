package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
)

var signatureHeaders = []string{
	"Paypal-Auth-Algo",
	"Paypal-Cert-Url",
	"Paypal-Transmission-Id",
	"Paypal-Transmission-Sig",
	"Paypal-Transmission-Time",
}

// Webhook verifies PayPal notifications through the verify-webhook-signature
// API and normalizes them.
type Webhook struct {
	client *Client
}

func NewWebhook(client *Client) *Webhook {
	return &Webhook{client: client}
}

func (w *Webhook) Network() string {
	return paymentdomain.NetworkPayPal
}

func (w *Webhook) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	values := make([]string, 0, len(signatureHeaders))
	for _, name := range signatureHeaders {
		value := strings.TrimSpace(headers.Get(name))
		if value == "" {
			return paymentdomain.ErrInvalidSignature
		}
		values = append(values, value)
	}
	if w.client == nil || w.client.webhookID == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	body := map[string]any{
		"auth_algo":         values[0],
		"cert_url":          values[1],
		"transmission_id":   values[2],
		"transmission_sig":  values[3],
		"transmission_time": values[4],
		"webhook_id":        w.client.webhookID,
		"webhook_event":     json.RawMessage(payload),
	}
	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := w.client.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", "", body, &result); err != nil {
		return err
	}
	if result.VerificationStatus != "SUCCESS" {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type webhookEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime string          `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

type webhookResource struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Amount            *money `json:"amount"`
	CustomID          string `json:"custom_id"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID   string `json:"order_id"`
			CaptureID string `json:"capture_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
		Amount   *money `json:"amount"`
	} `json:"purchase_units"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

func (w *Webhook) Parse(ctx context.Context, payload []byte) (*paymentdomain.Event, error) {
	var raw webhookEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	event := &paymentdomain.Event{
		Network:    paymentdomain.NetworkPayPal,
		EventID:    raw.ID,
		RawType:    raw.EventType,
		Kind:       paymentdomain.EventUnknown,
		OccurredAt: parseTime(raw.CreateTime),
		Payload:    payload,
	}

	var resource webhookResource
	if len(raw.Resource) > 0 {
		if err := json.Unmarshal(raw.Resource, &resource); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
	}

	switch raw.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		event.Kind = paymentdomain.EventCaptureCompleted
		event.CaptureRef = resource.ID
		event.ExternalRef = resource.SupplementaryData.RelatedIDs.OrderID
		event.BookingID = parseBookingID(resource.CustomID)
	case "PAYMENT.CAPTURE.DENIED":
		event.Kind = paymentdomain.EventCaptureDenied
		event.CaptureRef = resource.ID
		event.ExternalRef = resource.SupplementaryData.RelatedIDs.OrderID
		event.BookingID = parseBookingID(resource.CustomID)
	case "PAYMENT.CAPTURE.REFUNDED":
		// The resource is the refund; the capture is its "up" link.
		event.Kind = paymentdomain.EventCaptureRefunded
		event.RefundRef = resource.ID
		event.CaptureRef = resource.SupplementaryData.RelatedIDs.CaptureID
		if event.CaptureRef == "" {
			event.CaptureRef = upLinkID(resource)
		}
		event.ExternalRef = resource.SupplementaryData.RelatedIDs.OrderID
		event.BookingID = parseBookingID(resource.CustomID)
	case "CHECKOUT.ORDER.APPROVED":
		event.Kind = paymentdomain.EventOrderApproved
		event.ExternalRef = resource.ID
		if len(resource.PurchaseUnits) > 0 {
			event.BookingID = parseBookingID(resource.PurchaseUnits[0].CustomID)
			if resource.Amount == nil {
				resource.Amount = resource.PurchaseUnits[0].Amount
			}
		}
	default:
		return event, nil
	}

	if resource.Amount != nil {
		cents, err := toCents(resource.Amount.Value)
		if err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		event.AmountCents = cents
		event.Currency = strings.ToUpper(resource.Amount.CurrencyCode)
	}
	return event, nil
}

func upLinkID(resource webhookResource) string {
	for _, link := range resource.Links {
		if link.Rel != "up" {
			continue
		}
		href := strings.TrimRight(link.Href, "/")
		if i := strings.LastIndex(href, "/"); i >= 0 {
			return href[i+1:]
		}
	}
	return ""
}

func parseBookingID(value string) snowflake.ID {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return id
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}
