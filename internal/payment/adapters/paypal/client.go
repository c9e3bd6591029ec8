// Package paypal is the immediate-capture network. Guests approve an order
// client-side; authorizing captures it in the same call.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
)

const tokenRefreshMargin = 5 * time.Minute

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	HTTPClient   *http.Client
}

type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	http         *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func New(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		webhookID:    cfg.WebhookID,
		http:         client,
	}
}

func (c *Client) Name() string {
	return paymentdomain.NetworkPayPal
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type captureResource struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   money  `json:"amount"`
	CustomID string `json:"custom_id"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
		Payments struct {
			Captures []captureResource `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

// Authorize captures the approved order named by req.Credential. The
// returned amount is what PayPal captured, which the caller checks against
// the amount it asked for.
func (c *Client) Authorize(ctx context.Context, req paymentdomain.AuthorizeRequest) (paymentdomain.Authorization, error) {
	if req.ManualCapture {
		return paymentdomain.Authorization{}, c.declined("manual_capture_unsupported")
	}
	orderID := strings.TrimSpace(req.Credential)
	if orderID == "" {
		return paymentdomain.Authorization{}, c.declined("missing_order_id")
	}

	var order orderResponse
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", url.PathEscape(orderID))
	if err := c.do(ctx, http.MethodPost, path, req.IdempotencyKey, struct{}{}, &order); err != nil {
		return paymentdomain.Authorization{}, err
	}
	if len(order.PurchaseUnits) == 0 || len(order.PurchaseUnits[0].Payments.Captures) == 0 {
		return paymentdomain.Authorization{}, c.declined("no_capture")
	}

	capture := order.PurchaseUnits[0].Payments.Captures[0]
	captured, err := toCents(capture.Amount.Value)
	if err != nil {
		return paymentdomain.Authorization{}, c.declined("invalid_amount")
	}
	auth := paymentdomain.Authorization{
		ExternalRef: order.ID,
		CaptureRef:  capture.ID,
		AmountCents: captured,
	}
	switch capture.Status {
	case "COMPLETED":
		auth.Status = paymentdomain.StatusCaptured
	case "PENDING":
		auth.Status = paymentdomain.StatusApproved
	default:
		return paymentdomain.Authorization{}, c.declined(strings.ToLower(capture.Status))
	}
	return auth, nil
}

// Capture is a no-op: funds were captured at authorization.
func (c *Client) Capture(ctx context.Context, externalRef string, amountCents int64) (paymentdomain.Capture, error) {
	return paymentdomain.Capture{AmountCents: amountCents}, nil
}

// Refund returns amountCents of a completed capture to the payer.
func (c *Client) Refund(ctx context.Context, captureRef string, amountCents int64, currency, idempotencyKey string) error {
	captureRef = strings.TrimSpace(captureRef)
	if captureRef == "" {
		return c.declined("missing_capture_id")
	}
	body := struct {
		Amount money `json:"amount"`
	}{Amount: money{CurrencyCode: strings.ToUpper(currency), Value: fromCents(amountCents)}}
	path := fmt.Sprintf("/v2/payments/captures/%s/refund", url.PathEscape(captureRef))
	return c.do(ctx, http.MethodPost, path, idempotencyKey, body, nil)
}

// Cancel refuses because there is no open authorization to void.
func (c *Client) Cancel(ctx context.Context, externalRef string) error {
	return paymentdomain.ErrNotCancellable
}

func (c *Client) do(ctx context.Context, method, path, requestID string, body, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: paypal: %v", paymentdomain.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: paypal status %d", paymentdomain.ErrNetworkUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		return c.declined(apiErr.reason(resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	return nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Add(tokenRefreshMargin).Before(c.tokenExpiry) {
		return c.token, nil
	}
	if c.clientID == "" || c.clientSecret == "" {
		return "", fmt.Errorf("%w: paypal credentials not configured", paymentdomain.ErrNetworkUnavailable)
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: paypal token: %v", paymentdomain.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: paypal token status %d", paymentdomain.ErrNetworkUnavailable, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", paymentdomain.ErrInvalidPayload
	}
	c.token = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return c.token, nil
}

func (c *Client) declined(reason string) error {
	return &paymentdomain.PaymentError{Network: paymentdomain.NetworkPayPal, Reason: reason}
}

func (e apiError) reason(status int) string {
	if len(e.Details) > 0 && e.Details[0].Issue != "" {
		return e.Details[0].Issue
	}
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("http_%d", status)
}
