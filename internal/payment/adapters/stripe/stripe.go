// Package stripe is the two-phase network. Manual-capture payment intents
// hold funds until Capture or Cancel.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
)

type Config struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	// Tolerance bounds the age of a signed webhook timestamp.
	Tolerance  time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func New(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		http:      client,
	}
}

func (c *Client) Name() string {
	return paymentdomain.NetworkStripe
}

type paymentIntent struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	AmountCapturable int64             `json:"amount_capturable"`
	AmountReceived   int64             `json:"amount_received"`
	Currency         string            `json:"currency"`
	ClientSecret     string            `json:"client_secret"`
	LatestCharge     string            `json:"latest_charge"`
	Created          int64             `json:"created"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"last_payment_error"`
}

type apiError struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

func (c *Client) Authorize(ctx context.Context, req paymentdomain.AuthorizeRequest) (paymentdomain.Authorization, error) {
	method := strings.TrimSpace(req.Credential)
	if method == "" {
		return paymentdomain.Authorization{}, c.declined("missing_payment_method")
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("payment_method", method)
	form.Set("confirm", "true")
	if req.ManualCapture {
		form.Set("capture_method", "manual")
	} else {
		form.Set("capture_method", "automatic")
	}
	keys := make([]string, 0, len(req.Metadata))
	for k := range req.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set(fmt.Sprintf("metadata[%s]", k), req.Metadata[k])
	}

	var intent paymentIntent
	if err := c.post(ctx, "/v1/payment_intents", req.IdempotencyKey, form, &intent); err != nil {
		return paymentdomain.Authorization{}, err
	}

	auth := paymentdomain.Authorization{
		ExternalRef:  intent.ID,
		AmountCents:  intent.Amount,
		ClientSecret: intent.ClientSecret,
	}
	switch intent.Status {
	case "requires_capture":
		auth.Status = paymentdomain.StatusApproved
	case "succeeded":
		auth.Status = paymentdomain.StatusCaptured
		auth.CaptureRef = intent.LatestCharge
		auth.AmountCents = intent.AmountReceived
	case "requires_action", "processing":
		// Confirmation continues client-side; the webhook settles it.
		auth.Status = paymentdomain.StatusCreated
	default:
		return paymentdomain.Authorization{}, c.declined(intentFailure(intent))
	}
	return auth, nil
}

// Capture captures up to amountCents of a manual-capture intent. The rest of
// the authorization is released by the network.
func (c *Client) Capture(ctx context.Context, externalRef string, amountCents int64) (paymentdomain.Capture, error) {
	form := url.Values{}
	form.Set("amount_to_capture", strconv.FormatInt(amountCents, 10))

	var intent paymentIntent
	path := fmt.Sprintf("/v1/payment_intents/%s/capture", url.PathEscape(externalRef))
	if err := c.post(ctx, path, "capture-"+externalRef, form, &intent); err != nil {
		return paymentdomain.Capture{}, err
	}
	if intent.Status != "succeeded" {
		return paymentdomain.Capture{}, c.declined(intentFailure(intent))
	}
	return paymentdomain.Capture{CaptureRef: intent.LatestCharge, AmountCents: intent.AmountReceived}, nil
}

func (c *Client) Cancel(ctx context.Context, externalRef string) error {
	var intent paymentIntent
	path := fmt.Sprintf("/v1/payment_intents/%s/cancel", url.PathEscape(externalRef))
	if err := c.post(ctx, path, "cancel-"+externalRef, url.Values{}, &intent); err != nil {
		return err
	}
	if intent.Status != "canceled" {
		return c.declined("cancel_" + intent.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, form url.Values, out any) error {
	if c.secretKey == "" {
		return fmt.Errorf("%w: stripe secret key not configured", paymentdomain.ErrNetworkUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: stripe: %v", paymentdomain.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: stripe status %d", paymentdomain.ErrNetworkUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		return c.declined(apiErr.reason(resp.StatusCode))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	return nil
}

func (c *Client) declined(reason string) error {
	return &paymentdomain.PaymentError{Network: paymentdomain.NetworkStripe, Reason: reason}
}

func (e apiError) reason(status int) string {
	switch {
	case e.Error.DeclineCode != "":
		return e.Error.DeclineCode
	case e.Error.Code != "":
		return e.Error.Code
	case e.Error.Type != "":
		return e.Error.Type
	default:
		return fmt.Sprintf("http_%d", status)
	}
}

func intentFailure(intent paymentIntent) string {
	if intent.LastPaymentError != nil {
		if intent.LastPaymentError.DeclineCode != "" {
			return intent.LastPaymentError.DeclineCode
		}
		if intent.LastPaymentError.Code != "" {
			return intent.LastPaymentError.Code
		}
	}
	return intent.Status
}
