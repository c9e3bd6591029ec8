package payment

import (
	"net/http"

	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/internal/observability/tracing"
	"github.com/smallbiznis/stayledger/internal/payment/adapters"
	"github.com/smallbiznis/stayledger/internal/payment/adapters/paypal"
	"github.com/smallbiznis/stayledger/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
	"github.com/smallbiznis/stayledger/internal/payment/repository"
	paymentservice "github.com/smallbiznis/stayledger/internal/payment/service"
	"github.com/smallbiznis/stayledger/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewRegistry),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)

// NewRegistry builds the PayPal and Stripe clients from configuration.
func NewRegistry(cfg config.Config) *adapters.Registry {
	httpClient := tracing.WrapHTTPClient(&http.Client{Timeout: cfg.Payment.HTTPTimeout})

	paypalClient := paypal.New(paypal.Config{
		BaseURL:      cfg.Payment.PayPalBaseURL,
		ClientID:     cfg.Payment.PayPalClientID,
		ClientSecret: cfg.Payment.PayPalClientSecret,
		WebhookID:    cfg.Payment.PayPalWebhookID,
		HTTPClient:   httpClient,
	})
	stripeCfg := stripe.Config{
		BaseURL:       cfg.Payment.StripeBaseURL,
		SecretKey:     cfg.Payment.StripeSecretKey,
		WebhookSecret: cfg.Payment.StripeWebhookSecret,
		HTTPClient:    httpClient,
	}

	return adapters.NewRegistry(
		[]paymentdomain.Network{paypalClient, stripe.New(stripeCfg)},
		[]paymentdomain.WebhookAdapter{paypal.NewWebhook(paypalClient), stripe.NewWebhook(stripeCfg)},
	)
}
