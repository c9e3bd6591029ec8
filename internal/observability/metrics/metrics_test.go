package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("network", "stripe"),
		attribute.String("booking_id", "456"),
		attribute.String("event_kind", "capture_completed"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "booking_id" {
			t.Fatalf("expected booking_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordBooking(context.Background(), "created")
	m.RecordPaymentEvent(context.Background(), "paypal", "capture_completed")
	m.RecordWalletEntry(context.Background(), "credit")
	m.RecordDepositTransition(context.Background(), "AUTHORIZED", "RELEASED")
	m.RecordRateLimitDenied(context.Background(), "webhook", "exhausted")
}
