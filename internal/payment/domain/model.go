package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	NetworkPayPal = "paypal"
	NetworkStripe = "stripe"
)

type Purpose string

const (
	PurposeBooking Purpose = "booking"
	PurposeDeposit Purpose = "deposit"
)

type TransactionStatus string

const (
	StatusCreated  TransactionStatus = "CREATED"
	StatusApproved TransactionStatus = "APPROVED"
	StatusCaptured TransactionStatus = "CAPTURED"
	StatusRefunded TransactionStatus = "REFUNDED"
	StatusFailed   TransactionStatus = "FAILED"
)

// Transaction is one authorization attempt against a payment network.
type Transaction struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	BookingID     snowflake.ID      `gorm:"not null;index" json:"booking_id"`
	Network       string            `gorm:"not null" json:"network"`
	Purpose       Purpose           `gorm:"not null" json:"purpose"`
	ExternalRef   string            `json:"external_ref,omitempty"`
	CaptureRef    string            `json:"capture_ref,omitempty"`
	AmountCents   int64             `gorm:"not null" json:"amount_cents"`
	Currency      string            `gorm:"not null" json:"currency"`
	Status        TransactionStatus `gorm:"not null" json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// ProcessedEvent records the first sighting of a webhook event id.
type ProcessedEvent struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	Network     string         `gorm:"not null" json:"network"`
	EventID     string         `gorm:"not null" json:"event_id"`
	EventType   string         `gorm:"not null" json:"event_type"`
	Payload     datatypes.JSON `json:"payload"`
	ReceivedAt  time.Time      `json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at"`
}

// EventKind is the closed set of webhook events the engine reacts to.
type EventKind string

const (
	EventCaptureCompleted EventKind = "capture_completed"
	EventCaptureRefunded  EventKind = "capture_refunded"
	EventCaptureDenied    EventKind = "capture_denied"
	EventOrderApproved    EventKind = "order_approved"
	EventUnknown          EventKind = "unknown"
)

// Event is a webhook normalized by a network adapter.
type Event struct {
	Network string
	EventID string
	RawType string
	Kind    EventKind

	// ExternalRef is the order or payment intent id the transaction was
	// stored under. CaptureRef identifies the capture; RefundRef the refund.
	ExternalRef string
	CaptureRef  string
	RefundRef   string
	// BookingID comes from metadata attached at authorization time.
	BookingID snowflake.ID

	AmountCents int64
	Currency    string
	OccurredAt  time.Time
	Payload     []byte
}

// Correlated reports whether the event names a network reference.
func (e Event) Correlated() bool {
	return e.ExternalRef != "" || e.CaptureRef != ""
}
