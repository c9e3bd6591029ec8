// Package notification delivers domain events to guests and hosts. Delivery
// is best effort: failures are logged and never roll back financial state.
package notification

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Kind string

const (
	KindBookingConfirmed     Kind = "booking.confirmed"
	KindBookingPaymentFailed Kind = "booking.payment_failed"
	KindBookingRefunded      Kind = "booking.refunded"
	KindDepositAuthorized    Kind = "deposit.authorized"
	KindDepositCaptured      Kind = "deposit.captured"
	KindDepositReleased      Kind = "deposit.released"
	KindWalletCredited       Kind = "wallet.credited"
	KindWalletShortfall      Kind = "wallet.shortfall"
)

type Message struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	RecipientID snowflake.ID   `json:"recipient_id"`
	BookingID   snowflake.ID   `json:"booking_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Dispatcher stamps messages and swallows delivery errors after logging them.
type Dispatcher struct {
	notifier Notifier
	log      *zap.Logger
	timeout  time.Duration
}

func NewDispatcher(notifier Notifier, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		log:      log.Named("notification"),
		timeout:  5 * time.Second,
	}
}

func (d *Dispatcher) Send(ctx context.Context, msg Message) {
	if d == nil || d.notifier == nil {
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}

	// The request may already be finishing; delivery gets its own deadline.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.notifier.Notify(sendCtx, msg); err != nil {
		d.log.Warn("notification.failed",
			zap.String("kind", string(msg.Kind)),
			zap.String("recipient_id", msg.RecipientID.String()),
			zap.Error(err),
		)
	}
}

// LogNotifier writes messages to the structured log only.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notification")}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.log.Info("notification.sent",
		zap.String("id", msg.ID),
		zap.String("kind", string(msg.Kind)),
		zap.String("recipient_id", msg.RecipientID.String()),
		zap.String("booking_id", msg.BookingID.String()),
		zap.Any("data", msg.Data),
	)
	return nil
}

// Fanout delivers to every notifier and returns the joined errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}
