package notification

import (
	"context"
	"fmt"

	"github.com/smallbiznis/stayledger/internal/providers/email"
	"gorm.io/gorm"
)

var subjects = map[Kind]string{
	KindBookingConfirmed:     "Your booking is confirmed",
	KindBookingPaymentFailed: "Your payment could not be completed",
	KindBookingRefunded:      "A refund was issued for your booking",
	KindDepositAuthorized:    "Security deposit hold placed",
	KindDepositCaptured:      "Security deposit charge",
	KindDepositReleased:      "Your security deposit was released",
	KindWalletCredited:       "Payout credited to your wallet",
	KindWalletShortfall:      "Refund exceeded your wallet balance",
}

// EmailNotifier resolves the recipient's address from users and mails the
// rendered notification template.
type EmailNotifier struct {
	db       *gorm.DB
	provider email.Provider
}

func NewEmailNotifier(db *gorm.DB, provider email.Provider) *EmailNotifier {
	return &EmailNotifier{db: db, provider: provider}
}

func (n *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	var row struct {
		Email string `gorm:"column:email"`
	}
	if err := n.db.WithContext(ctx).Raw(
		`SELECT email FROM users WHERE id = ? LIMIT 1`,
		msg.RecipientID,
	).Scan(&row).Error; err != nil {
		return err
	}
	if row.Email == "" {
		return fmt.Errorf("%w: %s", ErrRecipientNotFound, msg.RecipientID)
	}

	subject, ok := subjects[msg.Kind]
	if !ok {
		subject = "StayLedger notification"
	}
	return n.provider.SendTemplate(ctx, []string{row.Email}, "notification", map[string]any{
		"subject":    subject,
		"kind":       string(msg.Kind),
		"booking_id": msg.BookingID.String(),
		"data":       msg.Data,
	})
}
