package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Wallet is the materialized balance of a host's ledger entries.
type Wallet struct {
	HostID       snowflake.ID `gorm:"primaryKey" json:"host_id"`
	BalanceCents int64        `gorm:"not null" json:"balance_cents"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Entry is an immutable ledger posting. Reason is unique per host and keys
// idempotent retries.
type Entry struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	HostID     snowflake.ID `gorm:"not null" json:"host_id"`
	BookingID  snowflake.ID `gorm:"not null" json:"booking_id"`
	DeltaCents int64        `gorm:"not null" json:"delta_cents"`
	Reason     string       `gorm:"not null" json:"reason"`
	CreatedAt  time.Time    `json:"created_at"`
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Result describes the effect of a posting. Duplicate postings return the
// entry recorded by the first call and leave the balance untouched.
type Result struct {
	Entry          Entry `json:"entry"`
	BalanceCents   int64 `json:"balance_cents"`
	ShortfallCents int64 `json:"shortfall_cents"`
	Duplicate      bool  `json:"duplicate"`
}

// Reconciliation compares the materialized balance with the entry sum.
type Reconciliation struct {
	HostID       snowflake.ID `json:"host_id"`
	BalanceCents int64        `json:"balance_cents"`
	LedgerCents  int64        `json:"ledger_cents"`
	EntryCount   int64        `json:"entry_count"`
}

func (r Reconciliation) Balanced() bool {
	return r.BalanceCents == r.LedgerCents
}

func BookingCreditReason(bookingID snowflake.ID) string {
	return "booking_credit:" + bookingID.String()
}

func RefundDebitReason(bookingID snowflake.ID, refundRef string) string {
	return "refund_booking:" + bookingID.String() + ":" + refundRef
}
