package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/availability"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

type Booking struct {
	ID                  snowflake.ID `gorm:"primaryKey" json:"id"`
	Reference           string       `gorm:"not null;uniqueIndex" json:"reference"`
	ListingID           snowflake.ID `gorm:"not null;index" json:"listing_id"`
	GuestID             snowflake.ID `gorm:"not null;index" json:"guest_id"`
	HostID              snowflake.ID `gorm:"not null;index" json:"host_id"`
	StartDate           time.Time    `gorm:"not null" json:"start_date"`
	EndDate             time.Time    `gorm:"not null" json:"end_date"`
	Nights              int          `gorm:"not null" json:"nights"`
	GuestCount          int          `gorm:"not null" json:"guest_count"`
	TotalPriceCents     int64        `gorm:"not null" json:"total_price_cents"`
	Currency            string       `gorm:"not null" json:"currency"`
	Status              Status       `gorm:"not null" json:"status"`
	HostFeeCents        int64        `json:"host_fee_cents"`
	GuestFeeCents       int64        `json:"guest_fee_cents"`
	TaxOnGuestFeeCents  int64        `json:"tax_on_guest_fee_cents"`
	RefundedAmountCents int64        `json:"refunded_amount_cents"`
	PricingMode         string       `json:"pricing_mode"`
	InstantBook         bool         `json:"instant_book"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

func (b Booking) Range() availability.DateRange {
	return availability.DateRange{Start: b.StartDate.UTC(), End: b.EndDate.UTC()}
}

// GuestTotalCents is the amount authorized from the guest: stay price plus
// guest fee plus tax on the guest fee.
func (b Booking) GuestTotalCents() int64 {
	return b.TotalPriceCents + b.GuestFeeCents + b.TaxOnGuestFeeCents
}

// HostShareCents is what the host wallet is credited on capture.
func (b Booking) HostShareCents() int64 {
	return b.TotalPriceCents - b.HostFeeCents
}

// RefundOutcome describes a refund applied to a booking. AppliedCents is the
// part of the refund that counted against the stay price.
type RefundOutcome struct {
	Booking       Booking
	AppliedCents  int64
	FullyRefunded bool
}
