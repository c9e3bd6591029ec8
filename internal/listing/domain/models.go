package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PricingMode string

const (
	PricingModeNightly PricingMode = "NIGHTLY"
	PricingModeWeekly  PricingMode = "WEEKLY"
)

type Listing struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID     snowflake.ID `gorm:"not null;index" json:"owner_id"`
	Title       string       `gorm:"not null" json:"title"`
	Slug        string       `gorm:"not null;uniqueIndex" json:"slug"`
	PriceCents  int64        `gorm:"not null" json:"price_cents"`
	Currency    string       `gorm:"not null" json:"currency"`
	Country     string       `json:"country"`
	Province    string       `json:"province,omitempty"`
	Capacity    int          `gorm:"not null" json:"capacity"`
	MinNights   int          `json:"min_nights"`
	MaxNights   int          `json:"max_nights"`
	PricingMode PricingMode  `gorm:"not null" json:"pricing_mode"`
	InstantBook bool         `json:"instant_book"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// DepositPolicy describes the security deposit held for bookings of a listing.
type DepositPolicy struct {
	ListingID   snowflake.ID `gorm:"primaryKey" json:"listing_id"`
	Enabled     bool         `json:"enabled"`
	AmountCents int64        `json:"amount_cents"`
	Currency    string       `json:"currency"`
	Description string       `json:"description,omitempty"`
	RefundDays  int          `json:"refund_days"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Active reports whether bookings of the listing must carry a deposit hold.
func (p *DepositPolicy) Active() bool {
	return p != nil && p.Enabled && p.AmountCents > 0
}

type InstantBookSettings struct {
	ListingID              snowflake.ID `gorm:"primaryKey" json:"listing_id"`
	Enabled                bool         `json:"enabled"`
	RequireVerifiedID      bool         `json:"require_verified_id"`
	RequirePositiveReviews bool         `json:"require_positive_reviews"`
	MinGuestRating         float64      `json:"min_guest_rating"`
	MinNights              int          `json:"min_nights"`
	MaxNights              int          `json:"max_nights"`
	AdvanceNoticeHours     int          `json:"advance_notice_hours"`
	UpdatedAt              time.Time    `json:"updated_at"`
}
