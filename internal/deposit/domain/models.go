package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusAuthorized        Status = "AUTHORIZED"
	StatusCaptured          Status = "CAPTURED"
	StatusPartiallyCaptured Status = "PARTIALLY_CAPTURED"
	StatusReleased          Status = "RELEASED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCaptured, StatusPartiallyCaptured, StatusReleased:
		return true
	default:
		return false
	}
}

// SecurityDeposit is a manual-capture hold placed on the guest's card for
// the duration of a stay plus the listing's refund window.
type SecurityDeposit struct {
	ID                  snowflake.ID                `gorm:"primaryKey" json:"id"`
	BookingID           snowflake.ID                `gorm:"not null;uniqueIndex" json:"booking_id"`
	ListingID           snowflake.ID                `gorm:"not null" json:"listing_id"`
	GuestID             snowflake.ID                `gorm:"not null" json:"guest_id"`
	HostID              snowflake.ID                `gorm:"not null" json:"host_id"`
	AmountCents         int64                       `gorm:"not null" json:"amount_cents"`
	CapturedAmountCents *int64                      `json:"captured_amount_cents,omitempty"`
	Currency            string                      `gorm:"not null" json:"currency"`
	Status              Status                      `gorm:"not null" json:"status"`
	IntentID            string                      `json:"intent_id,omitempty"`
	ExpiresAt           *time.Time                  `json:"expires_at,omitempty"`
	CaptureReason       string                      `json:"capture_reason,omitempty"`
	Evidence            datatypes.JSONSlice[string] `json:"evidence,omitempty"`
	CapturedAt          *time.Time                  `json:"captured_at,omitempty"`
	CapturedBy          *snowflake.ID               `json:"captured_by,omitempty"`
	ReleasedAt          *time.Time                  `json:"released_at,omitempty"`
	ReleaseReason       string                      `json:"release_reason,omitempty"`
	FailureReason       string                      `json:"failure_reason,omitempty"`
	CreatedAt           time.Time                   `json:"created_at"`
	UpdatedAt           time.Time                   `json:"updated_at"`
}

// Expired reports whether an authorized hold is past its expiry at now.
func (d SecurityDeposit) Expired(now time.Time) bool {
	return d.Status == StatusAuthorized && d.ExpiresAt != nil && d.ExpiresAt.Before(now)
}
