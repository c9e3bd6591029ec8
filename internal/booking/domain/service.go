package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/availability"
	"gorm.io/gorm"
)

type CreateBookingRequest struct {
	ListingID   string `json:"listing_id" validate:"required"`
	StartDate   string `json:"start_date" validate:"required"`
	EndDate     string `json:"end_date" validate:"required"`
	GuestCount  int    `json:"guest_count" validate:"gte=1"`
	InstantBook bool   `json:"instant_book"`
}

type Service interface {
	Create(ctx context.Context, req CreateBookingRequest) (Booking, error)
	Get(ctx context.Context, id string) (Booking, error)
	GetByID(ctx context.Context, id snowflake.ID) (Booking, error)
	ListMine(ctx context.Context) ([]Booking, error)
	Cancel(ctx context.Context, id string) (Booking, error)

	// The methods below join the caller's transaction when tx is non-nil.

	// MarkConfirmed confirms a PENDING booking. It reports false when the
	// booking was already confirmed or cancelled.
	MarkConfirmed(ctx context.Context, tx *gorm.DB, id snowflake.ID) (bool, error)
	// MarkCancelled cancels a PENDING booking.
	MarkCancelled(ctx context.Context, tx *gorm.DB, id snowflake.ID) (bool, error)
	// ApplyRefund accumulates refundCents onto the booking, capped at the
	// stay price, and cancels it once fully refunded.
	ApplyRefund(ctx context.Context, tx *gorm.DB, id snowflake.ID, refundCents int64) (RefundOutcome, error)
}

var (
	ErrInvalidID        = errors.New("invalid_id")
	ErrNotFound         = errors.New("not_found")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInvalidDateRange = errors.New("invalid_date_range")
	ErrCapacityExceeded = errors.New("capacity_exceeded")
	ErrStayLength       = errors.New("stay_length_violation")
	ErrPricingMode      = errors.New("pricing_mode_violation")
	ErrProvinceRequired = errors.New("province_required")
	ErrSelfBooking      = errors.New("self_booking")
	ErrNotEligible      = errors.New("not_eligible")
	ErrDatesUnavailable = errors.New("dates_not_available")
	ErrInvalidStatus    = errors.New("invalid_booking_status")
	ErrInvalidRefund    = errors.New("invalid_refund_amount")
)

// DatesUnavailableError carries the committed ranges that blocked admission.
type DatesUnavailableError struct {
	Conflicts []availability.DateRange
}

func (e *DatesUnavailableError) Error() string {
	if len(e.Conflicts) == 0 {
		return ErrDatesUnavailable.Error()
	}
	parts := make([]string, 0, len(e.Conflicts))
	for _, r := range e.Conflicts {
		parts = append(parts, r.String())
	}
	return fmt.Sprintf("%s: %s", ErrDatesUnavailable.Error(), strings.Join(parts, ", "))
}

func (e *DatesUnavailableError) Unwrap() error { return ErrDatesUnavailable }

// NotEligibleError lists the eligibility reasons that failed.
type NotEligibleError struct {
	Reasons []string
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotEligible.Error(), strings.Join(e.Reasons, ", "))
}

func (e *NotEligibleError) Unwrap() error { return ErrNotEligible }
