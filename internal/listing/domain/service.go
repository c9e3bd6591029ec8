package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateListingRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	PriceCents  int64  `json:"price_cents" validate:"gt=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	Country     string `json:"country" validate:"required,len=2"`
	Province    string `json:"province" validate:"omitempty,max=3"`
	Capacity    int    `json:"capacity" validate:"gt=0"`
	MinNights   int    `json:"min_nights" validate:"gte=0"`
	MaxNights   int    `json:"max_nights" validate:"gte=0"`
	PricingMode string `json:"pricing_mode" validate:"omitempty,oneof=NIGHTLY WEEKLY"`
	InstantBook bool   `json:"instant_book"`
}

type UpsertDepositPolicyRequest struct {
	ListingID   string `json:"-"`
	Enabled     bool   `json:"enabled"`
	AmountCents int64  `json:"amount_cents" validate:"gte=0"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
	Description string `json:"description" validate:"max=500"`
	RefundDays  int    `json:"refund_days" validate:"gte=0,lte=90"`
}

type UpdateInstantBookRequest struct {
	ListingID              string  `json:"-"`
	Enabled                bool    `json:"enabled"`
	RequireVerifiedID      bool    `json:"require_verified_id"`
	RequirePositiveReviews bool    `json:"require_positive_reviews"`
	MinGuestRating         float64 `json:"min_guest_rating" validate:"gte=0,lte=5"`
	MinNights              int     `json:"min_nights" validate:"gte=0"`
	MaxNights              int     `json:"max_nights" validate:"gte=0"`
	AdvanceNoticeHours     int     `json:"advance_notice_hours" validate:"gte=0"`
}

type Service interface {
	Create(ctx context.Context, req CreateListingRequest) (Listing, error)
	Get(ctx context.Context, id string) (Listing, error)
	GetByID(ctx context.Context, id snowflake.ID) (Listing, error)
	DepositPolicy(ctx context.Context, listingID snowflake.ID) (*DepositPolicy, error)
	UpsertDepositPolicy(ctx context.Context, req UpsertDepositPolicyRequest) (DepositPolicy, error)
	InstantBookSettings(ctx context.Context, listingID snowflake.ID) (*InstantBookSettings, error)
	UpdateInstantBookSettings(ctx context.Context, req UpdateInstantBookRequest) (InstantBookSettings, error)
}

var (
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidStayLength = errors.New("invalid_stay_length")
	ErrProvinceRequired  = errors.New("province_required")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrNotFound          = errors.New("not_found")
)

const DefaultRefundDays = 7
