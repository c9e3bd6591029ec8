// Package eligibility gates booking admission on the guest's verification
// status and, for instant bookings, on the host's instant-book criteria.
package eligibility

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/availability"
	"github.com/smallbiznis/stayledger/internal/clock"
	listingdomain "github.com/smallbiznis/stayledger/internal/listing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ReasonUserNotFound          = "USER_NOT_FOUND"
	ReasonIdentityNotVerified   = "IDENTITY_NOT_VERIFIED"
	ReasonInstantBookDisabled   = "INSTANT_BOOK_DISABLED"
	ReasonNoPositiveReviews     = "NO_POSITIVE_REVIEWS"
	ReasonRatingBelowMinimum    = "RATING_BELOW_MINIMUM"
	ReasonNightsOutOfRange      = "NIGHTS_OUT_OF_RANGE"
	ReasonAdvanceNoticeTooShort = "ADVANCE_NOTICE_TOO_SHORT"
)

const (
	IdentityVerified = "VERIFIED"

	positiveReviewThreshold = 3.5
)

type Request struct {
	UserID      snowflake.ID
	ListingID   snowflake.ID
	Range       availability.DateRange
	InstantBook bool
}

type Result struct {
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons,omitempty"`
}

type Checker interface {
	IsEligible(ctx context.Context, req Request) (Result, error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Listings listingdomain.Service
}

type checker struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	listings listingdomain.Service
}

func NewChecker(p Params) Checker {
	return &checker{
		db:       p.DB,
		log:      p.Log.Named("eligibility.checker"),
		clock:    p.Clock,
		listings: p.Listings,
	}
}

type guestProfile struct {
	ID             snowflake.ID `gorm:"column:id"`
	IdentityStatus string       `gorm:"column:identity_status"`
	ReviewCount    int64        `gorm:"column:review_count"`
	AvgRating      float64      `gorm:"column:avg_rating"`
}

func (c *checker) IsEligible(ctx context.Context, req Request) (Result, error) {
	var guest guestProfile
	err := c.db.WithContext(ctx).Raw(
		`SELECT u.id, u.identity_status,
			(SELECT COUNT(*) FROM guest_reviews r WHERE r.guest_id = u.id) AS review_count,
			COALESCE((SELECT AVG(r.rating) FROM guest_reviews r WHERE r.guest_id = u.id), 0) AS avg_rating
		 FROM users u WHERE u.id = ?`,
		req.UserID,
	).Scan(&guest).Error
	if err != nil {
		return Result{}, err
	}
	if guest.ID == 0 {
		return notEligible(ReasonUserNotFound), nil
	}

	var reasons []string
	if guest.IdentityStatus != IdentityVerified {
		reasons = append(reasons, ReasonIdentityNotVerified)
	}

	if req.InstantBook {
		more, err := c.instantBookReasons(ctx, req, guest)
		if err != nil {
			return Result{}, err
		}
		reasons = append(reasons, more...)
	}

	if len(reasons) > 0 {
		c.log.Info("eligibility.rejected",
			zap.String("user_id", req.UserID.String()),
			zap.String("listing_id", req.ListingID.String()),
			zap.Strings("reasons", reasons),
		)
		return Result{Eligible: false, Reasons: reasons}, nil
	}
	return Result{Eligible: true}, nil
}

func (c *checker) instantBookReasons(ctx context.Context, req Request, guest guestProfile) ([]string, error) {
	listing, err := c.listings.GetByID(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if !listing.InstantBook {
		return []string{ReasonInstantBookDisabled}, nil
	}
	settings, err := c.listings.InstantBookSettings(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, nil
	}

	var reasons []string
	// RequireVerifiedID is covered by the identity check in IsEligible.
	if settings.RequirePositiveReviews && (guest.ReviewCount == 0 || guest.AvgRating < positiveReviewThreshold) {
		reasons = append(reasons, ReasonNoPositiveReviews)
	}
	if settings.MinGuestRating > 0 && (guest.ReviewCount == 0 || guest.AvgRating < settings.MinGuestRating) {
		reasons = append(reasons, ReasonRatingBelowMinimum)
	}

	nights := req.Range.Nights()
	if (settings.MinNights > 0 && nights < settings.MinNights) ||
		(settings.MaxNights > 0 && nights > settings.MaxNights) {
		reasons = append(reasons, ReasonNightsOutOfRange)
	}

	if settings.AdvanceNoticeHours > 0 {
		notice := req.Range.Start.Sub(c.clock.Now()).Hours()
		if notice < float64(settings.AdvanceNoticeHours) {
			reasons = append(reasons, ReasonAdvanceNoticeTooShort)
		}
	}
	return reasons, nil
}

func notEligible(reason string) Result {
	return Result{Eligible: false, Reasons: []string{reason}}
}
