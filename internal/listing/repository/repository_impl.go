package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/listing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, listing *domain.Listing) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO listings (id, owner_id, title, slug, price_cents, currency, country, province,
			capacity, min_nights, max_nights, pricing_mode, instant_book, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		listing.ID,
		listing.OwnerID,
		listing.Title,
		listing.Slug,
		listing.PriceCents,
		listing.Currency,
		listing.Country,
		listing.Province,
		listing.Capacity,
		listing.MinNights,
		listing.MaxNights,
		listing.PricingMode,
		listing.InstantBook,
		listing.CreatedAt,
		listing.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Listing, error) {
	var listing domain.Listing
	err := db.WithContext(ctx).Raw(
		`SELECT id, owner_id, title, slug, price_cents, currency, country, province, capacity,
			min_nights, max_nights, pricing_mode, instant_book, created_at, updated_at
		 FROM listings WHERE id = ?`,
		id,
	).Scan(&listing).Error
	if err != nil {
		return nil, err
	}
	if listing.ID == 0 {
		return nil, nil
	}
	return &listing, nil
}

func (r *repo) UpdateInstantBook(ctx context.Context, db *gorm.DB, id snowflake.ID, enabled bool) error {
	return db.WithContext(ctx).Exec(
		`UPDATE listings SET instant_book = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		enabled,
		id,
	).Error
}

func (r *repo) FindDepositPolicy(ctx context.Context, db *gorm.DB, listingID snowflake.ID) (*domain.DepositPolicy, error) {
	var policy domain.DepositPolicy
	err := db.WithContext(ctx).Raw(
		`SELECT listing_id, enabled, amount_cents, currency, description, refund_days, updated_at
		 FROM listing_deposit_policies WHERE listing_id = ?`,
		listingID,
	).Scan(&policy).Error
	if err != nil {
		return nil, err
	}
	if policy.ListingID == 0 {
		return nil, nil
	}
	return &policy, nil
}

func (r *repo) UpsertDepositPolicy(ctx context.Context, db *gorm.DB, policy *domain.DepositPolicy) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO listing_deposit_policies (listing_id, enabled, amount_cents, currency, description, refund_days, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (listing_id) DO UPDATE SET
			enabled = excluded.enabled,
			amount_cents = excluded.amount_cents,
			currency = excluded.currency,
			description = excluded.description,
			refund_days = excluded.refund_days,
			updated_at = excluded.updated_at`,
		policy.ListingID,
		policy.Enabled,
		policy.AmountCents,
		policy.Currency,
		policy.Description,
		policy.RefundDays,
		policy.UpdatedAt,
	).Error
}

func (r *repo) FindInstantBookSettings(ctx context.Context, db *gorm.DB, listingID snowflake.ID) (*domain.InstantBookSettings, error) {
	var settings domain.InstantBookSettings
	err := db.WithContext(ctx).Raw(
		`SELECT listing_id, enabled, require_verified_id, require_positive_reviews, min_guest_rating,
			min_nights, max_nights, advance_notice_hours, updated_at
		 FROM listing_instant_book_settings WHERE listing_id = ?`,
		listingID,
	).Scan(&settings).Error
	if err != nil {
		return nil, err
	}
	if settings.ListingID == 0 {
		return nil, nil
	}
	return &settings, nil
}

func (r *repo) UpsertInstantBookSettings(ctx context.Context, db *gorm.DB, settings *domain.InstantBookSettings) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO listing_instant_book_settings (listing_id, enabled, require_verified_id, require_positive_reviews,
			min_guest_rating, min_nights, max_nights, advance_notice_hours, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (listing_id) DO UPDATE SET
			enabled = excluded.enabled,
			require_verified_id = excluded.require_verified_id,
			require_positive_reviews = excluded.require_positive_reviews,
			min_guest_rating = excluded.min_guest_rating,
			min_nights = excluded.min_nights,
			max_nights = excluded.max_nights,
			advance_notice_hours = excluded.advance_notice_hours,
			updated_at = excluded.updated_at`,
		settings.ListingID,
		settings.Enabled,
		settings.RequireVerifiedID,
		settings.RequirePositiveReviews,
		settings.MinGuestRating,
		settings.MinNights,
		settings.MaxNights,
		settings.AdvanceNoticeHours,
		settings.UpdatedAt,
	).Error
}
