package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/availability"
	"github.com/smallbiznis/stayledger/internal/booking/domain"
	"github.com/smallbiznis/stayledger/pkg/db"
	"gorm.io/gorm"
)

const bookingColumns = `id, reference, listing_id, guest_id, host_id, start_date, end_date, nights, guest_count,
	total_price_cents, currency, status, host_fee_cents, guest_fee_cents, tax_on_guest_fee_cents,
	refunded_amount_cents, pricing_mode, instant_book, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, booking *domain.Booking) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO bookings (`+bookingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.ID,
		booking.Reference,
		booking.ListingID,
		booking.GuestID,
		booking.HostID,
		booking.StartDate,
		booking.EndDate,
		booking.Nights,
		booking.GuestCount,
		booking.TotalPriceCents,
		booking.Currency,
		booking.Status,
		booking.HostFeeCents,
		booking.GuestFeeCents,
		booking.TaxOnGuestFeeCents,
		booking.RefundedAmountCents,
		booking.PricingMode,
		booking.InstantBook,
		booking.CreatedAt,
		booking.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	return r.findOne(ctx, conn, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	return r.findOne(ctx, conn, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`+db.ForUpdate(conn), id)
}

func (r *repo) FindPending(ctx context.Context, conn *gorm.DB, guestID, listingID snowflake.ID, rng availability.DateRange) (*domain.Booking, error) {
	return r.findOne(ctx, conn,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE guest_id = ? AND listing_id = ? AND start_date = ? AND end_date = ? AND status = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		guestID, listingID, rng.Start, rng.End, domain.StatusPending,
	)
}

func (r *repo) ListByGuest(ctx context.Context, conn *gorm.DB, guestID snowflake.ID, limit int) ([]*domain.Booking, error) {
	var items []*domain.Booking
	err := conn.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE guest_id = ?
		 ORDER BY start_date DESC, id DESC
		 LIMIT ?`,
		guestID, limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, from []domain.Status, to domain.Status, now time.Time) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status IN ?`,
		to, now, id, from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateRefund(ctx context.Context, conn *gorm.DB, id snowflake.ID, refundedCents int64, status domain.Status, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE bookings SET refunded_amount_cents = ?, status = ?, updated_at = ? WHERE id = ?`,
		refundedCents, status, now, id,
	).Error
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*domain.Booking, error) {
	var booking domain.Booking
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&booking).Error; err != nil {
		return nil, err
	}
	if booking.ID == 0 {
		return nil, nil
	}
	return &booking, nil
}
