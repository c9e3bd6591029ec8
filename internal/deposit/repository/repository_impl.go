package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/deposit/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const depositColumns = `id, booking_id, listing_id, guest_id, host_id, amount_cents, captured_amount_cents,
	currency, status, intent_id, expires_at, capture_reason, evidence, captured_at, captured_by,
	released_at, release_reason, failure_reason, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, d *domain.SecurityDeposit) (bool, error) {
	evidence := d.Evidence
	if evidence == nil {
		evidence = datatypes.JSONSlice[string]{}
	}
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO security_deposits (
			id, booking_id, listing_id, guest_id, host_id, amount_cents, currency, status,
			intent_id, expires_at, evidence, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (booking_id) DO NOTHING`,
		d.ID,
		d.BookingID,
		d.ListingID,
		d.GuestID,
		d.HostID,
		d.AmountCents,
		d.Currency,
		d.Status,
		d.IntentID,
		d.ExpiresAt,
		evidence,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.SecurityDeposit, error) {
	return r.findOne(ctx, conn, `SELECT `+depositColumns+` FROM security_deposits WHERE id = ?`, id)
}

func (r *repo) FindByBooking(ctx context.Context, conn *gorm.DB, bookingID snowflake.ID) (*domain.SecurityDeposit, error) {
	return r.findOne(ctx, conn, `SELECT `+depositColumns+` FROM security_deposits WHERE booking_id = ?`, bookingID)
}

func (r *repo) FindByIntent(ctx context.Context, conn *gorm.DB, intentID string) (*domain.SecurityDeposit, error) {
	if intentID == "" {
		return nil, nil
	}
	return r.findOne(ctx, conn, `SELECT `+depositColumns+` FROM security_deposits WHERE intent_id = ? LIMIT 1`, intentID)
}

func (r *repo) MarkAuthorized(ctx context.Context, conn *gorm.DB, id snowflake.ID, intentID string, now time.Time) (bool, error) {
	return affected(conn.WithContext(ctx).Exec(
		`UPDATE security_deposits
		 SET status = ?, intent_id = ?, failure_reason = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusAuthorized, intentID, now, id, domain.StatusPending,
	))
}

func (r *repo) AttachIntent(ctx context.Context, conn *gorm.DB, id snowflake.ID, intentID string, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE security_deposits
		 SET intent_id = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		intentID, now, id, domain.StatusPending,
	).Error
}

func (r *repo) RecordFailure(ctx context.Context, conn *gorm.DB, id snowflake.ID, reason string, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE security_deposits
		 SET failure_reason = ?, updated_at = ?
		 WHERE id = ?`,
		reason, now, id,
	).Error
}

func (r *repo) ClaimCapture(ctx context.Context, conn *gorm.DB, claim domain.CaptureClaim) (bool, error) {
	evidence := datatypes.JSONSlice[string](claim.Evidence)
	if evidence == nil {
		evidence = datatypes.JSONSlice[string]{}
	}
	return affected(conn.WithContext(ctx).Exec(
		`UPDATE security_deposits
		 SET status = ?, captured_amount_cents = ?, capture_reason = ?, evidence = ?,
			captured_at = ?, captured_by = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		claim.Status,
		claim.AmountCents,
		claim.Reason,
		evidence,
		claim.CapturedAt,
		claim.CapturedBy,
		claim.CapturedAt,
		claim.ID,
		domain.StatusAuthorized,
	))
}

func (r *repo) RevertCapture(ctx context.Context, conn *gorm.DB, id snowflake.ID, from domain.Status, reason string, now time.Time) (bool, error) {
	return affected(conn.WithContext(ctx).Exec(
		`UPDATE security_deposits
		 SET status = ?, captured_amount_cents = NULL, capture_reason = '', evidence = '[]',
			captured_at = NULL, captured_by = NULL, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusAuthorized, reason, now, id, from,
	))
}

func (r *repo) ClaimRelease(ctx context.Context, conn *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error) {
	return affected(conn.WithContext(ctx).Exec(
		`UPDATE security_deposits
		 SET status = ?, released_at = ?, release_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusReleased, now, reason, now, id, domain.StatusAuthorized,
	))
}

func (r *repo) RevertRelease(ctx context.Context, conn *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error) {
	return affected(conn.WithContext(ctx).Exec(
		`UPDATE security_deposits
		 SET status = ?, released_at = NULL, release_reason = '', failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusAuthorized, reason, now, id, domain.StatusReleased,
	))
}

func (r *repo) ListExpired(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := conn.WithContext(ctx).Raw(
		`SELECT id
		 FROM security_deposits
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?`,
		domain.StatusAuthorized, now, limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*domain.SecurityDeposit, error) {
	var item domain.SecurityDeposit
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func affected(res *gorm.DB) (bool, error) {
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
