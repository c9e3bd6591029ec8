package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/payment/domain"
	"github.com/smallbiznis/stayledger/pkg/db"
	"gorm.io/gorm"
)

const transactionColumns = `id, booking_id, network, purpose, COALESCE(external_ref, '') AS external_ref,
	COALESCE(capture_ref, '') AS capture_ref, amount_cents, currency, status, failure_reason, metadata,
	created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertTransaction(ctx context.Context, conn *gorm.DB, txn *domain.Transaction) error {
	metadata := txn.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (
			id, booking_id, network, purpose, external_ref, capture_ref, amount_cents,
			currency, status, failure_reason, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.BookingID,
		txn.Network,
		txn.Purpose,
		nullable(txn.ExternalRef),
		nullable(txn.CaptureRef),
		txn.AmountCents,
		txn.Currency,
		txn.Status,
		txn.FailureReason,
		metadata,
		txn.CreatedAt,
		txn.UpdatedAt,
	).Error
}

func (r *repo) SaveOutcome(ctx context.Context, conn *gorm.DB, txn *domain.Transaction) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?, external_ref = ?, capture_ref = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ?`,
		txn.Status,
		nullable(txn.ExternalRef),
		nullable(txn.CaptureRef),
		txn.FailureReason,
		txn.UpdatedAt,
		txn.ID,
	).Error
}

func (r *repo) FindTransaction(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	return r.findOne(ctx, conn, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = ?`, id)
}

func (r *repo) FindByExternalRef(ctx context.Context, conn *gorm.DB, network, ref string) (*domain.Transaction, error) {
	if ref == "" {
		return nil, nil
	}
	return r.findOne(ctx, conn,
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
		 WHERE network = ? AND external_ref = ?`+db.ForUpdate(conn),
		network, ref,
	)
}

func (r *repo) FindByCaptureRef(ctx context.Context, conn *gorm.DB, network, ref string) (*domain.Transaction, error) {
	if ref == "" {
		return nil, nil
	}
	return r.findOne(ctx, conn,
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
		 WHERE network = ? AND capture_ref = ?
		 LIMIT 1`+db.ForUpdate(conn),
		network, ref,
	)
}

func (r *repo) FindLatestForBooking(ctx context.Context, conn *gorm.DB, network string, bookingID snowflake.ID, purpose domain.Purpose) (*domain.Transaction, error) {
	return r.findOne(ctx, conn,
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
		 WHERE network = ? AND booking_id = ? AND purpose = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`+db.ForUpdate(conn),
		network, bookingID, purpose,
	)
}

func (r *repo) ListForBooking(ctx context.Context, conn *gorm.DB, bookingID snowflake.ID) ([]*domain.Transaction, error) {
	var items []*domain.Transaction
	err := conn.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
		 WHERE booking_id = ?
		 ORDER BY created_at ASC, id ASC`,
		bookingID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) TransitionStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, from []domain.TransactionStatus, to domain.TransactionStatus, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		to, now, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.ProcessedEvent) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO processed_events (
			id, network, event_id, event_type, payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (network, event_id) DO NOTHING`,
		event.ID,
		event.Network,
		event.EventID,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, conn *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE processed_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*domain.Transaction, error) {
	var item domain.Transaction
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// nullable stores empty references as NULL so UNIQUE(network, external_ref)
// only constrains assigned references.
func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
