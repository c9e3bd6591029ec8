package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/wallet/domain"
	"github.com/smallbiznis/stayledger/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) EnsureWallet(ctx context.Context, conn *gorm.DB, hostID snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO wallets (host_id, balance_cents, updated_at)
		 VALUES (?, 0, ?)
		 ON CONFLICT (host_id) DO NOTHING`,
		hostID, now,
	).Error
}

func (r *repo) FindWallet(ctx context.Context, conn *gorm.DB, hostID snowflake.ID) (*domain.Wallet, error) {
	return r.findWallet(ctx, conn, `SELECT host_id, balance_cents, updated_at FROM wallets WHERE host_id = ?`, hostID)
}

func (r *repo) LockWallet(ctx context.Context, conn *gorm.DB, hostID snowflake.ID) (*domain.Wallet, error) {
	return r.findWallet(ctx, conn, `SELECT host_id, balance_cents, updated_at FROM wallets WHERE host_id = ?`+db.ForUpdate(conn), hostID)
}

func (r *repo) findWallet(ctx context.Context, conn *gorm.DB, query string, hostID snowflake.ID) (*domain.Wallet, error) {
	var item domain.Wallet
	if err := conn.WithContext(ctx).Raw(query, hostID).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.HostID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) AddBalance(ctx context.Context, conn *gorm.DB, hostID snowflake.ID, delta int64, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE wallets
		 SET balance_cents = balance_cents + ?, updated_at = ?
		 WHERE host_id = ?`,
		delta, now, hostID,
	).Error
}

func (r *repo) InsertEntry(ctx context.Context, conn *gorm.DB, entry *domain.Entry) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO wallet_ledger_entries (id, host_id, booking_id, delta_cents, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (host_id, reason) DO NOTHING`,
		entry.ID,
		entry.HostID,
		entry.BookingID,
		entry.DeltaCents,
		entry.Reason,
		entry.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEntryByReason(ctx context.Context, conn *gorm.DB, hostID snowflake.ID, reason string) (*domain.Entry, error) {
	var item domain.Entry
	err := conn.WithContext(ctx).Raw(
		`SELECT id, host_id, booking_id, delta_cents, reason, created_at
		 FROM wallet_ledger_entries
		 WHERE host_id = ? AND reason = ?`,
		hostID, reason,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListEntries(ctx context.Context, conn *gorm.DB, filter domain.ListEntriesFilter) ([]*domain.Entry, error) {
	query := conn.WithContext(ctx).
		Table("wallet_ledger_entries").
		Select("id, host_id, booking_id, delta_cents, reason, created_at").
		Where("host_id = ?", filter.HostID)
	if filter.BeforeCreatedAt != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			*filter.BeforeCreatedAt, *filter.BeforeCreatedAt, filter.BeforeID)
	}

	var items []*domain.Entry
	if err := query.Order("created_at DESC").Order("id DESC").Limit(filter.Limit).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumEntries(ctx context.Context, conn *gorm.DB, hostID snowflake.ID) (int64, int64, error) {
	var row struct {
		Total int64 `gorm:"column:total"`
		Count int64 `gorm:"column:count"`
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(delta_cents), 0) AS total, COUNT(*) AS count
		 FROM wallet_ledger_entries
		 WHERE host_id = ?`,
		hostID,
	).Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Total, row.Count, nil
}
