package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// EnsureWallet creates a zero-balance wallet if none exists.
	EnsureWallet(ctx context.Context, db *gorm.DB, hostID snowflake.ID, now time.Time) error
	FindWallet(ctx context.Context, db *gorm.DB, hostID snowflake.ID) (*Wallet, error)
	// LockWallet reads the wallet under a row lock on dialects that support it.
	LockWallet(ctx context.Context, db *gorm.DB, hostID snowflake.ID) (*Wallet, error)
	AddBalance(ctx context.Context, db *gorm.DB, hostID snowflake.ID, delta int64, now time.Time) error

	// InsertEntry reports false when (host_id, reason) already exists.
	InsertEntry(ctx context.Context, db *gorm.DB, entry *Entry) (bool, error)
	FindEntryByReason(ctx context.Context, db *gorm.DB, hostID snowflake.ID, reason string) (*Entry, error)
	ListEntries(ctx context.Context, db *gorm.DB, filter ListEntriesFilter) ([]*Entry, error)
	SumEntries(ctx context.Context, db *gorm.DB, hostID snowflake.ID) (sum int64, count int64, err error)
}

type ListEntriesFilter struct {
	HostID snowflake.ID
	// Entries strictly older than the cursor, newest first.
	BeforeCreatedAt *time.Time
	BeforeID        snowflake.ID
	Limit           int
}
