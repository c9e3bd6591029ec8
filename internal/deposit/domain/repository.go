package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CaptureClaim struct {
	ID          snowflake.ID
	Status      Status
	AmountCents int64
	Reason      string
	Evidence    []string
	CapturedBy  snowflake.ID
	CapturedAt  time.Time
}

type Repository interface {
	// Insert reports false when the booking already has a deposit.
	Insert(ctx context.Context, db *gorm.DB, deposit *SecurityDeposit) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SecurityDeposit, error)
	FindByBooking(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*SecurityDeposit, error)
	FindByIntent(ctx context.Context, db *gorm.DB, intentID string) (*SecurityDeposit, error)

	// The transitions below are conditional on the current status and report
	// whether the row changed.
	MarkAuthorized(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID string, now time.Time) (bool, error)
	// AttachIntent records the network intent of a hold still awaiting
	// confirmation.
	AttachIntent(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID string, now time.Time) error
	RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) error
	ClaimCapture(ctx context.Context, db *gorm.DB, claim CaptureClaim) (bool, error)
	RevertCapture(ctx context.Context, db *gorm.DB, id snowflake.ID, from Status, reason string, now time.Time) (bool, error)
	ClaimRelease(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error)
	RevertRelease(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error)

	// ListExpired returns ids of AUTHORIZED deposits whose hold expired
	// before now. It takes no locks; each release claims its row through
	// ClaimRelease. Rows are ordered by last update so holds whose release
	// just failed come last.
	ListExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
}
