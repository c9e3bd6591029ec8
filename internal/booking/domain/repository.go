package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/availability"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, booking *Booking) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	// FindByIDForUpdate locks the row on dialects with row locks.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	FindPending(ctx context.Context, db *gorm.DB, guestID, listingID snowflake.ID, r availability.DateRange) (*Booking, error)
	ListByGuest(ctx context.Context, db *gorm.DB, guestID snowflake.ID, limit int) ([]*Booking, error)
	// UpdateStatus moves the booking to `to` only while it is in one of
	// `from`, returning whether a row changed.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, now time.Time) (bool, error)
	UpdateRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, refundedCents int64, status Status, now time.Time) error
}
