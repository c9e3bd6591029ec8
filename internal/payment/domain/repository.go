package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error
	// SaveOutcome persists the status, references and failure reason of txn.
	SaveOutcome(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindByExternalRef(ctx context.Context, db *gorm.DB, network, ref string) (*Transaction, error)
	FindByCaptureRef(ctx context.Context, db *gorm.DB, network, ref string) (*Transaction, error)
	FindLatestForBooking(ctx context.Context, db *gorm.DB, network string, bookingID snowflake.ID, purpose Purpose) (*Transaction, error)
	ListForBooking(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) ([]*Transaction, error)
	// TransitionStatus moves the transaction to `to` only from one of `from`.
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []TransactionStatus, to TransactionStatus, now time.Time) (bool, error)

	// InsertEvent reports false when (network, event_id) already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *ProcessedEvent) (bool, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
