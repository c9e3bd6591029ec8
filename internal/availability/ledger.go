// Package availability is the record of nights already committed per
// listing. Committed means a PENDING or CONFIRMED booking covers the night.
package availability

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/pkg/db"
	"gorm.io/gorm"
)

// CommittedStatuses block the calendar. Cancelled bookings free their nights.
var CommittedStatuses = []string{"PENDING", "CONFIRMED"}

type Ledger interface {
	// Conflicts returns committed ranges overlapping r. Call it on the same
	// transaction that inserts the booking.
	Conflicts(ctx context.Context, tx *gorm.DB, listingID snowflake.ID, r DateRange) ([]DateRange, error)
	// Committed lists committed ranges intersecting [from, to).
	Committed(ctx context.Context, conn *gorm.DB, listingID snowflake.ID, window DateRange) ([]DateRange, error)
}

type ledger struct{}

func NewLedger() Ledger {
	return &ledger{}
}

type rangeRow struct {
	StartDate time.Time `gorm:"column:start_date"`
	EndDate   time.Time `gorm:"column:end_date"`
}

func (l *ledger) Conflicts(ctx context.Context, tx *gorm.DB, listingID snowflake.ID, r DateRange) ([]DateRange, error) {
	query := `SELECT start_date, end_date
		 FROM bookings
		 WHERE listing_id = ?
		   AND status IN ?
		   AND start_date < ?
		   AND end_date > ?
		 ORDER BY start_date` + db.ForUpdate(tx)

	var rows []rangeRow
	if err := tx.WithContext(ctx).Raw(query, listingID, CommittedStatuses, r.End, r.Start).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return toRanges(rows), nil
}

func (l *ledger) Committed(ctx context.Context, conn *gorm.DB, listingID snowflake.ID, window DateRange) ([]DateRange, error) {
	var rows []rangeRow
	err := conn.WithContext(ctx).Raw(
		`SELECT start_date, end_date
		 FROM bookings
		 WHERE listing_id = ?
		   AND status IN ?
		   AND start_date < ?
		   AND end_date > ?
		 ORDER BY start_date`,
		listingID, CommittedStatuses, window.End, window.Start,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toRanges(rows), nil
}

func toRanges(rows []rangeRow) []DateRange {
	out := make([]DateRange, 0, len(rows))
	for _, row := range rows {
		out = append(out, DateRange{Start: row.StartDate.UTC(), End: row.EndDate.UTC()})
	}
	return out
}
