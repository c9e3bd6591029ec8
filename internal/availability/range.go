package availability

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidDateRange = errors.New("invalid_date_range")

const dateLayout = "2006-01-02"

// DateRange is a half-open range of nights [Start, End). Both bounds are UTC
// midnights; End is the checkout day.
type DateRange struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

// NewDateRange anchors the range on the check-in day. Nights are the
// elapsed days rounded up, so a late checkout still costs a full night.
func NewDateRange(start, end time.Time) (DateRange, error) {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return DateRange{}, ErrInvalidDateRange
	}
	nights := int(math.Ceil(end.Sub(start).Hours() / 24))
	startDay := truncateDay(start)
	return DateRange{Start: startDay, End: startDay.AddDate(0, 0, nights)}, nil
}

// ParseDateRange parses YYYY-MM-DD bounds.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start %q", ErrInvalidDateRange, start)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: end %q", ErrInvalidDateRange, end)
	}
	return NewDateRange(s, e)
}

func (r DateRange) Nights() int {
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// Overlaps reports whether the two ranges share at least one night.
func (r DateRange) Overlaps(other DateRange) bool {
	return r.Start.Before(other.End) && r.End.After(other.Start)
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(dateLayout), r.End.Format(dateLayout))
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
