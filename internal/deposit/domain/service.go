package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/stayledger/internal/booking/domain"
	"gorm.io/gorm"
)

type HoldRequest struct {
	Booking bookingdomain.Booking
	// Credential is the two-phase network payment method for the hold.
	Credential string
}

type CaptureRequest struct {
	DepositID   string   `json:"-"`
	AmountCents int64    `json:"amount_cents"`
	Reason      string   `json:"reason"`
	Evidence    []string `json:"evidence" validate:"max=20,dive,max=2048"`
}

type ReleaseRequest struct {
	DepositID string `json:"-"`
	Reason    string `json:"reason" validate:"max=500"`
}

type Service interface {
	// CreateHold places the deposit hold for a confirmed booking. A failed
	// network authorization leaves the deposit PENDING.
	CreateHold(ctx context.Context, req HoldRequest) (SecurityDeposit, error)
	Capture(ctx context.Context, req CaptureRequest) (SecurityDeposit, error)
	Release(ctx context.Context, req ReleaseRequest) (SecurityDeposit, error)
	// ReleaseExpired releases an expired hold on behalf of the system.
	ReleaseExpired(ctx context.Context, id snowflake.ID) (SecurityDeposit, error)
	// ConfirmHold moves a PENDING deposit to AUTHORIZED once the network
	// reports the hold asynchronously. It joins tx when non-nil.
	ConfirmHold(ctx context.Context, tx *gorm.DB, intentID string) (bool, error)

	Get(ctx context.Context, id string) (SecurityDeposit, error)
	GetByBooking(ctx context.Context, bookingID string) (SecurityDeposit, error)
	Statement(ctx context.Context, id string) ([]byte, error)
	ListExpired(ctx context.Context, limit int) ([]snowflake.ID, error)
}

var (
	ErrInvalidID                  = errors.New("invalid_id")
	ErrNotFound                   = errors.New("not_found")
	ErrUnauthenticated            = errors.New("unauthenticated")
	ErrDepositNotRequired         = errors.New("deposit_not_required")
	ErrInvalidDepositState        = errors.New("invalid_deposit_state")
	ErrAmountExceedsAuthorization = errors.New("amount_exceeds_authorization")
	ErrInvalidAmount              = errors.New("invalid_amount")
	ErrMissingJustification       = errors.New("missing_justification")
)

// InvalidStateError reports an operation attempted from a state that does
// not allow it.
type InvalidStateError struct {
	From Status
	Op   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: cannot %s a %s deposit", ErrInvalidDepositState.Error(), e.Op, e.From)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidDepositState }
