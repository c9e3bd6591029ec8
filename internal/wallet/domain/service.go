package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type PostingRequest struct {
	HostID      snowflake.ID
	BookingID   snowflake.ID
	AmountCents int64
	Reason      string
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

type Service interface {
	// Credit and Debit join the caller's transaction when tx is non-nil.
	Credit(ctx context.Context, tx *gorm.DB, req PostingRequest) (Result, error)
	// Debit clamps at the available balance and reports the remainder as
	// ShortfallCents.
	Debit(ctx context.Context, tx *gorm.DB, req PostingRequest) (Result, error)

	// FindEntry returns the posting recorded under reason, or nil. It joins
	// the caller's transaction when tx is non-nil.
	FindEntry(ctx context.Context, tx *gorm.DB, hostID snowflake.ID, reason string) (*Entry, error)

	GetBalance(ctx context.Context, hostID snowflake.ID) (Wallet, error)
	ListEntries(ctx context.Context, hostID snowflake.ID, page pagination.Pagination) (ListEntriesResponse, error)
	ReconcileBalance(ctx context.Context, hostID snowflake.ID) (Reconciliation, error)

	// MyWallet and MyEntries act for the authenticated host.
	MyWallet(ctx context.Context) (Wallet, error)
	MyEntries(ctx context.Context, page pagination.Pagination) (ListEntriesResponse, error)
}

var (
	ErrInvalidHost     = errors.New("invalid_host")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidReason   = errors.New("invalid_reason")
	ErrInvalidCursor   = errors.New("invalid_page_token")
	ErrUnauthenticated = errors.New("unauthenticated")
)
