package authorization

import (
	"context"
	"errors"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

const (
	ObjectBooking = "booking"
	ObjectDeposit = "deposit"
	ObjectListing = "listing"
	ObjectWallet  = "wallet"
)

const (
	ActionBookingView   = "booking.view"
	ActionBookingCancel = "booking.cancel"
	ActionBookingPay    = "booking.pay"

	ActionDepositView    = "deposit.view"
	ActionDepositCapture = "deposit.capture"
	ActionDepositRelease = "deposit.release"

	ActionListingUpdate = "listing.update"

	ActionWalletView = "wallet.view"
)

const (
	ScopeAny = "any"
	ScopeOwn = "own"
)

const SystemActor = "system"

// Service decides whether an actor may perform an action. Owners lists the
// user subjects ("user:<id>") that own the resource; own-scoped policies
// match when the actor is one of them.
type Service interface {
	Authorize(ctx context.Context, actor, object, action string, owners ...string) error
}
