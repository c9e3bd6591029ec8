package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stayledger/internal/auth"
	"github.com/smallbiznis/stayledger/internal/authorization"
	bookingdomain "github.com/smallbiznis/stayledger/internal/booking/domain"
	"github.com/smallbiznis/stayledger/internal/clock"
	"github.com/smallbiznis/stayledger/internal/config"
	depositdomain "github.com/smallbiznis/stayledger/internal/deposit/domain"
	"github.com/smallbiznis/stayledger/internal/notification"
	obsmetrics "github.com/smallbiznis/stayledger/internal/observability/metrics"
	"github.com/smallbiznis/stayledger/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Repo       paymentdomain.Repository
	Networks   *adapters.Registry
	Bookings   bookingdomain.Service
	Deposits   depositdomain.Service
	Authz      authorization.Service
	Clock      clock.Clock
	Notifier   *notification.Dispatcher `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       paymentdomain.Repository
	networks   *adapters.Registry
	bookings   bookingdomain.Service
	deposits   depositdomain.Service
	authz      authorization.Service
	clock      clock.Clock
	notifier   *notification.Dispatcher
	obsMetrics *obsmetrics.Metrics
	validate   *validator.Validate
	tolerance  decimal.Decimal
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		networks:   p.Networks,
		bookings:   p.Bookings,
		deposits:   p.Deposits,
		authz:      p.Authz,
		clock:      p.Clock,
		notifier:   p.Notifier,
		obsMetrics: p.ObsMetrics,
		validate:   validator.New(),
		tolerance:  decimal.NewFromFloat(p.Cfg.Payment.AmountTolerancePercent),
	}
}

// Authorize charges the guest total for a PENDING booking. A declined or
// failed authorization cancels the booking and releases its dates.
func (s *Service) Authorize(ctx context.Context, req paymentdomain.AuthorizeBookingRequest) (paymentdomain.AuthorizeBookingResult, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return paymentdomain.AuthorizeBookingResult{}, paymentdomain.ErrUnauthenticated
	}
	req.Network = strings.ToLower(strings.TrimSpace(req.Network))
	req.Credential = strings.TrimSpace(req.Credential)
	if err := s.validate.Struct(req); err != nil {
		return paymentdomain.AuthorizeBookingResult{}, err
	}

	booking, err := s.loadBooking(ctx, req.BookingID)
	if err != nil {
		return paymentdomain.AuthorizeBookingResult{}, err
	}
	if err := s.authz.Authorize(ctx, actor.Subject(), authorization.ObjectBooking, authorization.ActionBookingPay,
		authorization.UserSubject(booking.GuestID)); err != nil {
		return paymentdomain.AuthorizeBookingResult{}, err
	}
	if booking.Status != bookingdomain.StatusPending {
		return paymentdomain.AuthorizeBookingResult{}, bookingdomain.ErrInvalidStatus
	}

	network, err := s.networks.Network(req.Network)
	if err != nil {
		return paymentdomain.AuthorizeBookingResult{}, err
	}

	now := s.clock.Now()
	txn := paymentdomain.Transaction{
		ID:          s.genID.Generate(),
		BookingID:   booking.ID,
		Network:     network.Name(),
		Purpose:     paymentdomain.PurposeBooking,
		AmountCents: booking.GuestTotalCents(),
		Currency:    booking.Currency,
		Status:      paymentdomain.StatusCreated,
		Metadata:    map[string]any{"booking_reference": booking.Reference},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertTransaction(ctx, s.db, &txn); err != nil {
		return paymentdomain.AuthorizeBookingResult{}, err
	}

	authz, err := network.Authorize(ctx, paymentdomain.AuthorizeRequest{
		AmountCents:    txn.AmountCents,
		Currency:       txn.Currency,
		Credential:     req.Credential,
		IdempotencyKey: "booking-" + txn.ID.String(),
		Metadata: map[string]string{
			"booking_id": booking.ID.String(),
			"purpose":    string(paymentdomain.PurposeBooking),
		},
	})
	if err != nil {
		return paymentdomain.AuthorizeBookingResult{}, s.fail(ctx, booking, &txn, paymentdomain.StatusFailed, err)
	}

	txn.ExternalRef = authz.ExternalRef
	txn.CaptureRef = authz.CaptureRef
	if authz.AmountCents > 0 && !paymentdomain.WithinTolerance(authz.AmountCents, txn.AmountCents, s.tolerance) {
		return paymentdomain.AuthorizeBookingResult{}, s.reverseMismatch(ctx, network, booking, &txn, authz)
	}
	txn.Status = authz.Status
	txn.UpdatedAt = s.clock.Now()

	var confirmed bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.SaveOutcome(ctx, tx, &txn); err != nil {
			return err
		}
		if txn.Status != paymentdomain.StatusCaptured && txn.Status != paymentdomain.StatusApproved {
			return nil
		}
		var err error
		confirmed, err = s.bookings.MarkConfirmed(ctx, tx, booking.ID)
		return err
	})
	if err != nil {
		return paymentdomain.AuthorizeBookingResult{}, err
	}

	if confirmed {
		booking.Status = bookingdomain.StatusConfirmed
		s.obsMetrics.RecordBooking(ctx, "confirmed")
		s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindBookingConfirmed,
			RecipientID: booking.GuestID,
			BookingID:   booking.ID,
			Data: map[string]any{
				"reference":    booking.Reference,
				"amount_cents": txn.AmountCents,
				"currency":     txn.Currency,
			},
		})
		s.holdDeposit(ctx, booking, req)
	}

	s.log.Info("payment.authorized",
		zap.String("booking_id", booking.ID.String()),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("network", txn.Network),
		zap.String("status", string(txn.Status)),
	)

	return paymentdomain.AuthorizeBookingResult{
		Booking:      booking,
		Transaction:  txn,
		ClientSecret: authz.ClientSecret,
	}, nil
}

// reverseMismatch handles a network that moved a different amount than the
// guest total. Captured money is refunded before the booking is cancelled.
// When the refund fails the transaction stays CAPTURED with its references
// so the charge remains visible for manual settlement.
func (s *Service) reverseMismatch(ctx context.Context, network paymentdomain.Network, booking bookingdomain.Booking, txn *paymentdomain.Transaction, authz paymentdomain.Authorization) error {
	cause := &paymentdomain.PaymentError{
		Network: txn.Network,
		Reason:  fmt.Sprintf("%s: moved %d expected %d", paymentdomain.ErrAmountMismatch.Error(), authz.AmountCents, txn.AmountCents),
	}
	s.log.Error("payment.amount_mismatch",
		zap.String("booking_id", booking.ID.String()),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("network", txn.Network),
		zap.Int64("expected_cents", txn.AmountCents),
		zap.Int64("moved_cents", authz.AmountCents),
	)

	status := paymentdomain.StatusFailed
	switch authz.Status {
	case paymentdomain.StatusCaptured:
		status = paymentdomain.StatusCaptured
		if refunder, ok := network.(paymentdomain.Refunder); ok {
			err := refunder.Refund(ctx, authz.CaptureRef, authz.AmountCents, txn.Currency, "refund-"+txn.ID.String())
			if err == nil {
				status = paymentdomain.StatusRefunded
			} else {
				s.log.Error("payment.mismatch_refund_failed",
					zap.String("transaction_id", txn.ID.String()),
					zap.String("capture_ref", authz.CaptureRef),
					zap.Error(err),
				)
			}
		}
	case paymentdomain.StatusApproved:
		// An open authorization is voided rather than refunded.
		if err := network.Cancel(ctx, authz.ExternalRef); err != nil {
			s.log.Error("payment.mismatch_cancel_failed",
				zap.String("transaction_id", txn.ID.String()),
				zap.String("external_ref", authz.ExternalRef),
				zap.Error(err),
			)
		}
	}
	return s.fail(ctx, booking, txn, status, cause)
}

// fail records the unsuccessful attempt with status and cancels the booking
// in one transaction. The returned error always matches ErrPaymentFailed.
func (s *Service) fail(ctx context.Context, booking bookingdomain.Booking, txn *paymentdomain.Transaction, status paymentdomain.TransactionStatus, cause error) error {
	reason := paymentdomain.FailureReason(cause)
	txn.Status = status
	txn.FailureReason = reason
	txn.UpdatedAt = s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.SaveOutcome(ctx, tx, txn); err != nil {
			return err
		}
		_, err := s.bookings.MarkCancelled(ctx, tx, booking.ID)
		return err
	})
	if err != nil {
		s.log.Error("payment.failure_save_failed", zap.String("booking_id", booking.ID.String()), zap.Error(err))
		return err
	}

	s.obsMetrics.RecordBooking(ctx, "payment_failed")
	s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindBookingPaymentFailed,
		RecipientID: booking.GuestID,
		BookingID:   booking.ID,
		Data:        map[string]any{"reference": booking.Reference, "reason": reason},
	})
	s.log.Warn("payment.declined",
		zap.String("booking_id", booking.ID.String()),
		zap.String("network", txn.Network),
		zap.String("reason", reason),
	)

	var paymentErr *paymentdomain.PaymentError
	if errors.As(cause, &paymentErr) {
		return cause
	}
	return fmt.Errorf("%w: %w", paymentdomain.ErrPaymentFailed, cause)
}

// holdDeposit places the listing's security deposit once the booking is
// confirmed. The booking stands even when the hold fails.
func (s *Service) holdDeposit(ctx context.Context, booking bookingdomain.Booking, req paymentdomain.AuthorizeBookingRequest) {
	if s.deposits == nil {
		return
	}
	credential := strings.TrimSpace(req.DepositCredential)
	if credential == "" && req.Network == paymentdomain.NetworkStripe {
		credential = req.Credential
	}
	if credential == "" {
		return
	}

	deposit, err := s.deposits.CreateHold(ctx, depositdomain.HoldRequest{Booking: booking, Credential: credential})
	switch {
	case errors.Is(err, depositdomain.ErrDepositNotRequired):
	case err != nil:
		s.log.Warn("payment.deposit_hold_failed", zap.String("booking_id", booking.ID.String()), zap.Error(err))
	default:
		s.log.Info("payment.deposit_hold_placed",
			zap.String("booking_id", booking.ID.String()),
			zap.String("deposit_id", deposit.ID.String()),
			zap.String("status", string(deposit.Status)),
		)
	}
}

func (s *Service) ListForBooking(ctx context.Context, bookingID string) ([]paymentdomain.Transaction, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return nil, paymentdomain.ErrUnauthenticated
	}
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, actor.Subject(), authorization.ObjectBooking, authorization.ActionBookingView,
		authorization.UserSubject(booking.GuestID), authorization.UserSubject(booking.HostID)); err != nil {
		return nil, err
	}

	items, err := s.repo.ListForBooking(ctx, s.db, booking.ID)
	if err != nil {
		return nil, err
	}
	out := make([]paymentdomain.Transaction, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (s *Service) loadBooking(ctx context.Context, rawID string) (bookingdomain.Booking, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(rawID))
	if err != nil || id == 0 {
		return bookingdomain.Booking{}, bookingdomain.ErrInvalidID
	}
	return s.bookings.GetByID(ctx, id)
}
