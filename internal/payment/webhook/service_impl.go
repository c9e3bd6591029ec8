package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/stayledger/internal/booking/domain"
	"github.com/smallbiznis/stayledger/internal/clock"
	"github.com/smallbiznis/stayledger/internal/config"
	depositdomain "github.com/smallbiznis/stayledger/internal/deposit/domain"
	"github.com/smallbiznis/stayledger/internal/notification"
	obsmetrics "github.com/smallbiznis/stayledger/internal/observability/metrics"
	"github.com/smallbiznis/stayledger/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
	walletdomain "github.com/smallbiznis/stayledger/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Cfg         config.Config
	Repo        paymentdomain.Repository
	Adapters    *adapters.Registry
	Bookings    bookingdomain.Service
	BookingRepo bookingdomain.Repository
	Wallets     walletdomain.Service
	Deposits    depositdomain.Service
	Clock       clock.Clock
	Notifier    *notification.Dispatcher `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        paymentdomain.Repository
	adapters    *adapters.Registry
	bookings    bookingdomain.Service
	bookingRepo bookingdomain.Repository
	wallets     walletdomain.Service
	deposits    depositdomain.Service
	clock       clock.Clock
	notifier    *notification.Dispatcher
	obsMetrics  *obsmetrics.Metrics

	verifySignatures bool
	tolerance        decimal.Decimal
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("payment.webhook"),
		genID:            p.GenID,
		repo:             p.Repo,
		adapters:         p.Adapters,
		bookings:         p.Bookings,
		bookingRepo:      p.BookingRepo,
		wallets:          p.Wallets,
		deposits:         p.Deposits,
		clock:            p.Clock,
		notifier:         p.Notifier,
		obsMetrics:       p.ObsMetrics,
		verifySignatures: p.Cfg.Payment.VerifyWebhookSignatures,
		tolerance:        decimal.NewFromFloat(p.Cfg.Payment.AmountTolerancePercent),
	}
}

// effects collects what to announce once the event transaction commits.
type effects struct {
	messages []notification.Message
}

func (e *effects) notify(msg notification.Message) {
	e.messages = append(e.messages, msg)
}

// Ingest authenticates, normalizes and applies one webhook delivery. The
// event record and every state change it causes commit together, so a
// failed delivery leaves nothing behind and a redelivery applies cleanly.
func (s *Service) Ingest(ctx context.Context, network string, payload []byte, headers http.Header) (paymentdomain.IngestResult, error) {
	network = strings.ToLower(strings.TrimSpace(network))
	adapter, err := s.adapters.Webhook(network)
	if err != nil {
		return paymentdomain.IngestResult{}, err
	}
	if !json.Valid(payload) {
		return paymentdomain.IngestResult{}, paymentdomain.ErrInvalidPayload
	}
	if s.verifySignatures {
		if err := adapter.Verify(ctx, payload, headers); err != nil {
			s.log.Warn("webhook.signature_rejected", zap.String("network", network), zap.Error(err))
			return paymentdomain.IngestResult{}, err
		}
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		return paymentdomain.IngestResult{}, err
	}
	if event == nil || strings.TrimSpace(event.EventID) == "" {
		return paymentdomain.IngestResult{}, paymentdomain.ErrInvalidEvent
	}
	event.Network = network
	if event.Payload == nil {
		event.Payload = payload
	}

	result := paymentdomain.IngestResult{EventID: event.EventID, Kind: event.Kind}
	var out effects
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		record := paymentdomain.ProcessedEvent{
			ID:         s.genID.Generate(),
			Network:    network,
			EventID:    event.EventID,
			EventType:  event.RawType,
			Payload:    datatypes.JSON(event.Payload),
			ReceivedAt: now,
		}
		inserted, err := s.repo.InsertEvent(ctx, tx, &record)
		if err != nil {
			return err
		}
		if !inserted {
			return paymentdomain.ErrDuplicateEvent
		}

		switch event.Kind {
		case paymentdomain.EventCaptureCompleted:
			err = s.captureCompleted(ctx, tx, event, &result, &out)
		case paymentdomain.EventCaptureRefunded:
			err = s.captureRefunded(ctx, tx, event, &result, &out)
		case paymentdomain.EventCaptureDenied:
			err = s.captureDenied(ctx, tx, event, &result, &out)
		case paymentdomain.EventOrderApproved:
			err = s.orderApproved(ctx, tx, event, &result)
		case paymentdomain.EventUnknown:
			result.Ignored = true
		default:
			return fmt.Errorf("%w: kind %q", paymentdomain.ErrInvalidEvent, event.Kind)
		}
		if err != nil {
			return err
		}
		return s.repo.MarkEventProcessed(ctx, tx, record.ID, s.clock.Now())
	})
	if errors.Is(err, paymentdomain.ErrDuplicateEvent) {
		s.log.Info("webhook.duplicate",
			zap.String("network", network),
			zap.String("event_id", event.EventID),
		)
		result.Duplicate = true
		return result, nil
	}
	if err != nil {
		s.log.Warn("webhook.rejected",
			zap.String("network", network),
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.RawType),
			zap.Error(err),
		)
		return paymentdomain.IngestResult{}, err
	}

	s.obsMetrics.RecordPaymentEvent(ctx, network, string(event.Kind))
	for _, msg := range out.messages {
		s.notifier.Send(ctx, msg)
	}
	s.log.Info("webhook.processed",
		zap.String("network", network),
		zap.String("event_id", event.EventID),
		zap.String("kind", string(event.Kind)),
		zap.Bool("ignored", result.Ignored),
	)
	return result, nil
}

// locate finds the transaction an event refers to: by order or intent id,
// then capture id, then the latest booking transaction named in metadata.
func (s *Service) locate(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event) (*paymentdomain.Transaction, error) {
	if event.ExternalRef != "" {
		txn, err := s.repo.FindByExternalRef(ctx, tx, event.Network, event.ExternalRef)
		if err != nil || txn != nil {
			return txn, err
		}
	}
	if event.CaptureRef != "" {
		txn, err := s.repo.FindByCaptureRef(ctx, tx, event.Network, event.CaptureRef)
		if err != nil || txn != nil {
			return txn, err
		}
	}
	if event.BookingID != 0 {
		return s.repo.FindLatestForBooking(ctx, tx, event.Network, event.BookingID, paymentdomain.PurposeBooking)
	}
	return nil, nil
}

func (s *Service) ignore(event *paymentdomain.Event, result *paymentdomain.IngestResult, reason string) error {
	result.Ignored = true
	s.log.Info("webhook.ignored",
		zap.String("network", event.Network),
		zap.String("event_id", event.EventID),
		zap.String("kind", string(event.Kind)),
		zap.String("reason", reason),
	)
	return nil
}

func (s *Service) captureCompleted(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event, result *paymentdomain.IngestResult, out *effects) error {
	txn, err := s.locate(ctx, tx, event)
	if err != nil {
		return err
	}
	if txn == nil {
		return s.ignore(event, result, "unknown_transaction")
	}
	if txn.Status == paymentdomain.StatusRefunded {
		return s.ignore(event, result, "already_refunded")
	}
	if txn.Purpose == paymentdomain.PurposeDeposit {
		return s.depositCaptured(ctx, tx, event, txn)
	}
	if txn.Status == paymentdomain.StatusCaptured && txn.FailureReason != "" {
		// The authorization call already settled this capture as failed.
		return s.ignore(event, result, "settled_as_failed")
	}
	if event.AmountCents > 0 && !s.withinTolerance(event.AmountCents, txn.AmountCents) {
		return fmt.Errorf("%w: received %d expected %d", paymentdomain.ErrAmountMismatch, event.AmountCents, txn.AmountCents)
	}

	txn.Status = paymentdomain.StatusCaptured
	txn.FailureReason = ""
	if event.CaptureRef != "" {
		txn.CaptureRef = event.CaptureRef
	}
	txn.UpdatedAt = s.clock.Now()
	if err := s.repo.SaveOutcome(ctx, tx, txn); err != nil {
		return err
	}

	confirmed, err := s.bookings.MarkConfirmed(ctx, tx, txn.BookingID)
	if err != nil {
		return err
	}
	booking, err := s.bookingRepo.FindByID(ctx, tx, txn.BookingID)
	if err != nil {
		return err
	}
	if booking == nil {
		return bookingdomain.ErrNotFound
	}
	if booking.Status != bookingdomain.StatusConfirmed {
		s.log.Warn("webhook.capture_for_inactive_booking",
			zap.String("booking_id", booking.ID.String()),
			zap.String("status", string(booking.Status)),
		)
		return nil
	}

	// Refunds that landed before the capture were never debited, so the
	// credit covers only the share still kept.
	creditCents := booking.HostShareCents() - hostShareOf(*booking, booking.RefundedAmountCents)
	credit, err := s.wallets.Credit(ctx, tx, walletdomain.PostingRequest{
		HostID:      booking.HostID,
		BookingID:   booking.ID,
		AmountCents: creditCents,
		Reason:      walletdomain.BookingCreditReason(booking.ID),
	})
	if err != nil {
		return err
	}

	if confirmed {
		out.notify(notification.Message{
			Kind:        notification.KindBookingConfirmed,
			RecipientID: booking.GuestID,
			BookingID:   booking.ID,
			Data:        map[string]any{"reference": booking.Reference},
		})
	}
	if !credit.Duplicate {
		out.notify(notification.Message{
			Kind:        notification.KindWalletCredited,
			RecipientID: booking.HostID,
			BookingID:   booking.ID,
			Data: map[string]any{
				"amount_cents":  credit.Entry.DeltaCents,
				"balance_cents": credit.BalanceCents,
				"currency":      booking.Currency,
			},
		})
	}
	return nil
}

// depositCaptured records a deposit capture. Holds are often captured
// partially, so any amount up to the authorization is accepted.
func (s *Service) depositCaptured(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event, txn *paymentdomain.Transaction) error {
	if event.AmountCents > txn.AmountCents {
		return fmt.Errorf("%w: captured %d above hold %d", paymentdomain.ErrAmountMismatch, event.AmountCents, txn.AmountCents)
	}
	txn.Status = paymentdomain.StatusCaptured
	txn.FailureReason = ""
	if event.CaptureRef != "" {
		txn.CaptureRef = event.CaptureRef
	}
	txn.UpdatedAt = s.clock.Now()
	return s.repo.SaveOutcome(ctx, tx, txn)
}

func (s *Service) captureRefunded(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event, result *paymentdomain.IngestResult, out *effects) error {
	if !event.Correlated() {
		return paymentdomain.ErrUncorrelatedRefund
	}
	if event.AmountCents <= 0 {
		return fmt.Errorf("%w: refund amount %d", paymentdomain.ErrInvalidEvent, event.AmountCents)
	}
	txn, err := s.locate(ctx, tx, event)
	if err != nil {
		return err
	}
	if txn == nil {
		return s.ignore(event, result, "unknown_transaction")
	}
	if txn.Purpose == paymentdomain.PurposeDeposit {
		return s.ignore(event, result, "deposit_refund")
	}

	outcome, err := s.bookings.ApplyRefund(ctx, tx, txn.BookingID, event.AmountCents)
	if err != nil {
		return err
	}
	if outcome.FullyRefunded {
		if _, err := s.repo.TransitionStatus(ctx, tx, txn.ID,
			[]paymentdomain.TransactionStatus{paymentdomain.StatusCaptured, paymentdomain.StatusApproved},
			paymentdomain.StatusRefunded, s.clock.Now()); err != nil {
			return err
		}
	}
	if outcome.AppliedCents == 0 {
		return nil
	}

	booking := outcome.Booking
	out.notify(notification.Message{
		Kind:        notification.KindBookingRefunded,
		RecipientID: booking.GuestID,
		BookingID:   booking.ID,
		Data: map[string]any{
			"refund_cents":   outcome.AppliedCents,
			"fully_refunded": outcome.FullyRefunded,
			"currency":       booking.Currency,
		},
	})

	// Without a credit there is nothing to take back; a later capture
	// credits only the unrefunded share.
	credited, err := s.wallets.FindEntry(ctx, tx, booking.HostID, walletdomain.BookingCreditReason(booking.ID))
	if err != nil {
		return err
	}
	if credited == nil {
		return nil
	}
	debitCents := refundDebit(booking, outcome.AppliedCents)
	if debitCents == 0 {
		return nil
	}
	refundRef := event.RefundRef
	if refundRef == "" {
		refundRef = event.EventID
	}
	debit, err := s.wallets.Debit(ctx, tx, walletdomain.PostingRequest{
		HostID:      booking.HostID,
		BookingID:   booking.ID,
		AmountCents: debitCents,
		Reason:      walletdomain.RefundDebitReason(booking.ID, refundRef),
	})
	if err != nil {
		return err
	}
	result.ShortfallCents = debit.ShortfallCents
	if debit.ShortfallCents > 0 {
		out.notify(notification.Message{
			Kind:        notification.KindWalletShortfall,
			RecipientID: booking.HostID,
			BookingID:   booking.ID,
			Data:        map[string]any{"shortfall_cents": debit.ShortfallCents, "currency": booking.Currency},
		})
	}
	return nil
}

func (s *Service) captureDenied(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event, result *paymentdomain.IngestResult, out *effects) error {
	txn, err := s.locate(ctx, tx, event)
	if err != nil {
		return err
	}
	if txn == nil {
		return s.ignore(event, result, "unknown_transaction")
	}

	changed, err := s.repo.TransitionStatus(ctx, tx, txn.ID,
		[]paymentdomain.TransactionStatus{paymentdomain.StatusCreated, paymentdomain.StatusApproved},
		paymentdomain.StatusFailed, s.clock.Now())
	if err != nil {
		return err
	}
	if !changed {
		return s.ignore(event, result, "not_pending")
	}
	if txn.Purpose == paymentdomain.PurposeDeposit {
		return nil
	}

	cancelled, err := s.bookings.MarkCancelled(ctx, tx, txn.BookingID)
	if err != nil {
		return err
	}
	if !cancelled {
		return nil
	}
	booking, err := s.bookingRepo.FindByID(ctx, tx, txn.BookingID)
	if err != nil || booking == nil {
		return err
	}
	out.notify(notification.Message{
		Kind:        notification.KindBookingPaymentFailed,
		RecipientID: booking.GuestID,
		BookingID:   booking.ID,
		Data:        map[string]any{"reference": booking.Reference, "reason": "capture_denied"},
	})
	return nil
}

func (s *Service) orderApproved(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event, result *paymentdomain.IngestResult) error {
	txn, err := s.locate(ctx, tx, event)
	if err != nil {
		return err
	}
	if txn == nil {
		return s.ignore(event, result, "unknown_transaction")
	}

	if _, err := s.repo.TransitionStatus(ctx, tx, txn.ID,
		[]paymentdomain.TransactionStatus{paymentdomain.StatusCreated},
		paymentdomain.StatusApproved, s.clock.Now()); err != nil {
		return err
	}
	if txn.Purpose == paymentdomain.PurposeDeposit && s.deposits != nil {
		_, err := s.deposits.ConfirmHold(ctx, tx, txn.ExternalRef)
		return err
	}
	return nil
}

func (s *Service) withinTolerance(received, expected int64) bool {
	return paymentdomain.WithinTolerance(received, expected, s.tolerance)
}

// refundDebit is the host share of one refund. It is the difference of the
// cumulative shares before and after the refund, so rounding never lets the
// debits of a booking add up to more than its credit.
func refundDebit(booking bookingdomain.Booking, appliedCents int64) int64 {
	refunded := booking.RefundedAmountCents
	return hostShareOf(booking, refunded) - hostShareOf(booking, refunded-appliedCents)
}

// hostShareOf scales a refunded part of the stay price to the host's share
// of it.
func hostShareOf(booking bookingdomain.Booking, refundedCents int64) int64 {
	if booking.TotalPriceCents <= 0 || refundedCents <= 0 {
		return 0
	}
	return decimal.NewFromInt(booking.HostShareCents()).
		Mul(decimal.NewFromInt(refundedCents)).
		Div(decimal.NewFromInt(booking.TotalPriceCents)).
		Round(0).
		IntPart()
}
