package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stayledger/internal/auth"
	"github.com/smallbiznis/stayledger/internal/authorization"
	bookingdomain "github.com/smallbiznis/stayledger/internal/booking/domain"
	"github.com/smallbiznis/stayledger/internal/clock"
	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/internal/deposit/domain"
	listingdomain "github.com/smallbiznis/stayledger/internal/listing/domain"
	"github.com/smallbiznis/stayledger/internal/notification"
	"github.com/smallbiznis/stayledger/internal/observability/metrics"
	"github.com/smallbiznis/stayledger/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
	"github.com/smallbiznis/stayledger/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCapture = "capture"
	opRelease = "release"
	opExpire  = "expire"
)

// revertTimeout bounds the rollback of a claim whose network call failed.
const revertTimeout = 5 * time.Second

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Config   config.Config
	Repo     domain.Repository
	Payments paymentdomain.Repository
	Networks *adapters.Registry
	Bookings bookingdomain.Service
	Listings listingdomain.Service
	Authz    authorization.Service
	Clock    clock.Clock
	PDF      pdf.Provider
	Notifier *notification.Dispatcher `optional:"true"`
	Metrics  *metrics.Metrics         `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	cfg      config.DepositConfig
	repo     domain.Repository
	payments paymentdomain.Repository
	networks *adapters.Registry
	bookings bookingdomain.Service
	listings listingdomain.Service
	authz    authorization.Service
	clock    clock.Clock
	pdf      pdf.Provider
	notifier *notification.Dispatcher
	metrics  *metrics.Metrics
	validate *validator.Validate
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("deposit.service"),
		genID:    p.GenID,
		cfg:      p.Config.Deposit,
		repo:     p.Repo,
		payments: p.Payments,
		networks: p.Networks,
		bookings: p.Bookings,
		listings: p.Listings,
		authz:    p.Authz,
		clock:    p.Clock,
		pdf:      p.PDF,
		notifier: p.Notifier,
		metrics:  p.Metrics,
		validate: validator.New(),
	}
}

func (s *Service) CreateHold(ctx context.Context, req domain.HoldRequest) (domain.SecurityDeposit, error) {
	booking := req.Booking
	if booking.ID == 0 {
		return domain.SecurityDeposit{}, domain.ErrInvalidID
	}
	policy, err := s.listings.DepositPolicy(ctx, booking.ListingID)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	if !policy.Active() {
		return domain.SecurityDeposit{}, domain.ErrDepositNotRequired
	}

	deposit, err := s.pendingDeposit(ctx, booking, policy)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	if deposit.Status != domain.StatusPending {
		return deposit, nil
	}

	network, err := s.networks.Network(paymentdomain.NetworkStripe)
	if err != nil {
		return deposit, err
	}

	now := s.clock.Now()
	txn := paymentdomain.Transaction{
		ID:          s.genID.Generate(),
		BookingID:   booking.ID,
		Network:     network.Name(),
		Purpose:     paymentdomain.PurposeDeposit,
		AmountCents: deposit.AmountCents,
		Currency:    deposit.Currency,
		Status:      paymentdomain.StatusCreated,
		Metadata:    map[string]any{"deposit_id": deposit.ID.String()},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.payments.InsertTransaction(ctx, s.db, &txn); err != nil {
		return deposit, err
	}

	hold, err := network.Authorize(ctx, paymentdomain.AuthorizeRequest{
		AmountCents:    deposit.AmountCents,
		Currency:       deposit.Currency,
		Credential:     req.Credential,
		ManualCapture:  true,
		IdempotencyKey: "deposit-" + deposit.ID.String(),
		Metadata: map[string]string{
			"booking_id": booking.ID.String(),
			"deposit_id": deposit.ID.String(),
			"purpose":    string(paymentdomain.PurposeDeposit),
		},
	})
	if err != nil {
		reason := paymentdomain.FailureReason(err)
		txn.Status = paymentdomain.StatusFailed
		txn.FailureReason = reason
		txn.UpdatedAt = s.clock.Now()
		if saveErr := s.payments.SaveOutcome(ctx, s.db, &txn); saveErr != nil {
			s.log.Error("deposit.transaction_save_failed", zap.Error(saveErr))
		}
		if saveErr := s.repo.RecordFailure(ctx, s.db, deposit.ID, reason, s.clock.Now()); saveErr != nil {
			s.log.Error("deposit.failure_save_failed", zap.Error(saveErr))
		}
		s.log.Warn("deposit.hold_failed",
			zap.String("deposit_id", deposit.ID.String()),
			zap.String("booking_id", booking.ID.String()),
			zap.String("reason", reason),
		)
		return deposit, err
	}

	txn.ExternalRef = hold.ExternalRef
	txn.Status = hold.Status
	txn.UpdatedAt = s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.payments.SaveOutcome(ctx, tx, &txn); err != nil {
			return err
		}
		if hold.Status == paymentdomain.StatusCreated {
			// Customer action pending; the network confirms the hold by webhook.
			return s.repo.AttachIntent(ctx, tx, deposit.ID, hold.ExternalRef, txn.UpdatedAt)
		}
		_, err := s.repo.MarkAuthorized(ctx, tx, deposit.ID, hold.ExternalRef, txn.UpdatedAt)
		return err
	})
	if err != nil {
		return deposit, err
	}

	updated, err := s.load(ctx, s.db, deposit.ID)
	if err != nil {
		return deposit, err
	}
	if updated.Status == domain.StatusAuthorized {
		s.transitioned(ctx, domain.StatusPending, updated)
	}
	return updated, nil
}

// pendingDeposit returns the booking's deposit, inserting a PENDING row
// sized by the listing policy when none exists yet.
func (s *Service) pendingDeposit(ctx context.Context, booking bookingdomain.Booking, policy *listingdomain.DepositPolicy) (domain.SecurityDeposit, error) {
	existing, err := s.repo.FindByBooking(ctx, s.db, booking.ID)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	refundDays := policy.RefundDays
	if refundDays <= 0 {
		refundDays = s.cfg.DefaultRefundDays
	}
	currency := strings.ToUpper(strings.TrimSpace(policy.Currency))
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	expiresAt := booking.EndDate.AddDate(0, 0, refundDays)
	now := s.clock.Now()

	deposit := domain.SecurityDeposit{
		ID:          s.genID.Generate(),
		BookingID:   booking.ID,
		ListingID:   booking.ListingID,
		GuestID:     booking.GuestID,
		HostID:      booking.HostID,
		AmountCents: policy.AmountCents,
		Currency:    currency,
		Status:      domain.StatusPending,
		ExpiresAt:   &expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	inserted, err := s.repo.Insert(ctx, s.db, &deposit)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	if !inserted {
		existing, err := s.repo.FindByBooking(ctx, s.db, booking.ID)
		if err != nil {
			return domain.SecurityDeposit{}, err
		}
		if existing == nil {
			return domain.SecurityDeposit{}, domain.ErrNotFound
		}
		return *existing, nil
	}
	return deposit, nil
}

func (s *Service) ConfirmHold(ctx context.Context, tx *gorm.DB, intentID string) (bool, error) {
	conn := s.db
	if tx != nil {
		conn = tx
	}
	deposit, err := s.repo.FindByIntent(ctx, conn, intentID)
	if err != nil || deposit == nil {
		return false, err
	}
	changed, err := s.repo.MarkAuthorized(ctx, conn, deposit.ID, intentID, s.clock.Now())
	if err != nil {
		return false, err
	}
	if changed {
		s.metrics.RecordDepositTransition(ctx, string(domain.StatusPending), string(domain.StatusAuthorized))
		s.log.Info("deposit.hold_confirmed", zap.String("deposit_id", deposit.ID.String()))
	}
	return changed, nil
}

func (s *Service) Capture(ctx context.Context, req domain.CaptureRequest) (domain.SecurityDeposit, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return domain.SecurityDeposit{}, domain.ErrUnauthenticated
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.SecurityDeposit{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.SecurityDeposit{}, domain.ErrMissingJustification
	}

	deposit, err := s.find(ctx, req.DepositID)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	if err := s.authz.Authorize(ctx, actor.Subject(), authorization.ObjectDeposit, authorization.ActionDepositCapture,
		authorization.UserSubject(deposit.HostID)); err != nil {
		return domain.SecurityDeposit{}, err
	}

	// The bound holds in every state, so over-capture never reports a state error.
	if req.AmountCents <= 0 {
		return domain.SecurityDeposit{}, domain.ErrInvalidAmount
	}
	if req.AmountCents > deposit.AmountCents {
		return domain.SecurityDeposit{}, domain.ErrAmountExceedsAuthorization
	}
	if deposit.Status != domain.StatusAuthorized {
		return domain.SecurityDeposit{}, &domain.InvalidStateError{From: deposit.Status, Op: opCapture}
	}

	target := domain.StatusPartiallyCaptured
	if req.AmountCents == deposit.AmountCents {
		target = domain.StatusCaptured
	}
	now := s.clock.Now()
	claimed, err := s.repo.ClaimCapture(ctx, s.db, domain.CaptureClaim{
		ID:          deposit.ID,
		Status:      target,
		AmountCents: req.AmountCents,
		Reason:      reason,
		Evidence:    req.Evidence,
		CapturedBy:  actor.UserID,
		CapturedAt:  now,
	})
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	if !claimed {
		return domain.SecurityDeposit{}, s.lostClaim(ctx, deposit.ID, opCapture)
	}

	network, err := s.networks.Network(paymentdomain.NetworkStripe)
	if err != nil {
		s.revertCapture(ctx, deposit.ID, target, err)
		return domain.SecurityDeposit{}, err
	}
	capture, err := network.Capture(ctx, deposit.IntentID, req.AmountCents)
	if err != nil {
		s.revertCapture(ctx, deposit.ID, target, err)
		return domain.SecurityDeposit{}, err
	}

	s.settleTransaction(ctx, deposit.IntentID, paymentdomain.StatusCaptured, capture.CaptureRef, "")
	updated, err := s.load(ctx, s.db, deposit.ID)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	s.transitioned(ctx, domain.StatusAuthorized, updated)
	s.log.Info("deposit.captured",
		zap.String("deposit_id", deposit.ID.String()),
		zap.String("status", string(target)),
		zap.Int64("amount_cents", req.AmountCents),
		zap.String("captured_by", actor.UserID.String()),
	)
	return updated, nil
}

func (s *Service) revertCapture(ctx context.Context, id snowflake.ID, from domain.Status, cause error) {
	reason := paymentdomain.FailureReason(cause)
	ctx, cancel := revertContext(ctx)
	defer cancel()
	if _, err := s.repo.RevertCapture(ctx, s.db, id, from, reason, s.clock.Now()); err != nil {
		s.log.Error("deposit.capture_revert_failed", zap.String("deposit_id", id.String()), zap.Error(err))
	}
	s.log.Warn("deposit.capture_failed", zap.String("deposit_id", id.String()), zap.String("reason", reason))
}

func (s *Service) Release(ctx context.Context, req domain.ReleaseRequest) (domain.SecurityDeposit, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return domain.SecurityDeposit{}, domain.ErrUnauthenticated
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.SecurityDeposit{}, err
	}
	deposit, err := s.find(ctx, req.DepositID)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	if err := s.authz.Authorize(ctx, actor.Subject(), authorization.ObjectDeposit, authorization.ActionDepositRelease,
		authorization.UserSubject(deposit.HostID)); err != nil {
		return domain.SecurityDeposit{}, err
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "released_by_host"
	}
	return s.release(ctx, deposit, reason, opRelease)
}

func (s *Service) ReleaseExpired(ctx context.Context, id snowflake.ID) (domain.SecurityDeposit, error) {
	if err := s.authz.Authorize(ctx, authorization.SystemActor, authorization.ObjectDeposit, authorization.ActionDepositRelease); err != nil {
		return domain.SecurityDeposit{}, err
	}
	deposit, err := s.load(ctx, s.db, id)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	if deposit.Status == domain.StatusAuthorized && !deposit.Expired(s.clock.Now()) {
		return domain.SecurityDeposit{}, &domain.InvalidStateError{From: deposit.Status, Op: opExpire}
	}
	return s.release(ctx, deposit, "expired", opExpire)
}

// release claims the row before calling the network so concurrent releases
// reach the network at most once.
func (s *Service) release(ctx context.Context, deposit domain.SecurityDeposit, reason, op string) (domain.SecurityDeposit, error) {
	if deposit.Status != domain.StatusAuthorized {
		return domain.SecurityDeposit{}, &domain.InvalidStateError{From: deposit.Status, Op: op}
	}

	claimed, err := s.repo.ClaimRelease(ctx, s.db, deposit.ID, reason, s.clock.Now())
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	if !claimed {
		return domain.SecurityDeposit{}, s.lostClaim(ctx, deposit.ID, op)
	}

	network, err := s.networks.Network(paymentdomain.NetworkStripe)
	if err == nil {
		err = network.Cancel(ctx, deposit.IntentID)
	}
	if err != nil {
		failure := paymentdomain.FailureReason(err)
		revertCtx, cancel := revertContext(ctx)
		_, revertErr := s.repo.RevertRelease(revertCtx, s.db, deposit.ID, failure, s.clock.Now())
		cancel()
		if revertErr != nil {
			s.log.Error("deposit.release_revert_failed", zap.String("deposit_id", deposit.ID.String()), zap.Error(revertErr))
		}
		s.log.Warn("deposit.release_failed", zap.String("deposit_id", deposit.ID.String()), zap.String("reason", failure))
		return domain.SecurityDeposit{}, err
	}

	s.settleTransaction(ctx, deposit.IntentID, paymentdomain.StatusFailed, "", "released")
	updated, err := s.load(ctx, s.db, deposit.ID)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	s.transitioned(ctx, domain.StatusAuthorized, updated)
	s.log.Info("deposit.released",
		zap.String("deposit_id", deposit.ID.String()),
		zap.String("reason", reason),
	)
	return updated, nil
}

// revertContext outlives ctx, which is often the deadline the failed
// network call just ran into.
func revertContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), revertTimeout)
}

func (s *Service) lostClaim(ctx context.Context, id snowflake.ID, op string) error {
	current, err := s.load(ctx, s.db, id)
	if err != nil {
		return err
	}
	return &domain.InvalidStateError{From: current.Status, Op: op}
}

// settleTransaction mirrors a deposit outcome onto its payment transaction.
// The deposit row is authoritative, so failures here are only logged.
func (s *Service) settleTransaction(ctx context.Context, intentID string, status paymentdomain.TransactionStatus, captureRef, failure string) {
	txn, err := s.payments.FindByExternalRef(ctx, s.db, paymentdomain.NetworkStripe, intentID)
	if err != nil || txn == nil {
		if err != nil {
			s.log.Warn("deposit.transaction_lookup_failed", zap.String("intent_id", intentID), zap.Error(err))
		}
		return
	}
	txn.Status = status
	if captureRef != "" {
		txn.CaptureRef = captureRef
	}
	txn.FailureReason = failure
	txn.UpdatedAt = s.clock.Now()
	if err := s.payments.SaveOutcome(ctx, s.db, txn); err != nil {
		s.log.Warn("deposit.transaction_save_failed", zap.String("intent_id", intentID), zap.Error(err))
	}
}

func (s *Service) transitioned(ctx context.Context, from domain.Status, deposit domain.SecurityDeposit) {
	s.metrics.RecordDepositTransition(ctx, string(from), string(deposit.Status))

	var kind notification.Kind
	data := map[string]any{
		"deposit_id":   deposit.ID.String(),
		"amount_cents": deposit.AmountCents,
		"currency":     deposit.Currency,
	}
	switch deposit.Status {
	case domain.StatusAuthorized:
		kind = notification.KindDepositAuthorized
		if deposit.ExpiresAt != nil {
			data["expires_at"] = deposit.ExpiresAt.Format(time.RFC3339)
		}
	case domain.StatusCaptured, domain.StatusPartiallyCaptured:
		kind = notification.KindDepositCaptured
		data["reason"] = deposit.CaptureReason
		if deposit.CapturedAmountCents != nil {
			data["captured_cents"] = *deposit.CapturedAmountCents
		}
	case domain.StatusReleased:
		kind = notification.KindDepositReleased
	default:
		return
	}
	s.notifier.Send(ctx, notification.Message{
		Kind:        kind,
		RecipientID: deposit.GuestID,
		BookingID:   deposit.BookingID,
		Data:        data,
	})
}

func (s *Service) Get(ctx context.Context, id string) (domain.SecurityDeposit, error) {
	deposit, err := s.find(ctx, id)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	if err := s.authorizeView(ctx, deposit); err != nil {
		return domain.SecurityDeposit{}, err
	}
	return deposit, nil
}

func (s *Service) GetByBooking(ctx context.Context, bookingID string) (domain.SecurityDeposit, error) {
	id, err := parseID(bookingID)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	deposit, err := s.repo.FindByBooking(ctx, s.db, id)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	if deposit == nil {
		return domain.SecurityDeposit{}, domain.ErrNotFound
	}
	if err := s.authorizeView(ctx, *deposit); err != nil {
		return domain.SecurityDeposit{}, err
	}
	return *deposit, nil
}

func (s *Service) Statement(ctx context.Context, id string) ([]byte, error) {
	deposit, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	data := pdf.StatementData{
		DepositID:  deposit.ID.String(),
		Status:     string(deposit.Status),
		IssuedAt:   s.clock.Now().Format("2006-01-02"),
		Authorized: formatMoney(deposit.AmountCents, deposit.Currency),
		Captured:   formatMoney(0, deposit.Currency),
		Released:   formatMoney(0, deposit.Currency),
		Evidence:   deposit.Evidence,
	}
	if booking, err := s.bookings.GetByID(ctx, deposit.BookingID); err == nil {
		data.BookingReference = booking.Reference
		data.StayPeriod = booking.Range().String()
	}
	if listing, err := s.listings.GetByID(ctx, deposit.ListingID); err == nil {
		data.ListingTitle = listing.Title
	}

	data.Events = append(data.Events, pdf.StatementEvent{At: stamp(deposit.CreatedAt), Description: "Hold requested"})
	switch deposit.Status {
	case domain.StatusCaptured, domain.StatusPartiallyCaptured:
		var captured int64
		if deposit.CapturedAmountCents != nil {
			captured = *deposit.CapturedAmountCents
		}
		data.Captured = formatMoney(captured, deposit.Currency)
		data.Released = formatMoney(deposit.AmountCents-captured, deposit.Currency)
		data.CaptureReason = deposit.CaptureReason
		if deposit.CapturedAt != nil {
			data.Events = append(data.Events, pdf.StatementEvent{
				At:          stamp(*deposit.CapturedAt),
				Description: fmt.Sprintf("Captured %s", data.Captured),
			})
		}
	case domain.StatusReleased:
		data.Released = data.Authorized
		data.ReleaseReason = deposit.ReleaseReason
		if deposit.ReleasedAt != nil {
			data.Events = append(data.Events, pdf.StatementEvent{At: stamp(*deposit.ReleasedAt), Description: "Hold released"})
		}
	}

	reader, err := s.pdf.GenerateDepositStatement(ctx, data)
	if err != nil {
		return nil, err
	}
	if reader == nil {
		return nil, errors.New("statement generator returned no document")
	}
	return io.ReadAll(reader)
}

func (s *Service) ListExpired(ctx context.Context, limit int) ([]snowflake.ID, error) {
	return s.repo.ListExpired(ctx, s.db, s.clock.Now(), limit)
}

func (s *Service) authorizeView(ctx context.Context, deposit domain.SecurityDeposit) error {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return domain.ErrUnauthenticated
	}
	return s.authz.Authorize(ctx, actor.Subject(), authorization.ObjectDeposit, authorization.ActionDepositView,
		authorization.UserSubject(deposit.GuestID), authorization.UserSubject(deposit.HostID))
}

func (s *Service) find(ctx context.Context, rawID string) (domain.SecurityDeposit, error) {
	id, err := parseID(rawID)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	return s.load(ctx, s.db, id)
}

func (s *Service) load(ctx context.Context, conn *gorm.DB, id snowflake.ID) (domain.SecurityDeposit, error) {
	deposit, err := s.repo.FindByID(ctx, conn, id)
	if err != nil {
		return domain.SecurityDeposit{}, err
	}
	if deposit == nil {
		return domain.SecurityDeposit{}, domain.ErrNotFound
	}
	return *deposit, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func formatMoney(cents int64, currency string) string {
	return decimal.New(cents, -2).StringFixed(2) + " " + currency
}

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 MST")
}
