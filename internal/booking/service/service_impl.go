package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/stayledger/internal/auth"
	"github.com/smallbiznis/stayledger/internal/authorization"
	"github.com/smallbiznis/stayledger/internal/availability"
	"github.com/smallbiznis/stayledger/internal/booking/domain"
	"github.com/smallbiznis/stayledger/internal/clock"
	"github.com/smallbiznis/stayledger/internal/eligibility"
	"github.com/smallbiznis/stayledger/internal/fees"
	listingdomain "github.com/smallbiznis/stayledger/internal/listing/domain"
	"github.com/smallbiznis/stayledger/internal/observability/metrics"
	"github.com/smallbiznis/stayledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const listMineLimit = 100

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	Ledger      availability.Ledger
	Listings    listingdomain.Service
	Eligibility eligibility.Checker
	Fees        fees.Calculator
	Authz       authorization.Service
	Clock       clock.Clock
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	ledger      availability.Ledger
	listings    listingdomain.Service
	eligibility eligibility.Checker
	fees        fees.Calculator
	authz       authorization.Service
	clock       clock.Clock
	metrics     *metrics.Metrics
	validate    *validator.Validate
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("booking.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		ledger:      p.Ledger,
		listings:    p.Listings,
		eligibility: p.Eligibility,
		fees:        p.Fees,
		authz:       p.Authz,
		clock:       p.Clock,
		metrics:     p.Metrics,
		validate:    validator.New(),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateBookingRequest) (domain.Booking, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return domain.Booking{}, domain.ErrUnauthenticated
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.Booking{}, err
	}

	listingID, err := parseID(req.ListingID)
	if err != nil {
		return domain.Booking{}, err
	}
	stay, err := availability.ParseDateRange(strings.TrimSpace(req.StartDate), strings.TrimSpace(req.EndDate))
	if err != nil {
		return domain.Booking{}, domain.ErrInvalidDateRange
	}

	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if err := validateStay(listing, actor.UserID, stay, req.GuestCount); err != nil {
		s.recordOutcome(ctx, "rejected")
		return domain.Booking{}, err
	}

	verdict, err := s.eligibility.IsEligible(ctx, eligibility.Request{
		UserID:      actor.UserID,
		ListingID:   listing.ID,
		Range:       stay,
		InstantBook: req.InstantBook,
	})
	if err != nil {
		return domain.Booking{}, err
	}
	if !verdict.Eligible {
		s.recordOutcome(ctx, "not_eligible")
		return domain.Booking{}, &domain.NotEligibleError{Reasons: verdict.Reasons}
	}

	basePrice := stayPrice(listing, stay.Nights())
	charges, err := s.fees.ComputeFees(ctx, fees.BookingInput{
		ListingID:      listing.ID,
		HostID:         listing.OwnerID,
		Country:        listing.Country,
		Province:       listing.Province,
		Currency:       listing.Currency,
		BasePriceCents: basePrice,
		Nights:         stay.Nights(),
	})
	if err != nil {
		return domain.Booking{}, err
	}

	now := s.clock.Now()
	booking := domain.Booking{
		ID:                 s.genID.Generate(),
		Reference:          ulid.Make().String(),
		ListingID:          listing.ID,
		GuestID:            actor.UserID,
		HostID:             listing.OwnerID,
		StartDate:          stay.Start,
		EndDate:            stay.End,
		Nights:             stay.Nights(),
		GuestCount:         req.GuestCount,
		TotalPriceCents:    basePrice,
		Currency:           listing.Currency,
		Status:             domain.StatusPending,
		HostFeeCents:       charges.HostFeeCents,
		GuestFeeCents:      charges.GuestFeeCents,
		TaxOnGuestFeeCents: charges.TaxOnGuestFeeCents,
		PricingMode:        string(listing.PricingMode),
		InstantBook:        req.InstantBook,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	reused := false
	err = db.Serializable(ctx, s.db, func(tx *gorm.DB) error {
		existing, err := s.repo.FindPending(ctx, tx, actor.UserID, listing.ID, stay)
		if err != nil {
			return err
		}
		if existing != nil {
			booking = *existing
			reused = true
			return nil
		}

		conflicts, err := s.ledger.Conflicts(ctx, tx, listing.ID, stay)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &domain.DatesUnavailableError{Conflicts: conflicts}
		}
		return s.repo.Insert(ctx, tx, &booking)
	})
	if err != nil {
		if db.IsSerializationFailure(err) || db.IsExclusionViolation(err) {
			err = s.lostRace(ctx, listing.ID, stay)
		}
		if errors.Is(err, domain.ErrDatesUnavailable) {
			s.recordOutcome(ctx, "dates_unavailable")
			s.log.Info("booking.dates_unavailable",
				zap.String("listing_id", listing.ID.String()),
				zap.String("range", stay.String()),
			)
		}
		return domain.Booking{}, err
	}

	if reused {
		s.recordOutcome(ctx, "reused")
		return booking, nil
	}

	s.recordOutcome(ctx, "created")
	s.log.Info("booking.created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("reference", booking.Reference),
		zap.String("listing_id", booking.ListingID.String()),
		zap.String("range", stay.String()),
		zap.Int64("total_price_cents", booking.TotalPriceCents),
	)
	return booking, nil
}

// lostRace reports the ranges held by the transaction that won.
func (s *Service) lostRace(ctx context.Context, listingID snowflake.ID, stay availability.DateRange) error {
	conflicts, err := s.ledger.Committed(ctx, s.db, listingID, stay)
	if err != nil {
		s.log.Warn("booking.conflict_lookup_failed", zap.Error(err))
	}
	return &domain.DatesUnavailableError{Conflicts: conflicts}
}

func (s *Service) Get(ctx context.Context, id string) (domain.Booking, error) {
	booking, err := s.find(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if err := s.authorize(ctx, booking, authorization.ActionBookingView); err != nil {
		return domain.Booking{}, err
	}
	return booking, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Booking, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if item == nil {
		return domain.Booking{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) ListMine(ctx context.Context) ([]domain.Booking, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	items, err := s.repo.ListByGuest(ctx, s.db, actor.UserID, listMineLimit)
	if err != nil {
		return nil, err
	}
	bookings := make([]domain.Booking, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		bookings = append(bookings, *item)
	}
	return bookings, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (domain.Booking, error) {
	booking, err := s.find(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if err := s.authorize(ctx, booking, authorization.ActionBookingCancel); err != nil {
		return domain.Booking{}, err
	}

	changed, err := s.MarkCancelled(ctx, nil, booking.ID)
	if err != nil {
		return domain.Booking{}, err
	}
	if !changed {
		return domain.Booking{}, domain.ErrInvalidStatus
	}

	s.log.Info("booking.cancelled", zap.String("booking_id", booking.ID.String()))
	return s.GetByID(ctx, booking.ID)
}

func (s *Service) MarkConfirmed(ctx context.Context, tx *gorm.DB, id snowflake.ID) (bool, error) {
	return s.repo.UpdateStatus(ctx, s.conn(tx), id,
		[]domain.Status{domain.StatusPending}, domain.StatusConfirmed, s.clock.Now())
}

func (s *Service) MarkCancelled(ctx context.Context, tx *gorm.DB, id snowflake.ID) (bool, error) {
	return s.repo.UpdateStatus(ctx, s.conn(tx), id,
		[]domain.Status{domain.StatusPending}, domain.StatusCancelled, s.clock.Now())
}

func (s *Service) ApplyRefund(ctx context.Context, tx *gorm.DB, id snowflake.ID, refundCents int64) (domain.RefundOutcome, error) {
	if refundCents <= 0 {
		return domain.RefundOutcome{}, domain.ErrInvalidRefund
	}
	conn := s.conn(tx)

	booking, err := s.repo.FindByIDForUpdate(ctx, conn, id)
	if err != nil {
		return domain.RefundOutcome{}, err
	}
	if booking == nil {
		return domain.RefundOutcome{}, domain.ErrNotFound
	}

	remaining := booking.TotalPriceCents - booking.RefundedAmountCents
	applied := min(refundCents, max(remaining, 0))
	booking.RefundedAmountCents += applied

	fully := booking.RefundedAmountCents >= booking.TotalPriceCents
	if fully {
		booking.Status = domain.StatusCancelled
	}
	booking.UpdatedAt = s.clock.Now()

	if err := s.repo.UpdateRefund(ctx, conn, booking.ID, booking.RefundedAmountCents, booking.Status, booking.UpdatedAt); err != nil {
		return domain.RefundOutcome{}, err
	}
	return domain.RefundOutcome{Booking: *booking, AppliedCents: applied, FullyRefunded: fully}, nil
}

func (s *Service) find(ctx context.Context, rawID string) (domain.Booking, error) {
	id, err := parseID(rawID)
	if err != nil {
		return domain.Booking{}, err
	}
	return s.GetByID(ctx, id)
}

func (s *Service) authorize(ctx context.Context, booking domain.Booking, action string) error {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return domain.ErrUnauthenticated
	}
	owners := []string{authorization.UserSubject(booking.GuestID)}
	if action == authorization.ActionBookingView {
		owners = append(owners, authorization.UserSubject(booking.HostID))
	}
	return s.authz.Authorize(ctx, actor.Subject(), authorization.ObjectBooking, action, owners...)
}

func (s *Service) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *Service) recordOutcome(ctx context.Context, outcome string) {
	s.metrics.RecordBooking(ctx, outcome)
}

func validateStay(listing listingdomain.Listing, guestID snowflake.ID, stay availability.DateRange, guests int) error {
	if listing.OwnerID == guestID {
		return domain.ErrSelfBooking
	}
	if guests > listing.Capacity {
		return domain.ErrCapacityExceeded
	}

	nights := stay.Nights()
	if nights < max(listing.MinNights, 1) {
		return domain.ErrStayLength
	}
	if listing.MaxNights > 0 && nights > listing.MaxNights {
		return domain.ErrStayLength
	}
	if listing.PricingMode == listingdomain.PricingModeWeekly && nights%7 != 0 {
		return domain.ErrPricingMode
	}
	if strings.EqualFold(listing.Currency, "CAD") && strings.EqualFold(listing.Country, "CA") &&
		strings.TrimSpace(listing.Province) == "" {
		return domain.ErrProvinceRequired
	}
	return nil
}

func stayPrice(listing listingdomain.Listing, nights int) int64 {
	if listing.PricingMode == listingdomain.PricingModeWeekly {
		return listing.PriceCents * int64(nights/7)
	}
	return listing.PriceCents * int64(nights)
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
