package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/stayledger/internal/auth"
	"github.com/smallbiznis/stayledger/internal/authorization"
	"github.com/smallbiznis/stayledger/internal/clock"
	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/internal/listing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   domain.Repository
	Authz  authorization.Service
	Clock  clock.Clock
	Config config.Config
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	authz    authorization.Service
	clock    clock.Clock
	validate *validator.Validate
	defaults config.DepositConfig
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("listing.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		authz:    p.Authz,
		clock:    p.Clock,
		validate: validator.New(),
		defaults: p.Config.Deposit,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateListingRequest) (domain.Listing, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return domain.Listing{}, domain.ErrUnauthenticated
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.Listing{}, err
	}

	country := strings.ToUpper(strings.TrimSpace(req.Country))
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	province := strings.ToUpper(strings.TrimSpace(req.Province))
	if country == "CA" && currency == "CAD" && province == "" {
		return domain.Listing{}, domain.ErrProvinceRequired
	}
	if req.MaxNights > 0 && req.MinNights > req.MaxNights {
		return domain.Listing{}, domain.ErrInvalidStayLength
	}

	mode := domain.PricingMode(req.PricingMode)
	if mode == "" {
		mode = domain.PricingModeNightly
	}
	minNights := req.MinNights
	if minNights == 0 {
		minNights = 1
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	listing := domain.Listing{
		ID:          id,
		OwnerID:     actor.UserID,
		Title:       strings.TrimSpace(req.Title),
		Slug:        fmt.Sprintf("%s-%s", slug.Make(req.Title), id.Base36()),
		PriceCents:  req.PriceCents,
		Currency:    currency,
		Country:     country,
		Province:    province,
		Capacity:    req.Capacity,
		MinNights:   minNights,
		MaxNights:   req.MaxNights,
		PricingMode: mode,
		InstantBook: req.InstantBook,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Insert(ctx, s.db, &listing); err != nil {
		return domain.Listing{}, err
	}

	s.log.Info("listing.created",
		zap.String("listing_id", listing.ID.String()),
		zap.String("owner_id", listing.OwnerID.String()),
	)
	return listing, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Listing, error) {
	listingID, err := parseID(id)
	if err != nil {
		return domain.Listing{}, err
	}
	return s.GetByID(ctx, listingID)
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Listing, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Listing{}, err
	}
	if item == nil {
		return domain.Listing{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) DepositPolicy(ctx context.Context, listingID snowflake.ID) (*domain.DepositPolicy, error) {
	return s.repo.FindDepositPolicy(ctx, s.db, listingID)
}

func (s *Service) UpsertDepositPolicy(ctx context.Context, req domain.UpsertDepositPolicyRequest) (domain.DepositPolicy, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.DepositPolicy{}, err
	}
	listing, err := s.authorizedListing(ctx, req.ListingID)
	if err != nil {
		return domain.DepositPolicy{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaults.DefaultCurrency
	}
	if currency == "" {
		currency = listing.Currency
	}
	refundDays := req.RefundDays
	if refundDays == 0 {
		refundDays = s.defaults.DefaultRefundDays
	}
	if refundDays == 0 {
		refundDays = domain.DefaultRefundDays
	}

	policy := domain.DepositPolicy{
		ListingID:   listing.ID,
		Enabled:     req.Enabled,
		AmountCents: req.AmountCents,
		Currency:    currency,
		Description: strings.TrimSpace(req.Description),
		RefundDays:  refundDays,
		UpdatedAt:   s.clock.Now(),
	}
	if err := s.repo.UpsertDepositPolicy(ctx, s.db, &policy); err != nil {
		return domain.DepositPolicy{}, err
	}

	s.log.Info("listing.deposit_policy.updated",
		zap.String("listing_id", listing.ID.String()),
		zap.Bool("enabled", policy.Enabled),
		zap.Int64("amount_cents", policy.AmountCents),
	)
	return policy, nil
}

func (s *Service) InstantBookSettings(ctx context.Context, listingID snowflake.ID) (*domain.InstantBookSettings, error) {
	return s.repo.FindInstantBookSettings(ctx, s.db, listingID)
}

func (s *Service) UpdateInstantBookSettings(ctx context.Context, req domain.UpdateInstantBookRequest) (domain.InstantBookSettings, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.InstantBookSettings{}, err
	}
	if req.MaxNights > 0 && req.MinNights > req.MaxNights {
		return domain.InstantBookSettings{}, domain.ErrInvalidStayLength
	}
	listing, err := s.authorizedListing(ctx, req.ListingID)
	if err != nil {
		return domain.InstantBookSettings{}, err
	}

	settings := domain.InstantBookSettings{
		ListingID:              listing.ID,
		Enabled:                req.Enabled,
		RequireVerifiedID:      req.RequireVerifiedID,
		RequirePositiveReviews: req.RequirePositiveReviews,
		MinGuestRating:         req.MinGuestRating,
		MinNights:              req.MinNights,
		MaxNights:              req.MaxNights,
		AdvanceNoticeHours:     req.AdvanceNoticeHours,
		UpdatedAt:              s.clock.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpsertInstantBookSettings(ctx, tx, &settings); err != nil {
			return err
		}
		return s.repo.UpdateInstantBook(ctx, tx, listing.ID, settings.Enabled)
	})
	if err != nil {
		return domain.InstantBookSettings{}, err
	}
	return settings, nil
}

func (s *Service) authorizedListing(ctx context.Context, rawID string) (domain.Listing, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return domain.Listing{}, domain.ErrUnauthenticated
	}
	listing, err := s.Get(ctx, rawID)
	if err != nil {
		return domain.Listing{}, err
	}
	if err := s.authz.Authorize(ctx, actor.Subject(), authorization.ObjectListing, authorization.ActionListingUpdate,
		authorization.UserSubject(listing.OwnerID)); err != nil {
		return domain.Listing{}, err
	}
	return listing, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
