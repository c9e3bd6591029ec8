package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stayledger/internal/auth"
	"github.com/smallbiznis/stayledger/internal/authorization"
	"github.com/smallbiznis/stayledger/internal/clock"
	"github.com/smallbiznis/stayledger/internal/observability/metrics"
	"github.com/smallbiznis/stayledger/internal/wallet/domain"
	"github.com/smallbiznis/stayledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Authz   authorization.Service
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	authz   authorization.Service
	clock   clock.Clock
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("wallet.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		authz:   p.Authz,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Credit(ctx context.Context, tx *gorm.DB, req domain.PostingRequest) (domain.Result, error) {
	return s.post(ctx, tx, req, domain.DirectionCredit)
}

func (s *Service) Debit(ctx context.Context, tx *gorm.DB, req domain.PostingRequest) (domain.Result, error) {
	return s.post(ctx, tx, req, domain.DirectionDebit)
}

func (s *Service) post(ctx context.Context, tx *gorm.DB, req domain.PostingRequest, direction domain.Direction) (domain.Result, error) {
	if req.HostID == 0 {
		return domain.Result{}, domain.ErrInvalidHost
	}
	if req.AmountCents < 0 {
		return domain.Result{}, domain.ErrInvalidAmount
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return domain.Result{}, domain.ErrInvalidReason
	}

	var result domain.Result
	run := func(tx *gorm.DB) error {
		var err error
		result, err = s.apply(ctx, tx, req, direction)
		return err
	}

	var err error
	if tx != nil {
		err = run(tx)
	} else {
		err = s.db.WithContext(ctx).Transaction(run)
	}
	if err != nil {
		return domain.Result{}, err
	}

	if result.Duplicate {
		s.log.Info("wallet.entry_duplicate",
			zap.String("host_id", req.HostID.String()),
			zap.String("reason", req.Reason),
		)
		return result, nil
	}
	s.metrics.RecordWalletEntry(ctx, string(direction))
	if result.ShortfallCents > 0 {
		s.log.Warn("wallet.debit_shortfall",
			zap.String("host_id", req.HostID.String()),
			zap.String("booking_id", req.BookingID.String()),
			zap.String("reason", req.Reason),
			zap.Int64("requested_cents", req.AmountCents),
			zap.Int64("shortfall_cents", result.ShortfallCents),
		)
	}
	return result, nil
}

// apply runs under the wallet row lock so the clamp sees the committed
// balance and concurrent postings serialize per host.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, req domain.PostingRequest, direction domain.Direction) (domain.Result, error) {
	now := s.clock.Now()
	if err := s.repo.EnsureWallet(ctx, tx, req.HostID, now); err != nil {
		return domain.Result{}, err
	}
	wallet, err := s.repo.LockWallet(ctx, tx, req.HostID)
	if err != nil {
		return domain.Result{}, err
	}
	if wallet == nil {
		return domain.Result{}, domain.ErrInvalidHost
	}

	prior, err := s.repo.FindEntryByReason(ctx, tx, req.HostID, req.Reason)
	if err != nil {
		return domain.Result{}, err
	}
	if prior != nil {
		return domain.Result{Entry: *prior, BalanceCents: wallet.BalanceCents, Duplicate: true}, nil
	}

	delta := req.AmountCents
	var shortfall int64
	if direction == domain.DirectionDebit {
		applied := min(req.AmountCents, max(wallet.BalanceCents, 0))
		shortfall = req.AmountCents - applied
		delta = -applied
	}

	entry := domain.Entry{
		ID:         s.genID.Generate(),
		HostID:     req.HostID,
		BookingID:  req.BookingID,
		DeltaCents: delta,
		Reason:     req.Reason,
		CreatedAt:  now,
	}
	inserted, err := s.repo.InsertEntry(ctx, tx, &entry)
	if err != nil {
		return domain.Result{}, err
	}
	if !inserted {
		prior, err := s.repo.FindEntryByReason(ctx, tx, req.HostID, req.Reason)
		if err != nil {
			return domain.Result{}, err
		}
		if prior == nil {
			return domain.Result{}, domain.ErrInvalidReason
		}
		return domain.Result{Entry: *prior, BalanceCents: wallet.BalanceCents, Duplicate: true}, nil
	}

	if delta != 0 {
		if err := s.repo.AddBalance(ctx, tx, req.HostID, delta, now); err != nil {
			return domain.Result{}, err
		}
	}
	return domain.Result{
		Entry:          entry,
		BalanceCents:   wallet.BalanceCents + delta,
		ShortfallCents: shortfall,
	}, nil
}

func (s *Service) FindEntry(ctx context.Context, tx *gorm.DB, hostID snowflake.ID, reason string) (*domain.Entry, error) {
	conn := s.db
	if tx != nil {
		conn = tx
	}
	return s.repo.FindEntryByReason(ctx, conn, hostID, strings.TrimSpace(reason))
}

func (s *Service) GetBalance(ctx context.Context, hostID snowflake.ID) (domain.Wallet, error) {
	if hostID == 0 {
		return domain.Wallet{}, domain.ErrInvalidHost
	}
	wallet, err := s.repo.FindWallet(ctx, s.db, hostID)
	if err != nil {
		return domain.Wallet{}, err
	}
	if wallet == nil {
		return domain.Wallet{HostID: hostID}, nil
	}
	return *wallet, nil
}

func (s *Service) ListEntries(ctx context.Context, hostID snowflake.ID, page pagination.Pagination) (domain.ListEntriesResponse, error) {
	if hostID == 0 {
		return domain.ListEntriesResponse{}, domain.ErrInvalidHost
	}
	limit := page.Limit()
	filter := domain.ListEntriesFilter{HostID: hostID, Limit: limit + 1}

	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListEntriesResponse{}, domain.ErrInvalidCursor
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return domain.ListEntriesResponse{}, domain.ErrInvalidCursor
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListEntriesResponse{}, domain.ErrInvalidCursor
		}
		createdAt = createdAt.UTC()
		filter.BeforeCreatedAt = &createdAt
		filter.BeforeID = id
	}

	items, err := s.repo.ListEntries(ctx, s.db, filter)
	if err != nil {
		return domain.ListEntriesResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, limit, func(e *domain.Entry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        e.ID.String(),
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > limit {
		items = items[:limit]
	}

	entries := make([]domain.Entry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}
	return domain.ListEntriesResponse{PageInfo: *pageInfo, Entries: entries}, nil
}

func (s *Service) ReconcileBalance(ctx context.Context, hostID snowflake.ID) (domain.Reconciliation, error) {
	wallet, err := s.GetBalance(ctx, hostID)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	sum, count, err := s.repo.SumEntries(ctx, s.db, hostID)
	if err != nil {
		return domain.Reconciliation{}, err
	}

	rec := domain.Reconciliation{
		HostID:       hostID,
		BalanceCents: wallet.BalanceCents,
		LedgerCents:  sum,
		EntryCount:   count,
	}
	if !rec.Balanced() {
		s.log.Error("wallet.reconcile_mismatch",
			zap.String("host_id", hostID.String()),
			zap.Int64("balance_cents", rec.BalanceCents),
			zap.Int64("ledger_cents", rec.LedgerCents),
		)
	}
	return rec, nil
}

func (s *Service) MyWallet(ctx context.Context) (domain.Wallet, error) {
	hostID, err := s.authorizeSelf(ctx)
	if err != nil {
		return domain.Wallet{}, err
	}
	return s.GetBalance(ctx, hostID)
}

func (s *Service) MyEntries(ctx context.Context, page pagination.Pagination) (domain.ListEntriesResponse, error) {
	hostID, err := s.authorizeSelf(ctx)
	if err != nil {
		return domain.ListEntriesResponse{}, err
	}
	return s.ListEntries(ctx, hostID, page)
}

func (s *Service) authorizeSelf(ctx context.Context) (snowflake.ID, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return 0, domain.ErrUnauthenticated
	}
	if err := s.authz.Authorize(ctx, actor.Subject(), authorization.ObjectWallet, authorization.ActionWalletView,
		authorization.UserSubject(actor.UserID)); err != nil {
		return 0, err
	}
	return actor.UserID, nil
}
