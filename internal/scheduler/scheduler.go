package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/stayledger/internal/clock"
	depositdomain "github.com/smallbiznis/stayledger/internal/deposit/domain"
	obsmetrics "github.com/smallbiznis/stayledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
	"github.com/smallbiznis/stayledger/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobDepositExpirySweep = "deposit_expiry_sweep"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log      *zap.Logger
	Deposits depositdomain.Service
	GenID    *snowflake.Node
	Clock    clock.Clock
	Limiter  *ratelimit.Limiter `optional:"true"`
	Config   Config             `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	deposits depositdomain.Service
	limiter  *ratelimit.Limiter
}

// Report summarizes one sweep. Skipped is set when another replica held
// the sweep lock.
type Report struct {
	Processed int  `json:"processed"`
	Released  int  `json:"released"`
	Errored   int  `json:"errored"`
	Skipped   bool `json:"skipped,omitempty"`
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Deposits == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %w", ErrInvalidConfig, cfg.Schedule, err)
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      cfg,
		genID:    p.GenID,
		clock:    p.Clock,
		deposits: p.Deposits,
		limiter:  p.Limiter,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A job deadline is a soft timeout: the next run picks up what is left.
	isTimeout := ctx.Err() != nil
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	_, err := s.SweepExpiredDeposits(parent)
	return err
}

// SweepExpiredDeposits releases every AUTHORIZED deposit past its expiry.
// Each release runs under its own deadline and a failure never stops the
// rest of the sweep. Release failures are joined into the returned error.
func (s *Scheduler) SweepExpiredDeposits(parent context.Context) (Report, error) {
	var report Report
	err := s.runJob(parent, JobDepositExpirySweep, s.cfg.BatchSize, s.cfg.JobTimeout, func(ctx context.Context) error {
		var err error
		report, err = s.sweep(ctx)
		return err
	})
	return report, err
}

func (s *Scheduler) sweep(ctx context.Context) (Report, error) {
	var report Report
	schedMetrics := obsmetrics.Scheduler()
	run := jobRunFromContext(ctx)

	token, locked, err := s.limiter.TryLockSweep(ctx, JobDepositExpirySweep)
	if err != nil {
		return report, err
	}
	if !locked {
		schedMetrics.IncBatchDeferred(JobDepositExpirySweep, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.logger(ctx).Info("scheduler.job.skipped",
			zap.String("job", JobDepositExpirySweep),
			zap.String("reason", obsmetrics.SchedulerBatchDeferredReasonLockHeld),
		)
		report.Skipped = true
		return report, nil
	}
	defer s.limiter.ReleaseSweep(context.WithoutCancel(ctx), JobDepositExpirySweep, token)

	// Failed releases revert to AUTHORIZED and would be listed again.
	attempted := make(map[snowflake.ID]struct{})
	var errs error
	for {
		if err := ctx.Err(); err != nil {
			return report, errors.Join(errs, err)
		}
		ids, err := s.deposits.ListExpired(ctx, s.cfg.BatchSize)
		if err != nil {
			return report, errors.Join(errs, err)
		}

		fresh := 0
		for _, id := range ids {
			if _, seen := attempted[id]; seen {
				continue
			}
			attempted[id] = struct{}{}
			fresh++
			report.Processed++
			run.AddProcessed(1)

			if err := s.releaseOne(ctx, run, id); err != nil {
				report.Errored++
				errs = errors.Join(errs, fmt.Errorf("deposit %s: %w", id, err))
				continue
			}
			report.Released++
		}
		schedMetrics.AddBatchProcessed(JobDepositExpirySweep, obsmetrics.ResourceSecurityDeposits, fresh)

		if fresh == 0 || len(ids) < s.cfg.BatchSize {
			break
		}
	}
	if report.Processed == 0 {
		schedMetrics.IncBatchDeferred(JobDepositExpirySweep, obsmetrics.SchedulerBatchDeferredReasonEmpty)
	}

	s.logger(ctx).Info("scheduler.deposit.sweep_finished",
		zap.Int("processed", report.Processed),
		zap.Int("released", report.Released),
		zap.Int("errored", report.Errored),
	)
	return report, errs
}

func (s *Scheduler) releaseOne(ctx context.Context, run *jobRun, id snowflake.ID) error {
	releaseCtx, cancel := context.WithTimeout(ctx, s.cfg.ReleaseTimeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	_, err := s.deposits.ReleaseExpired(releaseCtx, id)
	if err != nil {
		reason := classifyReleaseFailure(err)
		schedMetrics.IncDepositReleaseFailure(reason)
		s.logReleaseError(ctx, run, id, reason, err)
		return err
	}
	schedMetrics.IncDepositReleased()
	s.logger(ctx).Debug("scheduler.deposit.released", zap.String("deposit_id", id.String()))
	return nil
}

func classifyReleaseFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return obsmetrics.DepositReleaseFailureTimeout
	case errors.Is(err, depositdomain.ErrInvalidDepositState):
		return obsmetrics.DepositReleaseFailureConflict
	case errors.Is(err, paymentdomain.ErrNetworkUnavailable),
		errors.Is(err, paymentdomain.ErrPaymentFailed),
		errors.Is(err, paymentdomain.ErrNotCancellable):
		return obsmetrics.DepositReleaseFailureNetwork
	default:
		return obsmetrics.DepositReleaseFailureOther
	}
}

// RunForever runs the jobs on the configured cron schedule until ctx ends.
func (s *Scheduler) RunForever(ctx context.Context) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{log: s.log.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log.Sugar()}), cron.SkipIfStillRunning(cronLogger{log: s.log.Sugar()})),
	)
	schedMetrics := obsmetrics.Scheduler()

	var entryID cron.EntryID
	entryID, err := c.AddFunc(s.cfg.Schedule, func() {
		if prev := c.Entry(entryID).Prev; !prev.IsZero() {
			schedMetrics.ObserveRunLoopLag(time.Since(prev))
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	})
	if err != nil {
		s.log.Error("scheduler schedule rejected", zap.String("schedule", s.cfg.Schedule), zap.Error(err))
		return
	}

	c.Start()
	s.log.Info("scheduler started", zap.String("schedule", s.cfg.Schedule))
	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
}
