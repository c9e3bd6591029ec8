package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/stayledger/internal/authorization"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  fmt.Errorf("release: %w", context.DeadlineExceeded),
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "forbidden",
			err:  authorization.ErrForbidden,
			want: SchedulerJobReasonForbidden,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestClassifySchedulerErrorType(t *testing.T) {
	if got := ClassifySchedulerErrorType(&pgconn.PgError{Code: "23505"}); got != SchedulerErrorTypeDB {
		t.Fatalf("expected db error type, got %q", got)
	}
	if got := ClassifySchedulerErrorType(errors.New("deposit already released")); got != SchedulerErrorTypeBusinessRule {
		t.Fatalf("expected business rule error type, got %q", got)
	}
	if IsSchedulerErrorRetryable(gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found to be non-retryable")
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "stayledger",
		Environment: "test",
	})

	metrics.AddBatchProcessed("deposit_expiry_sweep", ResourceSecurityDeposits, 3)
	metrics.AddBatchProcessed("deposit_expiry_sweep", ResourceSecurityDeposits, 0)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("deposit_expiry_sweep", ResourceSecurityDeposits))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestDepositReleaseCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{})

	metrics.IncDepositReleased()
	metrics.IncDepositReleased()
	metrics.IncDepositReleaseFailure(DepositReleaseFailureTimeout)

	if got := testutil.ToFloat64(metrics.depositsReleased); got != 2 {
		t.Fatalf("expected 2 releases, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.releaseFailures.WithLabelValues(DepositReleaseFailureTimeout)); got != 1 {
		t.Fatalf("expected 1 timeout failure, got %v", got)
	}
}
