package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func observeGlobal(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql   string
		op    string
		table string
	}{
		{"SELECT start_date, end_date FROM bookings WHERE listing_id = ?", "SELECT", "bookings"},
		{"INSERT INTO processed_events (id, network) VALUES (?, ?)", "INSERT", "processed_events"},
		{"UPDATE security_deposits SET status = ? WHERE id = ?", "UPDATE", "security_deposits"},
		{`DELETE FROM "wallet_entries" WHERE id = ?`, "DELETE", "wallet_entries"},
		{"", "UNKNOWN", ""},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestTraceLevels(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(GormLoggerConfig{Level: gormlogger.Warn, SlowThreshold: 50 * time.Millisecond, IgnoreRecordNotFound: true})
	query := func() (string, int64) { return "INSERT INTO wallet_entries (id) VALUES (?)", 1 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), query, gorm.ErrDuplicatedKey)
	l.Trace(ctx, time.Now(), query, gormlogger.ErrRecordNotFound)
	l.Trace(ctx, time.Now(), query, errors.New("connection reset"))
	l.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	l.Trace(ctx, time.Now(), query, nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "wallet_entries", entries[2].ContextMap()["table"])
}

func TestSilentLoggerWritesNothing(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(DefaultGormLoggerConfig()).LogMode(gormlogger.Silent)

	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 0 }, errors.New("boom"))
	l.Error(context.Background(), "boom")

	assert.Zero(t, logs.Len())
}
