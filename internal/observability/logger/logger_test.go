package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/chargeflow/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithPurchaseID(ctx, "1234")

	WithContext(ctx, base).Info("charged")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "1234", fields["purchase_id"])
	assert.Equal(t, "", fields["trace_id"])
	_, hasCustomer := fields["customer"]
	assert.False(t, hasCustomer)
}

func TestDescribeSQL(t *testing.T) {
	tests := []struct {
		sql       string
		operation string
		table     string
	}{
		{sql: `UPDATE "contracts" SET "locked"=true WHERE purchase_id = $1`, operation: "UPDATE", table: "contracts"},
		{sql: "SELECT * FROM `purchases` WHERE id = ?", operation: "SELECT", table: "purchases"},
		{sql: `INSERT INTO "stored_cards" ("customer") VALUES ($1) ON CONFLICT ("customer") DO UPDATE SET "token"="excluded"."token"`, operation: "INSERT", table: "stored_cards"},
		{sql: "DELETE FROM stored_cards WHERE customer = ?", operation: "DELETE", table: "stored_cards"},
		{sql: "WITH due AS (SELECT 1) SELECT * FROM due", operation: "SELECT", table: "due"},
		{sql: "", operation: "UNKNOWN"},
	}

	for _, tt := range tests {
		got := describeSQL(tt.sql)
		assert.Equal(t, tt.operation, got.operation, tt.sql)
		assert.Equal(t, tt.table, got.table, tt.sql)
	}
}

func TestParseQueryLogLevel(t *testing.T) {
	level, err := ParseQueryLogLevel(" Warn ")
	require.NoError(t, err)
	assert.Equal(t, gormlogger.Warn, level)

	level, err = ParseQueryLogLevel("silent")
	require.NoError(t, err)
	assert.Equal(t, gormlogger.Silent, level)

	_, err = ParseQueryLogLevel("verbose")
	assert.Error(t, err)
}

func TestQueryLogger_TraceTagsPurchase(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ql := NewQueryLogger(QueryLogConfig{
		Base:          zap.New(core),
		Level:         gormlogger.Warn,
		SlowThreshold: time.Millisecond,
	})

	ctx := obscontext.WithPurchaseID(context.Background(), "1234")
	ctx = obscontext.WithCustomer(ctx, "test_user")
	stmt := func() (string, int64) { return `UPDATE "contracts" SET "locked"=true`, 1 }

	ql.Trace(ctx, time.Now(), stmt, nil)
	assert.Equal(t, 0, logs.Len(), "fast statements stay quiet at warn")

	ql.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "1234", fields["purchase_id"])
	assert.Equal(t, "test_user", fields["customer"])
	assert.Equal(t, "contracts", fields["table"])
	assert.Equal(t, "UPDATE", fields["operation"])
	assert.Equal(t, int64(1), fields["rows_affected"])
}

func TestQueryLogger_TraceErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ql := NewQueryLogger(QueryLogConfig{Base: zap.New(core), Level: gormlogger.Error})
	stmt := func() (string, int64) { return "SELECT * FROM purchases", 0 }

	ql.Trace(context.Background(), time.Now(), stmt, gorm.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len())

	ql.Trace(context.Background(), time.Now(), stmt, errors.New("connection reset"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "connection reset", entry.ContextMap()["error"])

	ql.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), stmt, errors.New("ignored"))
	assert.Equal(t, 1, logs.Len())
}

func TestQueryLogger_MessagesRespectLevel(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ql := NewQueryLogger(QueryLogConfig{Base: zap.New(core), Level: gormlogger.Warn})

	ql.Info(context.Background(), "migrating %s", "contracts")
	ql.Warn(context.Background(), "slow migration on %s", "contracts")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "slow migration on contracts", logs.All()[0].Message)
}
