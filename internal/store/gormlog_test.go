package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"

	"kangaroo-trader/internal/model"
)

func newObservedStore(t *testing.T) (*Store, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	s, err := open(sqlite.Open(":memory:"), true, zap.New(core).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, logs
}

func TestGormLoggerSkipsRecordNotFound(t *testing.T) {
	s, logs := newObservedStore(t)
	require.NoError(t, s.Migrate(decimal.NewFromInt(100000)))

	_, err := s.GetStock(context.Background(), "ZZZ")
	require.Error(t, err)

	var stock model.Stock
	err = s.DB().Where("ticker = ?", "ZZZ").First(&stock).Error
	require.Error(t, err)

	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len(), "missing rows are not logged")
	assert.Zero(t, logs.FilterMessage("Query failed").Len())
}

func TestGormLoggerReportsQueryErrors(t *testing.T) {
	s, logs := newObservedStore(t)

	err := s.DB().Exec("SELECT * FROM no_such_table").Error
	require.Error(t, err)

	entries := logs.FilterMessage("Query failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Contains(t, entries[0].ContextMap()["sql"], "no_such_table")
}

func TestGormLoggerSlowQueryAndLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &zapGormLogger{logger: zap.New(core).Sugar(), level: gormlogger.Warn, slow: 100 * time.Millisecond}
	fc := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	l.Trace(ctx, time.Now().Add(-time.Second), fc, nil)
	require.Equal(t, 1, logs.FilterMessage("Slow query").Len())

	l.Trace(ctx, time.Now(), fc, nil)
	l.Info(ctx, "chatty %d", 1)
	assert.Equal(t, 1, logs.Len(), "fast queries and info are below warn")

	silent := l.LogMode(gormlogger.Silent)
	silent.Trace(ctx, time.Now().Add(-time.Second), fc, nil)
	silent.Warn(ctx, "quiet")
	assert.Equal(t, 1, logs.Len())
}
