package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kangaroo-trader/internal/model"
	"kangaroo-trader/internal/service"
	"kangaroo-trader/internal/store"
	"kangaroo-trader/pkg/ta"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, s.Migrate(decimal.NewFromInt(100000)))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *store.Store, ticker string, prices ...int64) {
	t.Helper()
	require.NoError(t, s.DB().Create(&model.Stock{Ticker: ticker, Name: ticker + " Ltd", Sector: "Materials"}).Error)
	base := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	for i, p := range prices {
		row := model.StockPrice{Ticker: ticker, Price: decimal.NewFromInt(p), Timestamp: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.DB().Create(&row).Error)
	}
}

func TestScanSkipsShortHistory(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "UP", 1, 2, 3, 4, 5, 6, 7, 8)
	seed(t, s, "DOWN", 9, 8, 7, 6, 5, 4, 3, 2)
	seed(t, s, "NEW", 5, 5)

	sc := New(service.ScannerConfig{Interval: time.Minute, Period: 5, History: 50}, s, zap.NewNop().Sugar())
	assert.True(t, sc.LastRun().IsZero())

	n, err := sc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results := sc.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "DOWN", results[0].Ticker)
	assert.Equal(t, ta.SignalOversold, results[0].Signal)
	assert.Equal(t, "UP", results[1].Ticker)
	assert.Equal(t, ta.SignalOverbought, results[1].Signal)
	assert.Equal(t, 8.0, results[1].Last)
	assert.Equal(t, "Materials", results[1].Sector)
	assert.False(t, sc.LastRun().IsZero())
}

func TestScanHistoryDepthLimitsSamples(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "BHP", 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	sc := New(service.ScannerConfig{Interval: time.Minute, Period: 3, History: 4}, s, zap.NewNop().Sugar())
	_, err := sc.Scan(context.Background())
	require.NoError(t, err)

	results := sc.Results()
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Samples)
	assert.InDelta(t, 9.0, results[0].SMA, 1e-9, "SMA over the latest rows")
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "UP", 1, 2, 3, 4, 5, 6, 7, 8)
	sc := New(service.ScannerConfig{Interval: time.Millisecond, Period: 5, History: 20}, s, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sc.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sc.Results()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop")
	}
}
