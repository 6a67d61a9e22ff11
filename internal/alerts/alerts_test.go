package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"kangaroo-trader/internal/model"
	"kangaroo-trader/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, s.Migrate(d("1000")))
	t.Cleanup(func() { _ = s.Close() })
	return NewService(s.DB(), zap.NewNop().Sugar()), s.DB()
}

func setPrice(t *testing.T, db *gorm.DB, ticker, price string) {
	t.Helper()
	st := model.Stock{Ticker: ticker, Name: ticker, Price: d(price), LastUpdated: time.Now().UTC()}
	require.NoError(t, db.Save(&st).Error)
}

func TestHit(t *testing.T) {
	cases := []struct {
		cond   model.AlertCondition
		target string
		price  string
		want   bool
	}{
		{model.AlertAbove, "50", "50", true},
		{model.AlertAbove, "50", "49.99", false},
		{model.AlertBelow, "50", "50", true},
		{model.AlertBelow, "50", "50.01", false},
		{model.AlertReminder, "0", "1", false},
	}
	for _, tc := range cases {
		a := model.Alert{Condition: tc.cond, TargetPrice: d(tc.target)}
		assert.Equal(t, tc.want, Hit(a, d(tc.price)), "%s %s at %s", tc.cond, tc.target, tc.price)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Ticker: "", Condition: model.AlertAbove, TargetPrice: d("1")})
	assert.ErrorIs(t, err, ErrInvalidAlert)

	_, err = svc.Create(ctx, CreateRequest{Ticker: "BHP", Condition: "SIDEWAYS", TargetPrice: d("1")})
	assert.ErrorIs(t, err, ErrInvalidAlert)

	_, err = svc.Create(ctx, CreateRequest{Ticker: "BHP", Condition: model.AlertBelow})
	assert.ErrorIs(t, err, ErrInvalidAlert)

	reminder, err := svc.Create(ctx, CreateRequest{Ticker: " bhp ", Condition: model.AlertReminder, Note: "check results"})
	require.NoError(t, err)
	assert.Equal(t, "BHP", reminder.Ticker)
	assert.Equal(t, model.AlertActive, reminder.Status)
}

func TestCheckTriggersOnce(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	above, err := svc.Create(ctx, CreateRequest{Ticker: "BHP", Condition: model.AlertAbove, TargetPrice: d("45")})
	require.NoError(t, err)
	below, err := svc.Create(ctx, CreateRequest{Ticker: "BHP", Condition: model.AlertBelow, TargetPrice: d("40")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateRequest{Ticker: "BHP", Condition: model.AlertReminder, Note: "dividend"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateRequest{Ticker: "ZZZ", Condition: model.AlertAbove, TargetPrice: d("1")})
	require.NoError(t, err)

	setPrice(t, db, "BHP", "45")

	fired, err := svc.Check(ctx)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, above.ID, fired[0].ID)
	assert.NotNil(t, fired[0].TriggeredAt)

	fired, err = svc.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, fired, "triggered alerts stay triggered")

	setPrice(t, db, "BHP", "39.50")
	fired, err = svc.Check(ctx)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, below.ID, fired[0].ID)

	triggered, err := svc.List(ctx, model.AlertTriggered)
	require.NoError(t, err)
	assert.Len(t, triggered, 2)

	active, err := svc.List(ctx, model.AlertActive)
	require.NoError(t, err)
	require.Len(t, active, 2, "reminder and unpriced alert remain active")

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestDelete(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateRequest{Ticker: "CBA", Condition: model.AlertBelow, TargetPrice: d("100")})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, a.ID))
	assert.ErrorIs(t, svc.Delete(ctx, a.ID), ErrAlertNotFound)
}

func TestMonitorRunsUntilCancelled(t *testing.T) {
	svc, db := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Create(ctx, CreateRequest{Ticker: "WES", Condition: model.AlertAbove, TargetPrice: d("60")})
	require.NoError(t, err)
	setPrice(t, db, "WES", "61")

	core, logs := observer.New(zapcore.InfoLevel)
	done := make(chan error, 1)
	go func() { done <- NewMonitor(svc, time.Millisecond, zap.New(core).Sugar()).Run(ctx) }()

	require.Eventually(t, func() bool {
		list, err := svc.List(context.Background(), model.AlertTriggered)
		return err == nil && len(list) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}

	started := logs.FilterMessage("Alert monitor started").All()
	require.Len(t, started, 1)
	assert.Equal(t, "1ms", started[0].ContextMap()["interval"])
}
