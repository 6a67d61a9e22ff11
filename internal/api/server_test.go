package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kangaroo-trader/internal/alerts"
	"kangaroo-trader/internal/executor"
	"kangaroo-trader/internal/market"
	"kangaroo-trader/internal/model"
	"kangaroo-trader/internal/orders"
	"kangaroo-trader/internal/scanner"
	"kangaroo-trader/internal/service"
	"kangaroo-trader/internal/store"
)

type staticStatus struct {
	st model.EngineStatus
}

func (s staticStatus) Status() model.EngineStatus { return s.st }

func (s staticStatus) Subscribe() (<-chan model.EngineStatus, func()) {
	ch := make(chan model.EngineStatus, 1)
	ch <- s.st
	return ch, func() {}
}

const testOrigin = "http://localhost:3000"

type testServer struct {
	store   *store.Store
	handler http.Handler
	status  staticStatus
}

func newTestServer(t *testing.T, opts ...func(*Deps)) *testServer {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	capital := decimal.NewFromInt(100000)
	require.NoError(t, st.Migrate(capital))
	t.Cleanup(func() { _ = st.Close() })

	clock, err := market.NewClock(service.EngineConfig{Timezone: "Australia/Sydney", Open: "10:00", Close: "16:15"})
	require.NoError(t, err)

	log := zap.NewNop().Sugar()
	status := staticStatus{st: model.EngineStatus{Status: model.EngineLive, Detail: "streaming", Active: true}}
	deps := Deps{
		Store:    st,
		Clock:    clock,
		Status:   status,
		Executor: executor.NewSimulatorExecutor(executor.SimulatorConfig{InitialCapital: capital}, st.DB(), log),
		Book:     orders.NewBook(st.DB(), log),
		Alerts:   alerts.NewService(st.DB(), log),
		Scanner:  scanner.New(service.ScannerConfig{Interval: time.Minute, Period: 14, History: 50}, st, log),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	srv := NewServer(service.HTTPConfig{Addr: ":0", AllowedOrigin: testOrigin}, deps, log)
	return &testServer{store: st, handler: srv.InitRoutes(), status: status}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) seedStock(t *testing.T, ticker, name, price string) {
	t.Helper()
	require.NoError(t, ts.store.DB().Create(&model.Stock{
		Ticker: ticker, Name: name, Price: decimal.RequireFromString(price), LastUpdated: time.Now().UTC(),
	}).Error)
}

func TestMarketAndEngineStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/market-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Contains(t, body, "active")
	assert.Equal(t, "Australia/Sydney", body["timezone"])

	rec = ts.do(t, http.MethodGet, "/engine-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ts.status.st.Status, decode[model.EngineStatus](t, rec).Status)
}

func TestStockRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.seedStock(t, "BHP", "BHP Group", "45.10")
	ts.seedStock(t, "BOQ", "Bank of Queensland", "6.20")
	ts.seedStock(t, "CBA", "Commonwealth Bank", "120")

	rec := ts.do(t, http.MethodGet, "/stocks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]model.Stock](t, rec)
	require.Len(t, list, 3)
	assert.Equal(t, "BHP", list[0].Ticker)

	rec = ts.do(t, http.MethodGet, "/search?q=bank", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Stock](t, rec), 2)

	rec = ts.do(t, http.MethodGet, "/stock/bhp", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"history"`)

	rec = ts.do(t, http.MethodGet, "/stock/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/stock/CBA/toggle-watch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.Stock](t, rec).Watch)

	rec = ts.do(t, http.MethodGet, "/watchlist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	watch := decode[[]model.Stock](t, rec)
	require.Len(t, watch, 1)
	assert.Equal(t, "CBA", watch[0].Ticker)

	rec = ts.do(t, http.MethodPost, "/stock/CBA/toggle-watch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.Stock](t, rec).Watch)

	rec = ts.do(t, http.MethodPost, "/stock/NOPE/toggle-watch", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fixedBalance struct {
	executor.Executor
	cash decimal.Decimal
	err  error
}

func (f fixedBalance) Balance(context.Context) (decimal.Decimal, error) { return f.cash, f.err }

func TestAccountCashComesFromExecutor(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Executor = fixedBalance{Executor: d.Executor, cash: decimal.NewFromInt(1234)}
	})
	ts.seedStock(t, "BHP", "BHP Group", "12")
	require.NoError(t, ts.store.DB().Create(&model.Holding{Ticker: "BHP", Shares: 10, AvgCost: decimal.NewFromInt(10)}).Error)

	rec := ts.do(t, http.MethodGet, "/account", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[store.AccountSummary](t, rec)
	assert.True(t, sum.Cash.Equal(decimal.NewFromInt(1234)))
	assert.True(t, sum.TotalEquity.Equal(decimal.NewFromInt(1354)))

	failing := newTestServer(t, func(d *Deps) {
		d.Executor = fixedBalance{Executor: d.Executor, err: fmt.Errorf("database is locked")}
	})
	rec = failing.do(t, http.MethodGet, "/account", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTradeAndAccount(t *testing.T) {
	ts := newTestServer(t)
	ts.seedStock(t, "BHP", "BHP Group", "12")

	rec := ts.do(t, http.MethodPost, "/trade", map[string]any{"ticker": "bhp", "shares": 10, "price": "10", "type": "buy"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/account", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[store.AccountSummary](t, rec)
	assert.True(t, sum.Cash.Equal(decimal.NewFromInt(99900)))
	assert.True(t, sum.HoldingsValue.Equal(decimal.NewFromInt(120)))
	assert.True(t, sum.TotalEquity.Equal(decimal.NewFromInt(100020)))

	rec = ts.do(t, http.MethodGet, "/portfolio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	positions := decode[[]store.Position](t, rec)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(10), positions[0].Shares)

	rec = ts.do(t, http.MethodPost, "/trade", map[string]any{"ticker": "BHP", "shares": 11, "price": "10", "type": "SELL"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/trade", map[string]any{"ticker": "BHP", "shares": 1000000, "price": "10", "type": "BUY"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/trade", map[string]any{"ticker": "BHP", "shares": 1, "price": "10", "type": "HOLD"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/trade", strings.NewReader("{not json"))
	bad := httptest.NewRecorder()
	ts.handler.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	rec = ts.do(t, http.MethodGet, "/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Transaction](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/stock/BHP/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Transaction](t, rec), 1)
}

func TestOrderRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/orders/create", map[string]any{"ticker": "BHP", "type": "limit_buy", "shares": 5, "limit_price": "40"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[model.PendingOrder](t, rec)
	assert.Equal(t, model.OrderPending, order.Status)
	assert.Equal(t, model.OrderLimitBuy, order.Type)

	rec = ts.do(t, http.MethodPost, "/orders/create", map[string]any{"ticker": "BHP", "type": "MARKET", "shares": 5, "limit_price": "40"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/orders/pending/bhp", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.PendingOrder](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/orders/pending/CBA", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.PendingOrder](t, rec))

	rec = ts.do(t, http.MethodDelete, "/orders/cancel/"+order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.OrderCancelled, decode[model.PendingOrder](t, rec).Status)

	rec = ts.do(t, http.MethodDelete, "/orders/cancel/"+order.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/orders/cancel/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/orders/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.PendingOrder](t, rec), 1)
}

func TestAlertRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/alerts", map[string]any{"ticker": "BHP", "condition": "above", "target_price": "50"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decode[model.Alert](t, rec)

	rec = ts.do(t, http.MethodPost, "/alerts", map[string]any{"ticker": "BHP", "condition": "ABOVE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Alert](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/alerts/triggered", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.Alert](t, rec))

	rec = ts.do(t, http.MethodDelete, "/alerts/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, fmt.Sprintf("/alerts/%d", a.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, fmt.Sprintf("/alerts/%d", a.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScannerRoute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/scanner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Contains(t, body, "results")
	assert.Contains(t, body, "last_run")
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/trade", nil)
	req.Header.Set("Origin", testOrigin)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, testOrigin, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/stocks", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestEngineStatusStream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/engine-status/stream"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got model.EngineStatus
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, model.EngineLive, got.Status)
	assert.True(t, got.Active)
}
