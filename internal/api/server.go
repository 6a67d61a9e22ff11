package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kangaroo-trader/internal/alerts"
	"kangaroo-trader/internal/executor"
	"kangaroo-trader/internal/ingest"
	"kangaroo-trader/internal/market"
	"kangaroo-trader/internal/model"
	"kangaroo-trader/internal/orders"
	"kangaroo-trader/internal/scanner"
	"kangaroo-trader/internal/service"
	"kangaroo-trader/internal/store"
)

const (
	_searchLimit     = 5
	_defaultLimit    = 100
	_historyLimit    = 200
	_shutdownTimeout = 5 * time.Second

	_tickerParam = "ticker"
	_idParam     = "id"
	_limitQuery  = "limit"
)

// Deps are the core components the HTTP surface reads from and writes to.
type Deps struct {
	Store    *store.Store
	Clock    *market.Clock
	Status   ingest.StatusReader
	Executor executor.Executor
	Book     *orders.Book
	Alerts   *alerts.Service
	Scanner  *scanner.Scanner
}

// Server is a thin HTTP layer over the core. It holds no state of its own.
type Server struct {
	deps   Deps
	cfg    service.HTTPConfig
	logger *zap.SugaredLogger
	srv    *http.Server
}

func NewServer(cfg service.HTTPConfig, deps Deps, logger *zap.SugaredLogger) *Server {
	s := &Server{deps: deps, cfg: cfg, logger: logger}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.InitRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) InitRoutes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.cors())

	r.GET("/market-status", s.MarketStatus)
	r.GET("/engine-status", s.EngineStatus)
	r.GET("/engine-status/stream", s.EngineStatusStream)

	r.GET("/stocks", s.ListStocks)
	r.GET("/search", s.SearchStocks)
	r.GET("/stock/:ticker", s.GetStock)
	r.POST("/stock/:ticker/toggle-watch", s.ToggleWatch)
	r.GET("/stock/:ticker/transactions", s.StockTransactions)
	r.GET("/watchlist", s.Watchlist)
	r.GET("/sectors", s.Sectors)

	r.GET("/account", s.Account)
	r.GET("/portfolio", s.Portfolio)
	r.GET("/transactions", s.Transactions)
	r.POST("/trade", s.Trade)

	r.POST("/orders/create", s.CreateOrder)
	r.GET("/orders/pending", s.PendingOrders)
	r.GET("/orders/pending/:ticker", s.PendingOrders)
	r.DELETE("/orders/cancel/:id", s.CancelOrder)
	r.GET("/orders/history", s.OrderHistory)

	r.GET("/alerts", s.ListAlerts)
	r.POST("/alerts", s.CreateAlert)
	r.GET("/alerts/triggered", s.TriggeredAlerts)
	r.DELETE("/alerts/:id", s.DeleteAlert)

	r.GET("/scanner", s.ScannerResults)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("HTTP server listening", "addr", s.cfg.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), _shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		s.logger.Debugw("HTTP request",
			"method", ctx.Request.Method,
			"path", ctx.FullPath(),
			"status", ctx.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

func (s *Server) cors() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if s.cfg.AllowedOrigin != "" && ctx.GetHeader("Origin") == s.cfg.AllowedOrigin {
			h := ctx.Writer.Header()
			h.Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Vary", "Origin")
		}
		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
		ctx.Next()
	}
}

// fail maps domain errors onto status codes.
func (s *Server) fail(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, alerts.ErrAlertNotFound):
		status = http.StatusNotFound
	case errors.Is(err, executor.ErrInsufficientFunds),
		errors.Is(err, executor.ErrInsufficientShares),
		errors.Is(err, executor.ErrInvalidTrade),
		errors.Is(err, orders.ErrInvalidOrder),
		errors.Is(err, orders.ErrOrderNotPending),
		errors.Is(err, alerts.ErrInvalidAlert):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Errorw("Request failed", "path", ctx.FullPath(), "error", err)
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(ctx *gin.Context, msg string) {
	ctx.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func limitQuery(ctx *gin.Context) int {
	n, err := strconv.Atoi(ctx.Query(_limitQuery))
	if err != nil || n <= 0 {
		return _defaultLimit
	}
	return n
}

func (s *Server) MarketStatus(ctx *gin.Context) {
	now := time.Now().In(s.deps.Clock.Location())
	ctx.JSON(http.StatusOK, gin.H{
		"active":     s.deps.Clock.ActiveAt(now),
		"timezone":   s.deps.Clock.Location().String(),
		"local_time": now.Format(time.RFC3339),
		"next_open":  s.deps.Clock.NextOpen(now).Format(time.RFC3339),
	})
}

func (s *Server) EngineStatus(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.deps.Status.Status())
}

func (s *Server) ListStocks(ctx *gin.Context) {
	list, err := s.deps.Store.ListStocks(ctx.Request.Context(), store.StockFilter{Sector: ctx.Query("sector")})
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, list)
}

func (s *Server) SearchStocks(ctx *gin.Context) {
	list, err := s.deps.Store.SearchStocks(ctx.Request.Context(), ctx.Query("q"), _searchLimit)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, list)
}

func (s *Server) GetStock(ctx *gin.Context) {
	ticker := ctx.Param(_tickerParam)
	st, err := s.deps.Store.GetStock(ctx.Request.Context(), ticker)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	history, err := s.deps.Store.PriceHistory(ctx.Request.Context(), ticker, _historyLimit)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"stock": st, "history": history})
}

func (s *Server) ToggleWatch(ctx *gin.Context) {
	ticker := ctx.Param(_tickerParam)
	st, err := s.deps.Store.GetStock(ctx.Request.Context(), ticker)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	st, err = s.deps.Store.SetWatch(ctx.Request.Context(), ticker, !st.Watch)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, st)
}

func (s *Server) Watchlist(ctx *gin.Context) {
	list, err := s.deps.Store.ListStocks(ctx.Request.Context(), store.StockFilter{WatchOnly: true})
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, list)
}

func (s *Server) Sectors(ctx *gin.Context) {
	list, err := s.deps.Store.Sectors(ctx.Request.Context())
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, list)
}

func (s *Server) Account(ctx *gin.Context) {
	cash, err := s.deps.Executor.Balance(ctx.Request.Context())
	if err != nil {
		s.fail(ctx, err)
		return
	}
	sum, err := s.deps.Store.Summary(ctx.Request.Context(), cash)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, sum)
}

func (s *Server) Portfolio(ctx *gin.Context) {
	positions, err := s.deps.Store.Positions(ctx.Request.Context())
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, positions)
}

func (s *Server) Transactions(ctx *gin.Context) {
	list, err := s.deps.Store.Transactions(ctx.Request.Context(), limitQuery(ctx))
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, list)
}

func (s *Server) StockTransactions(ctx *gin.Context) {
	list, err := s.deps.Store.TickerTransactions(ctx.Request.Context(), ctx.Param(_tickerParam), limitQuery(ctx))
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, list)
}

type tradeBody struct {
	Ticker string          `json:"ticker"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Type   model.Side      `json:"type"`
}

func (s *Server) Trade(ctx *gin.Context) {
	var body tradeBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		badRequest(ctx, "malformed trade: "+err.Error())
		return
	}
	fill, err := s.deps.Executor.Execute(ctx.Request.Context(), executor.TradeRequest{
		Ticker: strings.ToUpper(strings.TrimSpace(body.Ticker)),
		Shares: body.Shares,
		Price:  body.Price,
		Side:   model.Side(strings.ToUpper(string(body.Type))),
	})
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transaction": fill.Transaction,
		"balance":     fill.Balance,
		"holding":     fill.Holding,
	})
}

func (s *Server) CreateOrder(ctx *gin.Context) {
	var req orders.CreateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "malformed order: "+err.Error())
		return
	}
	req.Type = model.OrderType(strings.ToUpper(string(req.Type)))
	o, err := s.deps.Book.Create(ctx.Request.Context(), req)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, o)
}

func (s *Server) PendingOrders(ctx *gin.Context) {
	list, err := s.deps.Book.Pending(ctx.Request.Context(), ctx.Param(_tickerParam))
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, list)
}

func (s *Server) CancelOrder(ctx *gin.Context) {
	o, err := s.deps.Book.Cancel(ctx.Request.Context(), ctx.Param(_idParam))
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, o)
}

func (s *Server) OrderHistory(ctx *gin.Context) {
	list, err := s.deps.Book.History(ctx.Request.Context(), limitQuery(ctx))
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, list)
}

func (s *Server) ListAlerts(ctx *gin.Context) {
	list, err := s.deps.Alerts.List(ctx.Request.Context(), model.AlertStatus(strings.ToUpper(ctx.Query("status"))))
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, list)
}

func (s *Server) TriggeredAlerts(ctx *gin.Context) {
	list, err := s.deps.Alerts.List(ctx.Request.Context(), model.AlertTriggered)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, list)
}

func (s *Server) CreateAlert(ctx *gin.Context) {
	var req alerts.CreateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "malformed alert: "+err.Error())
		return
	}
	req.Condition = model.AlertCondition(strings.ToUpper(string(req.Condition)))
	a, err := s.deps.Alerts.Create(ctx.Request.Context(), req)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, a)
}

func (s *Server) DeleteAlert(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param(_idParam), 10, 64)
	if err != nil {
		badRequest(ctx, "alert id must be numeric")
		return
	}
	if err := s.deps.Alerts.Delete(ctx.Request.Context(), uint(id)); err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (s *Server) ScannerResults(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"last_run": s.deps.Scanner.LastRun(),
		"results":  s.deps.Scanner.Results(),
	})
}
