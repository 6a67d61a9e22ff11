package scanner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"kangaroo-trader/internal/model"
	"kangaroo-trader/internal/service"
	"kangaroo-trader/internal/store"
	"kangaroo-trader/pkg/ta"
)

// Result is the latest indicator reading for one ticker.
type Result struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
	Sector string `json:"sector"`
	ta.Indicators
	Samples   int       `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source is the read side of the store the scanner needs.
type Source interface {
	ListStocks(ctx context.Context, f store.StockFilter) ([]model.Stock, error)
	PriceHistory(ctx context.Context, ticker string, limit int) ([]model.StockPrice, error)
}

// Scanner periodically computes indicators from stored price history.
// Its output is informational only.
type Scanner struct {
	src      Source
	calc     *ta.Calculator
	history  int
	interval time.Duration
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	results map[string]Result
	lastRun time.Time
}

func New(cfg service.ScannerConfig, src Source, logger *zap.SugaredLogger) *Scanner {
	calc := ta.NewCalculator(cfg.Period)
	history := cfg.History
	if history < calc.MinHistory() {
		history = calc.MinHistory()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scanner{
		src:      src,
		calc:     calc,
		history:  history,
		interval: interval,
		logger:   logger,
		results:  make(map[string]Result),
	}
}

// Run scans immediately, then on every interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Infow("Scanner started", "interval", service.FormatInterval(s.interval), "period", s.calc.Period)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.safeScan(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warnw("Scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Scanner stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scanner) safeScan(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	_, err = s.Scan(ctx)
	return err
}

// Scan recomputes every ticker with enough history and replaces the result
// set. It returns the number of tickers scored.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	stocks, err := s.src.ListStocks(ctx, store.StockFilter{})
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	next := make(map[string]Result, len(stocks))
	for _, st := range stocks {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		rows, err := s.src.PriceHistory(ctx, st.Ticker, s.history)
		if err != nil {
			s.logger.Warnw("Load price history failed", "ticker", st.Ticker, "error", err)
			continue
		}
		if len(rows) < s.calc.MinHistory() {
			continue
		}

		closes := make([]float64, len(rows))
		for i, r := range rows {
			closes[i] = r.Price.InexactFloat64()
		}
		ind, err := s.calc.Compute(closes)
		if err != nil {
			continue
		}
		next[st.Ticker] = Result{
			Ticker:     st.Ticker,
			Name:       st.Name,
			Sector:     st.Sector,
			Indicators: ind,
			Samples:    len(closes),
			UpdatedAt:  now,
		}
	}

	s.mu.Lock()
	s.results = next
	s.lastRun = now
	s.mu.Unlock()

	s.logger.Debugw("Scan complete", "scored", len(next), "stocks", len(stocks))
	return len(next), nil
}

// Results returns the latest readings ordered by ticker.
func (s *Scanner) Results() []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Result, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// LastRun is the completion time of the latest scan, zero before the first.
func (s *Scanner) LastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}
