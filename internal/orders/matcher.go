package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"kangaroo-trader/internal/executor"
	"kangaroo-trader/internal/model"
)

// MatchResult is the outcome for one triggered order.
type MatchResult struct {
	OrderID string
	Ticker  string
	Type    model.OrderType
	Price   decimal.Decimal
	Filled  bool
	Err     error // set when execution was rejected; the order stays PENDING
}

// Matcher turns freshly persisted prices into fills.
type Matcher struct {
	book     *Book
	executor executor.Executor
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewMatcher(book *Book, exec executor.Executor, logger *zap.SugaredLogger) *Matcher {
	return &Matcher{
		book:     book,
		executor: exec,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Match evaluates every PENDING order for the tickers in prices and executes
// the ones whose condition holds. Only triggered orders appear in the result.
// A rejected execution leaves its order PENDING for the next price update.
func (m *Matcher) Match(ctx context.Context, prices map[string]decimal.Decimal) ([]MatchResult, error) {
	tickers := make([]string, 0, len(prices))
	for t := range prices {
		tickers = append(tickers, t)
	}

	pending, err := m.book.PendingFor(ctx, tickers)
	if err != nil {
		return nil, err
	}

	var results []MatchResult
	for _, o := range pending {
		price, ok := prices[o.Ticker]
		if !ok || !o.Type.Triggered(price, o.LimitPrice) {
			continue
		}
		results = append(results, m.fill(ctx, o, price))
	}
	return results, nil
}

func (m *Matcher) fill(ctx context.Context, o model.PendingOrder, price decimal.Decimal) MatchResult {
	res := MatchResult{OrderID: o.ID, Ticker: o.Ticker, Type: o.Type, Price: price}

	req := executor.TradeRequest{
		Ticker:  o.Ticker,
		Shares:  o.Shares,
		Price:   price,
		Side:    o.Type.Side(),
		OrderID: o.ID,
	}
	at := m.now()
	_, err := m.executor.ExecuteAndThen(ctx, req, func(tx *gorm.DB) error {
		return markFilled(tx, o.ID, price, at)
	})
	if err != nil {
		m.logger.Warnw("Triggered order not fillable, leaving pending",
			"id", o.ID, "ticker", o.Ticker, "type", o.Type, "price", price.String(), "error", err)
		res.Err = err
		return res
	}

	m.logger.Infow("Order filled", "id", o.ID, "ticker", o.Ticker, "type", o.Type,
		"shares", o.Shares, "limit", o.LimitPrice.String(), "price", price.String())
	res.Filled = true
	return res
}
