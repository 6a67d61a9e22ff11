package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"kangaroo-trader/internal/model"
)

// Position is a holding valued at the last stored price.
type Position struct {
	model.Holding
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// AccountSummary is cash plus holdings marked to market.
type AccountSummary struct {
	Cash          decimal.Decimal `json:"cash"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	TotalEquity   decimal.Decimal `json:"total_equity"`
}

// Positions values every holding. A holding whose stock has no stored price
// is valued at its average cost.
func (s *Store) Positions(ctx context.Context) ([]Position, error) {
	holdings, err := s.Holdings(ctx)
	if err != nil {
		return nil, err
	}
	if len(holdings) == 0 {
		return []Position{}, nil
	}

	tickers := make([]string, 0, len(holdings))
	for _, h := range holdings {
		tickers = append(tickers, h.Ticker)
	}
	var stocks []model.Stock
	if err := s.db.WithContext(ctx).Where("ticker IN ?", tickers).Find(&stocks).Error; err != nil {
		return nil, fmt.Errorf("load holding prices: %w", err)
	}
	byTicker := make(map[string]model.Stock, len(stocks))
	for _, st := range stocks {
		byTicker[st.Ticker] = st
	}

	out := make([]Position, 0, len(holdings))
	for _, h := range holdings {
		price := h.AvgCost
		name := h.Ticker
		if st, ok := byTicker[h.Ticker]; ok {
			name = st.Name
			if st.Price.IsPositive() {
				price = st.Price
			}
		}
		shares := decimal.NewFromInt(h.Shares)
		value := price.Mul(shares)
		cost := h.AvgCost.Mul(shares)
		out = append(out, Position{
			Holding:       h,
			Name:          name,
			Price:         price,
			MarketValue:   value,
			CostBasis:     cost,
			UnrealizedPnL: value.Sub(cost),
		})
	}
	return out, nil
}

// Summary marks holdings to market and adds cash. Cash comes from the
// executor so it is never read in the middle of a fill.
func (s *Store) Summary(ctx context.Context, cash decimal.Decimal) (*AccountSummary, error) {
	positions, err := s.Positions(ctx)
	if err != nil {
		return nil, err
	}

	value := decimal.Zero
	for _, p := range positions {
		value = value.Add(p.MarketValue)
	}
	return &AccountSummary{
		Cash:          cash,
		HoldingsValue: value,
		TotalEquity:   cash.Add(value),
	}, nil
}
