package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"kangaroo-trader/internal/model"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// StockFilter narrows ListStocks. Zero value lists everything.
type StockFilter struct {
	Sector    string
	WatchOnly bool
}

// ListStocks returns stocks ordered by ticker.
func (s *Store) ListStocks(ctx context.Context, f StockFilter) ([]model.Stock, error) {
	q := s.db.WithContext(ctx).Model(&model.Stock{})
	if f.Sector != "" {
		q = q.Where("sector = ?", f.Sector)
	}
	if f.WatchOnly {
		q = q.Where("watch = ?", true)
	}

	var out []model.Stock
	if err := q.Order("ticker").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	return out, nil
}

// GetStock loads one stock by ticker.
func (s *Store) GetStock(ctx context.Context, ticker string) (*model.Stock, error) {
	var st model.Stock
	err := s.db.WithContext(ctx).Where("ticker = ?", strings.ToUpper(ticker)).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: stock %s", ErrNotFound, ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("get stock %s: %w", ticker, err)
	}
	return &st, nil
}

// SetWatch flips the watchlist flag and returns the updated stock.
func (s *Store) SetWatch(ctx context.Context, ticker string, watch bool) (*model.Stock, error) {
	res := s.db.WithContext(ctx).Model(&model.Stock{}).
		Where("ticker = ?", strings.ToUpper(ticker)).
		Update("watch", watch)
	if res.Error != nil {
		return nil, fmt.Errorf("set watch %s: %w", ticker, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: stock %s", ErrNotFound, ticker)
	}
	return s.GetStock(ctx, ticker)
}

// PriceHistory returns up to limit most recent price rows for ticker,
// oldest first.
func (s *Store) PriceHistory(ctx context.Context, ticker string, limit int) ([]model.StockPrice, error) {
	var rows []model.StockPrice
	q := s.db.WithContext(ctx).Where("ticker = ?", strings.ToUpper(ticker)).Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("price history %s: %w", ticker, err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// Sectors lists distinct resolved sectors.
func (s *Store) Sectors(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&model.Stock{}).
		Where("sector <> ? AND sector <> ?", "", model.SectorUnresolved).
		Distinct().Order("sector").Pluck("sector", &out).Error
	if err != nil {
		return nil, fmt.Errorf("list sectors: %w", err)
	}
	return out, nil
}

// Account loads the singleton cash account.
func (s *Store) Account(ctx context.Context) (*model.Account, error) {
	var acct model.Account
	if err := s.db.WithContext(ctx).First(&acct, model.AccountID).Error; err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return &acct, nil
}

// Holdings returns open positions ordered by ticker.
func (s *Store) Holdings(ctx context.Context) ([]model.Holding, error) {
	var out []model.Holding
	if err := s.db.WithContext(ctx).Order("ticker").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	return out, nil
}

// Transactions returns the fill log newest first.
func (s *Store) Transactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	var out []model.Transaction
	q := s.db.WithContext(ctx).Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

// SearchStocks matches query against ticker or name, case-insensitively.
func (s *Store) SearchStocks(ctx context.Context, query string, limit int) ([]model.Stock, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.Stock{}, nil
	}
	like := "%" + strings.ToUpper(query) + "%"

	var out []model.Stock
	q := s.db.WithContext(ctx).
		Where("UPPER(ticker) LIKE ? OR UPPER(name) LIKE ?", like, like).
		Order("ticker")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("search stocks %q: %w", query, err)
	}
	return out, nil
}

// TickerTransactions returns fills for one ticker, newest first.
func (s *Store) TickerTransactions(ctx context.Context, ticker string, limit int) ([]model.Transaction, error) {
	var out []model.Transaction
	q := s.db.WithContext(ctx).Where("ticker = ?", strings.ToUpper(ticker)).
		Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", ticker, err)
	}
	return out, nil
}
