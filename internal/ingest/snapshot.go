package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"kangaroo-trader/internal/market"
	"kangaroo-trader/internal/model"
	"kangaroo-trader/internal/service"
)

// Fingerprint is an order-independent hash of a snapshot.
func Fingerprint(quotes []model.Quote) string {
	sorted := make([]model.Quote, len(quotes))
	copy(sorted, quotes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ticker < sorted[j].Ticker })

	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, q := range sorted {
		// Encoding a flat struct of strings and decimals cannot fail.
		_ = enc.Encode(q)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Deduplicator remembers the fingerprint of the last persisted snapshot.
// It is owned by a single Engine and is not safe for concurrent use.
type Deduplicator struct {
	last string
}

// Check returns the snapshot's fingerprint and whether it differs from the
// last committed one.
func (d *Deduplicator) Check(quotes []model.Quote) (string, bool) {
	fp := Fingerprint(quotes)
	return fp, fp != d.last
}

// Commit records fp as persisted.
func (d *Deduplicator) Commit(fp string) {
	d.last = fp
}

// Reset forgets the last snapshot so the next one is always persisted.
func (d *Deduplicator) Reset() {
	d.last = ""
}

// RowOutcome tags what happened to one quote row.
type RowOutcome string

const (
	RowCreated RowOutcome = "created"
	RowUpdated RowOutcome = "updated"
	RowFailed  RowOutcome = "failed"
)

// RowResult is the tagged result of persisting one quote.
type RowResult struct {
	Ticker         string
	Outcome        RowOutcome
	SectorResolved bool // a sector lookup was made for this row
	PriceMoved     bool // a StockPrice history row was appended
	Err            error
}

// BatchResult aggregates a persistence pass.
type BatchResult struct {
	Rows    []RowResult
	Created int
	Updated int
	Failed  int
	// Prices holds the persisted price of every row that was written
	// successfully, keyed by ticker.
	Prices map[string]decimal.Decimal
}

// ErrBatchFailed is returned when no row of a non-empty batch could be written.
var ErrBatchFailed = errors.New("no rows persisted")

// SnapshotWriter upserts quotes into the Stock table one row at a time.
// No transaction is held across a sector lookup. Persist is called from the
// engine goroutine only.
type SnapshotWriter struct {
	db          *gorm.DB
	resolver    market.SectorResolver
	logger      *zap.SugaredLogger
	now         func() time.Time
	healPerPass int
	healBackoff time.Duration
	healedAt    map[string]time.Time // last re-resolve attempt per ticker
}

func NewSnapshotWriter(db *gorm.DB, resolver market.SectorResolver, cfg service.SectorConfig, logger *zap.SugaredLogger) *SnapshotWriter {
	w := &SnapshotWriter{
		db:          db,
		resolver:    resolver,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		healPerPass: cfg.HealPerPass,
		healBackoff: cfg.HealBackoff,
		healedAt:    make(map[string]time.Time),
	}
	if w.healPerPass <= 0 {
		w.healPerPass = 10
	}
	if w.healBackoff <= 0 {
		w.healBackoff = 5 * time.Minute
	}
	return w
}

// Persist writes every quote. A failing row is recorded and skipped.
func (w *SnapshotWriter) Persist(ctx context.Context, quotes []model.Quote) (BatchResult, error) {
	batch := BatchResult{
		Rows:   make([]RowResult, 0, len(quotes)),
		Prices: make(map[string]decimal.Decimal, len(quotes)),
	}

	heals := w.healPerPass
	for _, q := range quotes {
		if err := ctx.Err(); err != nil {
			return batch, err
		}

		row := w.persistRow(ctx, q, &heals)
		batch.Rows = append(batch.Rows, row)

		switch row.Outcome {
		case RowCreated:
			batch.Created++
			batch.Prices[q.Ticker] = q.Price
		case RowUpdated:
			batch.Updated++
			batch.Prices[q.Ticker] = q.Price
		case RowFailed:
			batch.Failed++
			w.logger.Warnw("Row not persisted", "ticker", q.Ticker, "error", row.Err)
		}
	}

	if len(quotes) > 0 && batch.Failed == len(quotes) {
		return batch, fmt.Errorf("%w: %d rows failed", ErrBatchFailed, batch.Failed)
	}
	return batch, nil
}

func (w *SnapshotWriter) persistRow(ctx context.Context, q model.Quote, heals *int) RowResult {
	res := RowResult{Ticker: q.Ticker}
	now := w.now()

	var existing model.Stock
	err := w.db.WithContext(ctx).Where("ticker = ?", q.Ticker).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return w.createRow(ctx, q, now)
	case err != nil:
		res.Outcome = RowFailed
		res.Err = fmt.Errorf("load stock: %w", err)
		return res
	}

	updates := map[string]any{
		"name":           q.Name,
		"price":          q.Price,
		"change_amount":  q.ChangeAmount,
		"change_percent": q.ChangePercent,
		"market_cap":     q.MarketCap,
		"volume":         q.Volume,
		"last_updated":   now,
	}
	if !existing.SectorResolved() && w.mayHeal(q.Ticker, now, heals) {
		sector := w.resolver.Resolve(ctx, q.Ticker)
		updates["sector"] = sector
		res.SectorResolved = true
		if sector != "" && sector != model.SectorUnresolved {
			delete(w.healedAt, q.Ticker)
		}
	}
	res.PriceMoved = !existing.Price.Equal(q.Price)

	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Stock{}).Where("ticker = ?", q.Ticker).Updates(updates).Error; err != nil {
			return err
		}
		if res.PriceMoved {
			return tx.Create(priceRow(q, now)).Error
		}
		return nil
	})
	if err != nil {
		res.Outcome = RowFailed
		res.Err = fmt.Errorf("update stock: %w", err)
		return res
	}

	res.Outcome = RowUpdated
	return res
}

// mayHeal spends one unit of the per-pass budget on ticker unless it was
// already retried within the backoff window.
func (w *SnapshotWriter) mayHeal(ticker string, now time.Time, budget *int) bool {
	if *budget <= 0 {
		return false
	}
	if last, ok := w.healedAt[ticker]; ok && now.Sub(last) < w.healBackoff {
		return false
	}
	*budget--
	w.healedAt[ticker] = now
	return true
}

func (w *SnapshotWriter) createRow(ctx context.Context, q model.Quote, now time.Time) RowResult {
	w.logger.Infow("New ticker, resolving sector", "ticker", q.Ticker)
	res := RowResult{Ticker: q.Ticker, SectorResolved: true, PriceMoved: true}

	stock := model.Stock{
		Ticker:        q.Ticker,
		Name:          q.Name,
		Sector:        w.resolver.Resolve(ctx, q.Ticker),
		Price:         q.Price,
		ChangeAmount:  q.ChangeAmount,
		ChangePercent: q.ChangePercent,
		MarketCap:     q.MarketCap,
		Volume:        q.Volume,
		LastUpdated:   now,
	}

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&stock).Error; err != nil {
			return err
		}
		return tx.Create(priceRow(q, now)).Error
	})
	if err != nil {
		res.Outcome = RowFailed
		res.Err = fmt.Errorf("create stock: %w", err)
		return res
	}

	res.Outcome = RowCreated
	return res
}

func priceRow(q model.Quote, at time.Time) *model.StockPrice {
	return &model.StockPrice{
		Ticker:    q.Ticker,
		Price:     q.Price,
		DayHigh:   q.DayHigh,
		DayLow:    q.DayLow,
		Volume:    q.Volume,
		Timestamp: at,
	}
}
