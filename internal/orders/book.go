package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"kangaroo-trader/internal/model"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPending = errors.New("order is not pending")
	ErrInvalidOrder    = errors.New("invalid order")
)

// CreateRequest describes a new conditional order.
type CreateRequest struct {
	Ticker     string          `json:"ticker"`
	Type       model.OrderType `json:"type"`
	Shares     int64           `json:"shares"`
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// Book is the persistent pending-order book. PENDING -> FILLED happens only
// through the Matcher; PENDING -> CANCELLED only through Cancel.
type Book struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewBook(db *gorm.DB, logger *zap.SugaredLogger) *Book {
	return &Book{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create validates req and stores it as a PENDING order.
func (b *Book) Create(ctx context.Context, req CreateRequest) (*model.PendingOrder, error) {
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	switch {
	case req.Ticker == "":
		return nil, fmt.Errorf("%w: ticker is required", ErrInvalidOrder)
	case !req.Type.Valid():
		return nil, fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, req.Type)
	case req.Shares <= 0:
		return nil, fmt.Errorf("%w: shares must be positive, got %d", ErrInvalidOrder, req.Shares)
	case !req.LimitPrice.IsPositive():
		return nil, fmt.Errorf("%w: limit price must be positive, got %s", ErrInvalidOrder, req.LimitPrice)
	}

	o := &model.PendingOrder{
		ID:         uuid.NewString(),
		Ticker:     req.Ticker,
		Type:       req.Type,
		Shares:     req.Shares,
		LimitPrice: req.LimitPrice,
		Status:     model.OrderPending,
		CreatedAt:  b.now(),
	}
	if err := b.db.WithContext(ctx).Create(o).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	b.logger.Infow("Order created", "id", o.ID, "ticker", o.Ticker, "type", o.Type,
		"shares", o.Shares, "limit", o.LimitPrice.String())
	return o, nil
}

// Get loads one order by id.
func (b *Book) Get(ctx context.Context, id string) (*model.PendingOrder, error) {
	var o model.PendingOrder
	err := b.db.WithContext(ctx).Where("id = ?", id).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &o, nil
}

// Pending lists PENDING orders oldest first. An empty ticker lists all.
func (b *Book) Pending(ctx context.Context, ticker string) ([]model.PendingOrder, error) {
	q := b.db.WithContext(ctx).Where("status = ?", model.OrderPending)
	if ticker != "" {
		q = q.Where("ticker = ?", strings.ToUpper(ticker))
	}
	var out []model.PendingOrder
	if err := q.Order("created_at").Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	return out, nil
}

// PendingFor lists PENDING orders whose ticker is in tickers.
func (b *Book) PendingFor(ctx context.Context, tickers []string) ([]model.PendingOrder, error) {
	if len(tickers) == 0 {
		return nil, nil
	}
	var out []model.PendingOrder
	err := b.db.WithContext(ctx).
		Where("status = ? AND ticker IN ?", model.OrderPending, tickers).
		Order("created_at").Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	return out, nil
}

// History lists FILLED and CANCELLED orders, most recent first.
func (b *Book) History(ctx context.Context, limit int) ([]model.PendingOrder, error) {
	q := b.db.WithContext(ctx).
		Where("status IN ?", []model.OrderStatus{model.OrderFilled, model.OrderCancelled}).
		Order("created_at DESC").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []model.PendingOrder
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list order history: %w", err)
	}
	return out, nil
}

// Cancel moves a PENDING order to CANCELLED. Terminal orders are immutable.
func (b *Book) Cancel(ctx context.Context, id string) (*model.PendingOrder, error) {
	res := b.db.WithContext(ctx).Model(&model.PendingOrder{}).
		Where("id = ? AND status = ?", id, model.OrderPending).
		Update("status", model.OrderCancelled)
	if res.Error != nil {
		return nil, fmt.Errorf("cancel order %s: %w", id, res.Error)
	}

	o, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return o, fmt.Errorf("%w: %s is %s", ErrOrderNotPending, id, o.Status)
	}

	b.logger.Infow("Order cancelled", "id", id, "ticker", o.Ticker)
	return o, nil
}

// markFilled flips a PENDING order to FILLED inside tx. It fails with
// ErrOrderNotPending when the order left PENDING concurrently.
func markFilled(tx *gorm.DB, id string, price decimal.Decimal, at time.Time) error {
	res := tx.Model(&model.PendingOrder{}).
		Where("id = ? AND status = ?", id, model.OrderPending).
		Updates(map[string]any{
			"status":     model.OrderFilled,
			"filled_at":  at,
			"fill_price": decimal.NewNullDecimal(price),
		})
	if res.Error != nil {
		return fmt.Errorf("mark order %s filled: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotPending, id)
	}
	return nil
}
