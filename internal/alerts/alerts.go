package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"kangaroo-trader/internal/model"
)

var (
	ErrAlertNotFound = errors.New("alert not found")
	ErrInvalidAlert  = errors.New("invalid alert")
)

// CreateRequest describes a new alert. TargetPrice is ignored for reminders.
type CreateRequest struct {
	Ticker      string               `json:"ticker"`
	Condition   model.AlertCondition `json:"condition"`
	TargetPrice decimal.Decimal      `json:"target_price"`
	Note        string               `json:"note"`
}

// Service stores alerts and evaluates price alerts against stored prices.
type Service struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(db *gorm.DB, logger *zap.SugaredLogger) *Service {
	return &Service{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Alert, error) {
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if req.Ticker == "" {
		return nil, fmt.Errorf("%w: ticker is required", ErrInvalidAlert)
	}
	if !req.Condition.Valid() {
		return nil, fmt.Errorf("%w: unknown condition %q", ErrInvalidAlert, req.Condition)
	}
	if req.Condition != model.AlertReminder && !req.TargetPrice.IsPositive() {
		return nil, fmt.Errorf("%w: target price must be positive", ErrInvalidAlert)
	}

	a := &model.Alert{
		Ticker:      req.Ticker,
		Condition:   req.Condition,
		TargetPrice: req.TargetPrice,
		Note:        req.Note,
		Status:      model.AlertActive,
		CreatedAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	return a, nil
}

// List returns alerts newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status model.AlertStatus) ([]model.Alert, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []model.Alert
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&model.Alert{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete alert %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrAlertNotFound, id)
	}
	return nil
}

// Hit reports whether price satisfies the alert's condition.
func Hit(a model.Alert, price decimal.Decimal) bool {
	switch a.Condition {
	case model.AlertAbove:
		return price.GreaterThanOrEqual(a.TargetPrice)
	case model.AlertBelow:
		return price.LessThanOrEqual(a.TargetPrice)
	default:
		return false
	}
}

// Check evaluates every ACTIVE price alert against the stored stock price and
// flips the ones that hit to TRIGGERED. It returns the alerts it triggered.
func (s *Service) Check(ctx context.Context) ([]model.Alert, error) {
	var active []model.Alert
	err := s.db.WithContext(ctx).
		Where("status = ? AND condition IN ?", model.AlertActive, []model.AlertCondition{model.AlertAbove, model.AlertBelow}).
		Find(&active).Error
	if err != nil {
		return nil, fmt.Errorf("load active alerts: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}

	tickers := make([]string, 0, len(active))
	for _, a := range active {
		tickers = append(tickers, a.Ticker)
	}
	var stocks []model.Stock
	if err := s.db.WithContext(ctx).Where("ticker IN ?", tickers).Find(&stocks).Error; err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	prices := make(map[string]decimal.Decimal, len(stocks))
	for _, st := range stocks {
		prices[st.Ticker] = st.Price
	}

	var triggered []model.Alert
	for _, a := range active {
		price, ok := prices[a.Ticker]
		if !ok || !Hit(a, price) {
			continue
		}

		now := s.now()
		res := s.db.WithContext(ctx).Model(&model.Alert{}).
			Where("id = ? AND status = ?", a.ID, model.AlertActive).
			Updates(map[string]any{"status": model.AlertTriggered, "triggered_at": now})
		if res.Error != nil {
			s.logger.Warnw("Alert update failed", "id", a.ID, "ticker", a.Ticker, "error", res.Error)
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}

		a.Status = model.AlertTriggered
		a.TriggeredAt = &now
		triggered = append(triggered, a)
		s.logger.Infow("Alert triggered", "id", a.ID, "ticker", a.Ticker, "condition", a.Condition,
			"target", a.TargetPrice.String(), "price", price.String(), "note", a.Note)
	}
	return triggered, nil
}
