package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kangaroo-trader/internal/model"
)

// avgCostPlaces matches the numeric(20,6) column scale.
const avgCostPlaces = 6

// SimulatorConfig configures the paper account.
type SimulatorConfig struct {
	InitialCapital decimal.Decimal // cash for a freshly created account
}

// SimulatorExecutor implements Executor against the persistent store.
// The mutex serialises check-then-mutate so no two fills interleave between
// the balance check and the debit.
type SimulatorExecutor struct {
	cfg    SimulatorConfig
	db     *gorm.DB
	logger *zap.SugaredLogger
	now    func() time.Time

	mu sync.Mutex
}

func NewSimulatorExecutor(cfg SimulatorConfig, db *gorm.DB, logger *zap.SugaredLogger) *SimulatorExecutor {
	return &SimulatorExecutor{
		cfg:    cfg,
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *SimulatorExecutor) Execute(ctx context.Context, req TradeRequest) (*Fill, error) {
	return e.ExecuteAndThen(ctx, req, nil)
}

func (e *SimulatorExecutor) ExecuteAndThen(ctx context.Context, req TradeRequest, then TxHook) (*Fill, error) {
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if err := validate(req); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var fill *Fill
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := e.loadAccount(tx)
		if err != nil {
			return err
		}

		var f *Fill
		switch req.Side {
		case model.SideBuy:
			f, err = e.buy(tx, acct, req)
		case model.SideSell:
			f, err = e.sell(tx, acct, req)
		}
		if err != nil {
			return err
		}

		f.Transaction = model.Transaction{
			Ticker:    req.Ticker,
			Side:      req.Side,
			Shares:    req.Shares,
			Price:     req.Price,
			OrderID:   req.OrderID,
			Timestamp: e.now(),
		}
		if err := tx.Create(&f.Transaction).Error; err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}

		if then != nil {
			if err := then(tx); err != nil {
				return err
			}
		}
		fill = f
		return nil
	})
	if err != nil {
		e.logger.Infow("Trade rejected",
			"ticker", req.Ticker, "side", req.Side, "shares", req.Shares,
			"price", req.Price.String(), "order_id", req.OrderID, "error", err)
		return nil, err
	}

	e.logger.Infow("Trade filled",
		"ticker", req.Ticker, "side", req.Side, "shares", req.Shares,
		"price", req.Price.String(), "order_id", req.OrderID, "balance", fill.Balance.String())
	return fill, nil
}

func (e *SimulatorExecutor) Balance(ctx context.Context) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var bal decimal.Decimal
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := e.loadAccount(tx)
		if err != nil {
			return err
		}
		bal = acct.Balance
		return nil
	})
	return bal, err
}

func validate(req TradeRequest) error {
	switch {
	case req.Ticker == "":
		return fmt.Errorf("%w: ticker is required", ErrInvalidTrade)
	case req.Shares <= 0:
		return fmt.Errorf("%w: shares must be positive, got %d", ErrInvalidTrade, req.Shares)
	case !req.Price.IsPositive():
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidTrade, req.Price)
	case !req.Side.Valid():
		return fmt.Errorf("%w: unknown side %q", ErrInvalidTrade, req.Side)
	}
	return nil
}

// loadAccount returns the singleton account, creating it with the initial
// capital on first access.
// forUpdate locks the selected rows until tx ends. The mutex only covers this
// process; the trade command is a second writer. sqlite drops the clause and
// serialises writers itself.
func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func (e *SimulatorExecutor) loadAccount(tx *gorm.DB) (*model.Account, error) {
	var acct model.Account
	err := forUpdate(tx).First(&acct, model.AccountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		acct = model.Account{ID: model.AccountID, Balance: e.cfg.InitialCapital}
		if err := tx.Create(&acct).Error; err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		return &acct, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return &acct, nil
}

func (e *SimulatorExecutor) loadHolding(tx *gorm.DB, ticker string) (*model.Holding, error) {
	var h model.Holding
	err := forUpdate(tx).Where("ticker = ?", ticker).First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load holding %s: %w", ticker, err)
	}
	return &h, nil
}

func (e *SimulatorExecutor) buy(tx *gorm.DB, acct *model.Account, req TradeRequest) (*Fill, error) {
	cost := req.Price.Mul(decimal.NewFromInt(req.Shares))
	if acct.Balance.LessThan(cost) {
		return nil, fmt.Errorf("%w: cost %s, available %s", ErrInsufficientFunds, cost.StringFixed(2), acct.Balance.StringFixed(2))
	}

	holding, err := e.loadHolding(tx, req.Ticker)
	if err != nil {
		return nil, err
	}

	if holding == nil {
		holding = &model.Holding{Ticker: req.Ticker, Shares: req.Shares, AvgCost: req.Price}
		if err := tx.Create(holding).Error; err != nil {
			return nil, fmt.Errorf("open holding: %w", err)
		}
	} else {
		// new_avg = (old_shares*old_avg + shares*price) / (old_shares+shares)
		totalShares := holding.Shares + req.Shares
		totalCost := holding.AvgCost.Mul(decimal.NewFromInt(holding.Shares)).Add(cost)
		holding.Shares = totalShares
		holding.AvgCost = totalCost.Div(decimal.NewFromInt(totalShares)).Round(avgCostPlaces)
		err := tx.Model(&model.Holding{}).Where("ticker = ?", req.Ticker).
			Updates(map[string]any{"shares": holding.Shares, "avg_cost": holding.AvgCost}).Error
		if err != nil {
			return nil, fmt.Errorf("update holding: %w", err)
		}
	}

	balance := acct.Balance.Sub(cost)
	if err := e.setBalance(tx, balance); err != nil {
		return nil, err
	}
	return &Fill{Balance: balance, Holding: holding}, nil
}

func (e *SimulatorExecutor) sell(tx *gorm.DB, acct *model.Account, req TradeRequest) (*Fill, error) {
	holding, err := e.loadHolding(tx, req.Ticker)
	if err != nil {
		return nil, err
	}
	if holding == nil || holding.Shares < req.Shares {
		held := int64(0)
		if holding != nil {
			held = holding.Shares
		}
		return nil, fmt.Errorf("%w: %s held %d, requested %d", ErrInsufficientShares, req.Ticker, held, req.Shares)
	}

	holding.Shares -= req.Shares
	if holding.Shares == 0 {
		if err := tx.Where("ticker = ?", req.Ticker).Delete(&model.Holding{}).Error; err != nil {
			return nil, fmt.Errorf("close holding: %w", err)
		}
		holding = nil
	} else {
		err := tx.Model(&model.Holding{}).Where("ticker = ?", req.Ticker).Update("shares", holding.Shares).Error
		if err != nil {
			return nil, fmt.Errorf("update holding: %w", err)
		}
	}

	balance := acct.Balance.Add(req.Price.Mul(decimal.NewFromInt(req.Shares)))
	if err := e.setBalance(tx, balance); err != nil {
		return nil, err
	}
	return &Fill{Balance: balance, Holding: holding}, nil
}

func (e *SimulatorExecutor) setBalance(tx *gorm.DB, balance decimal.Decimal) error {
	err := tx.Model(&model.Account{}).Where("id = ?", model.AccountID).Update("balance", balance).Error
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}
