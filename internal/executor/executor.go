package executor

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"kangaroo-trader/internal/model"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient buying power")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInvalidTrade       = errors.New("invalid trade")
)

// TradeRequest is one fill to apply to the account.
type TradeRequest struct {
	Ticker  string
	Shares  int64
	Price   decimal.Decimal
	Side    model.Side
	OrderID string // set when the fill comes from a pending order
}

// Fill is the outcome of a successful execution.
type Fill struct {
	Transaction model.Transaction
	Balance     decimal.Decimal // cash after the fill
	Holding     *model.Holding  // nil when the position was closed
}

// TxHook runs inside the execution transaction after the account, holding and
// transaction rows are written. Returning an error rolls the whole fill back.
type TxHook func(tx *gorm.DB) error

// Executor is the only component allowed to mutate cash, holdings and the
// transaction log.
type Executor interface {
	// Execute applies a manual or matched trade.
	Execute(ctx context.Context, req TradeRequest) (*Fill, error)

	// ExecuteAndThen applies a trade and runs then in the same transaction.
	ExecuteAndThen(ctx context.Context, req TradeRequest, then TxHook) (*Fill, error)

	// Balance returns the current cash balance.
	Balance(ctx context.Context) (decimal.Decimal, error)
}
