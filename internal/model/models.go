package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one row of the quotes table at a single collection instant.
// It is never persisted directly, only folded into Stock.
type Quote struct {
	Ticker        string          `json:"ticker"`         // e.g. "BHP"
	Name          string          `json:"name"`           // display name, code prefix stripped
	Price         decimal.Decimal `json:"price"`          // last price
	ChangeAmount  decimal.Decimal `json:"change_amount"`  // absolute change
	ChangePercent string          `json:"change_percent"` // as displayed, e.g. "-1.25%"
	DayHigh       decimal.Decimal `json:"day_high"`
	DayLow        decimal.Decimal `json:"day_low"`
	Volume        string          `json:"volume"`     // as displayed
	MarketCap     string          `json:"market_cap"` // human formatted, e.g. "12.3B"
}

// Side is the direction of a fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) String() string {
	return string(s)
}

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType is the kind of conditional order held in the pending book.
type OrderType string

const (
	OrderLimitBuy  OrderType = "LIMIT_BUY"
	OrderLimitSell OrderType = "LIMIT_SELL"
	OrderStopLoss  OrderType = "STOP_LOSS"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderLimitBuy, OrderLimitSell, OrderStopLoss:
		return true
	default:
		return false
	}
}

// Side derives the fill side: LIMIT_BUY buys, LIMIT_SELL and STOP_LOSS sell.
func (t OrderType) Side() Side {
	if t == OrderLimitBuy {
		return SideBuy
	}
	return SideSell
}

// Triggered reports whether a live price crosses the order's threshold.
// STOP_LOSS is downside protection only.
func (t OrderType) Triggered(price, limit decimal.Decimal) bool {
	switch t {
	case OrderLimitBuy:
		return price.LessThanOrEqual(limit)
	case OrderLimitSell:
		return price.GreaterThanOrEqual(limit)
	case OrderStopLoss:
		return price.LessThanOrEqual(limit)
	default:
		return false
	}
}

// OrderStatus is the lifecycle state of a pending order. PENDING is the only
// non-terminal state.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// AlertCondition is what an alert watches for.
type AlertCondition string

const (
	AlertAbove    AlertCondition = "ABOVE"
	AlertBelow    AlertCondition = "BELOW"
	AlertReminder AlertCondition = "REMINDER" // note only, never auto-triggers
)

// Valid reports whether c is a known condition.
func (c AlertCondition) Valid() bool {
	switch c {
	case AlertAbove, AlertBelow, AlertReminder:
		return true
	default:
		return false
	}
}

// AlertStatus is ACTIVE until a price alert fires; TRIGGERED is terminal.
type AlertStatus string

const (
	AlertActive    AlertStatus = "ACTIVE"
	AlertTriggered AlertStatus = "TRIGGERED"
)

// EngineState labels the ingestion orchestrator's current phase.
type EngineState string

const (
	EngineStarting     EngineState = "STARTING"
	EngineMarketClosed EngineState = "MARKET_CLOSED"
	EngineLaunching    EngineState = "LAUNCHING_BROWSER"
	EngineLive         EngineState = "LIVE"
	EngineUpdated      EngineState = "UPDATED"
	EngineNoData       EngineState = "NO_DATA"
	EngineError        EngineState = "ERROR"
	EngineStopped      EngineState = "STOPPED"
)

// EngineStatus is process-local observability state. It is not a source of truth.
type EngineStatus struct {
	Status  EngineState `json:"status"`
	Detail  string      `json:"detail"`
	LastRun time.Time   `json:"last_run"` // last cycle that persisted a change
	Active  bool        `json:"active"`   // market session currently open
}
