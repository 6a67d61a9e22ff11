package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SectorUnresolved is stored when a sector lookup has been attempted and failed.
const SectorUnresolved = "Unknown"

// Stock is the persisted view of one ticker, keyed by ticker.
type Stock struct {
	Ticker        string          `gorm:"primaryKey;size:12" json:"ticker"`
	Name          string          `json:"name"`
	Sector        string          `gorm:"index" json:"sector"` // "" until first attempt, SectorUnresolved on failure
	Price         decimal.Decimal `gorm:"type:numeric(20,6)" json:"price"`
	ChangeAmount  decimal.Decimal `gorm:"type:numeric(20,6)" json:"change_amount"`
	ChangePercent string          `json:"change_percent"`
	MarketCap     string          `json:"market_cap"`
	Volume        string          `json:"volume"`
	LastUpdated   time.Time       `json:"last_updated"`
	Watch         bool            `gorm:"default:false" json:"watch"`
}

// SectorResolved reports whether the sector holds a real classification.
func (s *Stock) SectorResolved() bool {
	return s.Sector != "" && s.Sector != SectorUnresolved
}

// StockPrice is an append-only price history row, written when a ticker's
// price moves.
type StockPrice struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Ticker    string          `gorm:"index;size:12" json:"ticker"`
	Price     decimal.Decimal `gorm:"type:numeric(20,6)" json:"price"`
	DayHigh   decimal.Decimal `gorm:"type:numeric(20,6)" json:"day_high"`
	DayLow    decimal.Decimal `gorm:"type:numeric(20,6)" json:"day_low"`
	Volume    string          `json:"volume"`
	Timestamp time.Time       `gorm:"index" json:"timestamp"`
}

// AccountID is the primary key of the singleton account row.
const AccountID = 1

// Account is the singleton cash account.
type Account struct {
	ID      uint            `gorm:"primaryKey" json:"id"`
	Balance decimal.Decimal `gorm:"type:numeric(20,6)" json:"balance"`
}

// Holding is one open position. Rows with zero shares are deleted.
type Holding struct {
	Ticker  string          `gorm:"primaryKey;size:12" json:"ticker"`
	Shares  int64           `json:"shares"`
	AvgCost decimal.Decimal `gorm:"type:numeric(20,6)" json:"avg_cost"`
}

// Transaction is one completed fill. The log is append-only.
type Transaction struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Ticker    string          `gorm:"index;size:12" json:"ticker"`
	Side      Side            `gorm:"size:4" json:"type"`
	Shares    int64           `json:"shares"`
	Price     decimal.Decimal `gorm:"type:numeric(20,6)" json:"price"`
	OrderID   string          `gorm:"size:36" json:"order_id,omitempty"` // set for matcher fills
	Timestamp time.Time       `gorm:"index" json:"timestamp"`
}

// PendingOrder is a conditional order awaiting trigger.
type PendingOrder struct {
	ID         string              `gorm:"primaryKey;size:36" json:"id"`
	Ticker     string              `gorm:"index;size:12" json:"ticker"`
	Type       OrderType           `gorm:"size:16" json:"type"`
	Shares     int64               `json:"shares"`
	LimitPrice decimal.Decimal     `gorm:"type:numeric(20,6)" json:"limit_price"`
	Status     OrderStatus         `gorm:"index;size:12" json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	FilledAt   *time.Time          `json:"filled_at,omitempty"`
	FillPrice  decimal.NullDecimal `gorm:"type:numeric(20,6)" json:"fill_price"`
}

// Alert is a user price alert or reminder note.
type Alert struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Ticker      string          `gorm:"index;size:12" json:"ticker"`
	Condition   AlertCondition  `gorm:"size:10" json:"condition"`
	TargetPrice decimal.Decimal `gorm:"type:numeric(20,6)" json:"target_price"`
	Note        string          `json:"note"`
	Status      AlertStatus     `gorm:"index;size:10" json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	TriggeredAt *time.Time      `json:"triggered_at,omitempty"`
}

// AllModels lists every table for schema migration.
func AllModels() []any {
	return []any{
		&Stock{},
		&StockPrice{},
		&Account{},
		&Holding{},
		&Transaction{},
		&PendingOrder{},
		&Alert{},
	}
}
