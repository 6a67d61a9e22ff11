package ta

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

// Signal is a coarse reading of momentum.
type Signal string

const (
	SignalOversold   Signal = "OVERSOLD"
	SignalNeutral    Signal = "NEUTRAL"
	SignalOverbought Signal = "OVERBOUGHT"
)

// Indicators holds the latest indicator values for one price series.
type Indicators struct {
	Last     float64 `json:"last"`
	SMA      float64 `json:"sma"`
	RSI      float64 `json:"rsi"`
	BBandsUp float64 `json:"bbands_up"`
	BBandsDn float64 `json:"bbands_dn"`
	Signal   Signal  `json:"signal"`
}

// Calculator computes indicators over closing-price series.
type Calculator struct {
	Period     int     // SMA, RSI and band length
	Oversold   float64 // RSI at or below
	Overbought float64 // RSI at or above
}

func NewCalculator(period int) *Calculator {
	if period < 2 {
		period = 14
	}
	return &Calculator{Period: period, Oversold: 30, Overbought: 70}
}

// MinHistory is the shortest series Compute accepts.
func (c *Calculator) MinHistory() int {
	return c.Period + 1
}

// Compute returns the latest indicators for closes, oldest first.
func (c *Calculator) Compute(closes []float64) (Indicators, error) {
	if len(closes) < c.MinHistory() {
		return Indicators{}, fmt.Errorf("need %d prices, have %d", c.MinHistory(), len(closes))
	}

	sma := talib.Sma(closes, c.Period)
	rsi := talib.Rsi(closes, c.Period)
	up, _, dn := talib.BBands(closes, c.Period, 2, 2, talib.SMA)

	ind := Indicators{
		Last:     closes[len(closes)-1],
		SMA:      round(sma[len(sma)-1]),
		RSI:      round(rsi[len(rsi)-1]),
		BBandsUp: round(up[len(up)-1]),
		BBandsDn: round(dn[len(dn)-1]),
	}
	switch {
	case ind.RSI <= c.Oversold:
		ind.Signal = SignalOversold
	case ind.RSI >= c.Overbought:
		ind.Signal = SignalOverbought
	default:
		ind.Signal = SignalNeutral
	}
	return ind, nil
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}
