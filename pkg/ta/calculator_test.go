package ta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestComputeRisingSeries(t *testing.T) {
	c := NewCalculator(5)
	ind, err := c.Compute(series(10, 1, 10))
	require.NoError(t, err)

	assert.Equal(t, 19.0, ind.Last)
	assert.InDelta(t, 17.0, ind.SMA, 1e-9)
	assert.InDelta(t, 100.0, ind.RSI, 1e-9, "no losses means RSI 100")
	assert.Equal(t, SignalOverbought, ind.Signal)
	assert.Greater(t, ind.BBandsUp, ind.SMA)
	assert.Less(t, ind.BBandsDn, ind.SMA)
}

func TestComputeFallingSeries(t *testing.T) {
	c := NewCalculator(5)
	ind, err := c.Compute(series(30, -1, 10))
	require.NoError(t, err)

	assert.InDelta(t, 0.0, ind.RSI, 1e-9)
	assert.Equal(t, SignalOversold, ind.Signal)
}

func TestComputeShortHistory(t *testing.T) {
	c := NewCalculator(14)
	assert.Equal(t, 15, c.MinHistory())

	_, err := c.Compute(series(1, 1, 14))
	assert.Error(t, err)
}

func TestNewCalculatorDefaultsPeriod(t *testing.T) {
	assert.Equal(t, 14, NewCalculator(0).Period)
}
