package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	assert.InDelta(t, 3.0, SMA([]float64{1, 2, 3, 4, 5}, 5), 1e-9)
	assert.InDelta(t, 4.5, SMA([]float64{1, 2, 3, 4, 5}, 2), 1e-9)
	assert.True(t, math.IsNaN(SMA([]float64{1, 2}, 3)))
	assert.True(t, math.IsNaN(SMA(nil, 1)))
}

func TestEMA_SeedEqualsSMA(t *testing.T) {
	prices := []float64{10, 11, 12, 13, 14}
	// With len == period the EMA is just the seed SMA.
	assert.InDelta(t, 12.0, EMA(prices, 5), 1e-9)
	assert.True(t, math.IsNaN(EMA(prices, 6)))
}

func TestEMA_Recurrence(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5, 6}
	// period 3: seed sma(1,2,3)=2, k=0.5
	// ema4 = 4*0.5 + 2*0.5 = 3; ema5 = 5*0.5 + 3*0.5 = 4; ema6 = 6*0.5 + 4*0.5 = 5
	assert.InDelta(t, 5.0, EMA(prices, 3), 1e-9)
}

func TestRSI_Bounds(t *testing.T) {
	up := make([]float64, 30)
	down := make([]float64, 30)
	for i := range up {
		up[i] = 100 + float64(i)
		down[i] = 100 - float64(i)
	}

	rsiUp := RSI(up, 14)
	rsiDown := RSI(down, 14)

	assert.Equal(t, 100.0, rsiUp, "all gains must pin RSI at 100, not NaN")
	assert.Greater(t, rsiUp, 70.0)
	assert.Less(t, rsiDown, 30.0)
	assert.GreaterOrEqual(t, rsiDown, 0.0)

	assert.True(t, math.IsNaN(RSI(up[:14], 14)), "needs period+1 prices")
}

func TestRSI_Range(t *testing.T) {
	mixed := []float64{44, 44.3, 44.1, 43.6, 44.3, 44.8, 45.1, 45.4, 45.8, 46.1,
		45.9, 46.3, 46.0, 46.4, 46.2, 45.6, 46.3, 46.2}
	rsi := RSI(mixed, 14)
	require.False(t, math.IsNaN(rsi))
	assert.GreaterOrEqual(t, rsi, 0.0)
	assert.LessOrEqual(t, rsi, 100.0)
}

func TestMACD_HistogramIdentity(t *testing.T) {
	prices := make([]float64, 80)
	for i := range prices {
		prices[i] = 100 + 10*math.Sin(float64(i)/7)
	}
	res := MACD(prices, 12, 26, 9)
	require.False(t, math.IsNaN(res.MACD))
	require.False(t, math.IsNaN(res.Signal))
	// exact identity, not approximate
	assert.Equal(t, res.MACD-res.Signal, res.Histogram)
}

func TestMACD_InsufficientData(t *testing.T) {
	res := MACD(make([]float64, 20), 12, 26, 9)
	assert.True(t, math.IsNaN(res.MACD))
	assert.True(t, math.IsNaN(res.Histogram))
}

func TestBollingerBands(t *testing.T) {
	flat := make([]float64, 25)
	for i := range flat {
		flat[i] = 50
	}
	b := BollingerBands(flat, 20, 2)
	assert.InDelta(t, 50.0, b.Middle, 1e-9)
	assert.InDelta(t, 50.0, b.Upper, 1e-9, "zero variance collapses the bands")
	assert.InDelta(t, 50.0, b.Lower, 1e-9)

	short := BollingerBands(flat[:10], 20, 2)
	assert.True(t, math.IsNaN(short.Middle))
}

func TestROC(t *testing.T) {
	prices := []float64{100, 105, 110}
	assert.InDelta(t, 10.0, ROC(prices, 2), 1e-9)
	assert.True(t, math.IsNaN(ROC(prices, 3)))
}

// Scenario: flat then sharply declining series must read as oversold with a
// negative MACD histogram.
func TestDecliningSeriesSignals(t *testing.T) {
	prices := make([]float64, 0, 60)
	for i := 0; i < 30; i++ {
		prices = append(prices, 100)
	}
	for i := 0; i < 30; i++ {
		prices = append(prices, 100-3*float64(i+1))
	}

	rsi := RSI(prices, 14)
	require.False(t, math.IsNaN(rsi))
	assert.Less(t, rsi, 30.0)

	macd := MACD(prices, 12, 26, 9)
	require.False(t, math.IsNaN(macd.Histogram))
	assert.Less(t, macd.Histogram, 0.0)
}
