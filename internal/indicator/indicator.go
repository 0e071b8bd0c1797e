package indicator

import "math"

// All functions take close prices ordered oldest to newest and return NaN
// when the series is too short for the requested period.

// SMA computes the simple moving average of the last period values.
func SMA(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return math.NaN()
	}
	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period)
}

// EMA computes the exponential moving average, seeded with the SMA of the
// first period values and rolled forward with k = 2/(period+1).
func EMA(prices []float64, period int) float64 {
	series := emaSeries(prices, period)
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// emaSeries returns the full EMA series aligned to prices. Entries before
// the seed index are NaN.
func emaSeries(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	out := make([]float64, len(prices))
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	out[period-1] = sum / float64(period)

	k := 2.0 / (float64(period) + 1.0)
	for i := period; i < len(prices); i++ {
		out[i] = prices[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI computes the Wilder-smoothed Relative Strength Index. The seed
// average gain/loss comes from the first period deltas; later deltas are
// smoothed with weight (period-1)/period old, 1/period new. A zero smoothed
// average loss yields 100, never a division by zero.
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return math.NaN()
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// MACDResult holds the scalar MACD outputs for the latest bar.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes MACD(fast, slow, signal). The fast and slow EMA series are
// aligned over the whole input; the signal line is the EMA of the MACD
// series, skipping the leading NaN run where the slow EMA is not yet
// seeded.
func MACD(prices []float64, fast, slow, signal int) MACDResult {
	nan := MACDResult{MACD: math.NaN(), Signal: math.NaN(), Histogram: math.NaN()}
	if len(prices) < slow {
		return nan
	}

	fastSeries := emaSeries(prices, fast)
	slowSeries := emaSeries(prices, slow)
	if fastSeries == nil || slowSeries == nil {
		return nan
	}

	// macd series is defined only where both EMAs are
	macdSeries := make([]float64, 0, len(prices)-slow+1)
	for i := slow - 1; i < len(prices); i++ {
		macdSeries = append(macdSeries, fastSeries[i]-slowSeries[i])
	}

	macdLine := macdSeries[len(macdSeries)-1]
	signalLine := EMA(macdSeries, signal)
	if math.IsNaN(signalLine) {
		return MACDResult{MACD: macdLine, Signal: math.NaN(), Histogram: math.NaN()}
	}
	return MACDResult{
		MACD:      macdLine,
		Signal:    signalLine,
		Histogram: macdLine - signalLine,
	}
}

// Bands holds Bollinger band levels for the latest bar.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// BollingerBands computes middle = SMA(period) and bands at k population
// standard deviations.
func BollingerBands(prices []float64, period int, k float64) Bands {
	mid := SMA(prices, period)
	if math.IsNaN(mid) {
		return Bands{Upper: math.NaN(), Middle: math.NaN(), Lower: math.NaN()}
	}
	sumSq := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		d := prices[i] - mid
		sumSq += d * d
	}
	std := math.Sqrt(sumSq / float64(period))
	return Bands{Upper: mid + k*std, Middle: mid, Lower: mid - k*std}
}

// ROC returns the percent change between the latest price and the price
// period steps back.
func ROC(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return math.NaN()
	}
	prev := prices[len(prices)-1-period]
	if prev == 0 {
		return math.NaN()
	}
	return (prices[len(prices)-1] - prev) / prev * 100.0
}
