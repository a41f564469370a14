package market

import "math"

// Indicator functions return a slice aligned with the input: out[i] belongs to
// bars[i]. Entries before the warm-up point are NaN. When the input is shorter
// than the warm-up the whole series is NaN, never an error.

// EMA computes Exponential Moving Average for the given period.
// The value at index period-1 is seeded with the SMA of the first period bars.
func EMA(prices []float64, period int) []float64 {
	n := len(prices)
	out := nanSlice(n)
	if period <= 0 || n < period {
		return out
	}
	k := 2.0 / float64(period+1)

	// 用前 period 根的 SMA 作为种子
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += prices[i]
	}
	out[period-1] = seed / float64(period)

	for i := period; i < n; i++ {
		out[i] = prices[i]*k + out[i-1]*(1-k)
	}
	return out
}

// MACD computes MACD line = EMA12 - EMA26, aligned with prices.
// Defined only where both EMAs are defined.
func MACD(prices []float64) []float64 {
	ema12 := EMA(prices, 12)
	ema26 := EMA(prices, 26)
	n := len(prices)
	out := nanSlice(n)
	for i := 0; i < n; i++ {
		if !math.IsNaN(ema12[i]) && !math.IsNaN(ema26[i]) {
			out[i] = ema12[i] - ema26[i]
		}
	}
	return out
}

// RSI computes Relative Strength Index with Wilder smoothing.
// avgLoss == 0 yields 100; avgGain == 0 with losses present yields 0.
func RSI(prices []float64, period int) []float64 {
	n := len(prices)
	out := nanSlice(n)
	if period <= 0 || n < period+1 {
		return out
	}

	avgGain := 0.0
	avgLoss := 0.0
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += math.Abs(change)
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		change := prices[i] - prices[i-1]
		gain := 0.0
		loss := 0.0
		if change > 0 {
			gain = change
		} else {
			loss = math.Abs(change)
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	if avgGain == 0 {
		return 0
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ATR computes Average True Range with Wilder smoothing over high/low/close.
// TR[0] = high-low; the value at index period is seeded with the SMA of
// TR[1..period]. A zero-variance series yields ATR = 0.
func ATR(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return out
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	seed := 0.0
	for i := 1; i <= period; i++ {
		seed += tr[i]
	}
	out[period] = seed / float64(period)

	for i := period + 1; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}

// SMA computes a simple average of the whole slice, ignoring NaN entries.
func SMA(values []float64) float64 {
	sum := 0.0
	count := 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Tail returns the last n values of series with NaN replaced by 0, so the
// result is safe to encode as JSON.
func Tail(series []float64, n int) []float64 {
	if len(series) > n {
		series = series[len(series)-n:]
	}
	out := make([]float64, len(series))
	for i, v := range series {
		out[i] = Sanitize(v)
	}
	return out
}

// Sanitize maps NaN and Inf to 0.
func Sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Last returns the final value of series sanitized for JSON.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return Sanitize(series[len(series)-1])
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
