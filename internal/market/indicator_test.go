package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestEMA(t *testing.T) {
	t.Run("seed is SMA at period-1", func(t *testing.T) {
		prices := []float64{1, 2, 3, 4, 5, 6}
		out := EMA(prices, 3)
		require.Len(t, out, 6)
		assert.True(t, math.IsNaN(out[0]))
		assert.True(t, math.IsNaN(out[1]))
		assert.InDelta(t, 2.0, out[2], 1e-9) // (1+2+3)/3
		k := 2.0 / 4.0
		assert.InDelta(t, 4*k+2*(1-k), out[3], 1e-9)
	})

	t.Run("shorter than period is all NaN", func(t *testing.T) {
		out := EMA([]float64{1, 2}, 5)
		require.Len(t, out, 2)
		for _, v := range out {
			assert.True(t, math.IsNaN(v))
		}
	})

	t.Run("constant series converges to the constant", func(t *testing.T) {
		out := EMA(constant(42, 50), 9)
		assert.InDelta(t, 42, out[49], 1e-9)
	})
}

func TestMACD(t *testing.T) {
	prices := seq(100, 1, 60)
	out := MACD(prices)
	require.Len(t, out, 60)
	// undefined until EMA26 warms up
	for i := 0; i < 25; i++ {
		assert.True(t, math.IsNaN(out[i]), "index %d", i)
	}
	assert.False(t, math.IsNaN(out[25]))
	// rising prices keep the fast EMA above the slow one
	assert.Greater(t, out[59], 0.0)

	t.Run("constant prices give zero line", func(t *testing.T) {
		out := MACD(constant(10, 60))
		assert.InDelta(t, 0, out[59], 1e-9)
	})
}

func TestRSI(t *testing.T) {
	t.Run("strictly increasing series saturates at 100", func(t *testing.T) {
		out := RSI(seq(1, 1, 40), 14)
		require.Len(t, out, 40)
		for i := 0; i < 14; i++ {
			assert.True(t, math.IsNaN(out[i]), "index %d", i)
		}
		assert.InDelta(t, 100, out[39], 1e-9)
	})

	t.Run("strictly decreasing series saturates at 0", func(t *testing.T) {
		out := RSI(seq(100, -1, 40), 14)
		assert.InDelta(t, 0, out[39], 1e-9)
	})

	t.Run("too few bars is all NaN", func(t *testing.T) {
		out := RSI(seq(1, 1, 7), 7)
		for _, v := range out {
			assert.True(t, math.IsNaN(v))
		}
	})

	t.Run("mixed series stays inside (0,100)", func(t *testing.T) {
		prices := []float64{10, 11, 10.5, 12, 11.8, 13, 12.2, 12.9, 13.5, 13.1,
			14, 13.7, 14.2, 14.8, 14.5, 15, 14.6, 15.2}
		out := RSI(prices, 7)
		last := out[len(out)-1]
		assert.Greater(t, last, 0.0)
		assert.Less(t, last, 100.0)
	})
}

func TestATR(t *testing.T) {
	t.Run("zero variance series gives zero", func(t *testing.T) {
		n := 40
		highs := constant(50, n)
		lows := constant(50, n)
		closes := constant(50, n)
		out := ATR(highs, lows, closes, 14)
		for i := 0; i < 14; i++ {
			assert.True(t, math.IsNaN(out[i]), "index %d", i)
		}
		assert.InDelta(t, 0, out[n-1], 1e-9)
	})

	t.Run("constant range gives that range", func(t *testing.T) {
		n := 40
		highs := make([]float64, n)
		lows := make([]float64, n)
		closes := make([]float64, n)
		for i := range highs {
			highs[i] = 102
			lows[i] = 100
			closes[i] = 101
		}
		out := ATR(highs, lows, closes, 14)
		assert.InDelta(t, 2, out[n-1], 1e-9)
	})

	t.Run("mismatched lengths are all NaN", func(t *testing.T) {
		out := ATR(constant(1, 5), constant(1, 4), constant(1, 5), 2)
		for _, v := range out {
			assert.True(t, math.IsNaN(v))
		}
	})
}

func TestTail(t *testing.T) {
	series := EMA(seq(1, 1, 12), 9)
	out := Tail(series, 10)
	require.Len(t, out, 10)
	// NaN warm-up entries inside the tail are sanitized to zero
	assert.Equal(t, 0.0, out[0])
	assert.NotEqual(t, 0.0, out[9])

	short := Tail([]float64{1, 2, 3}, 10)
	assert.Equal(t, []float64{1, 2, 3}, short)
}

func TestSMA(t *testing.T) {
	assert.InDelta(t, 2, SMA([]float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 2, SMA([]float64{math.NaN(), 1, 3}), 1e-9)
	assert.Equal(t, 0.0, SMA(nil))
}
