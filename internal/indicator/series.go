package indicator

import (
	"github.com/markcheno/go-talib"

	"github.com/newthinker/signalflow/internal/core"
)

// SMA calculates Simple Moving Average
// Returns slice of length: len(prices) - period + 1
func SMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return []float64{}
	}
	return trim(talib.Sma(prices, period), period-1)
}

// EMA calculates Exponential Moving Average, seeded with the SMA of the
// first period values.
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return []float64{}
	}
	return trim(talib.Ema(prices, period), period-1)
}

// RSI calculates Wilder's Relative Strength Index
func RSI(prices []float64, period int) []float64 {
	if period < 2 || len(prices) <= period {
		return []float64{}
	}
	return trim(talib.Rsi(prices, period), period)
}

// MACDResult holds the three MACD series, aligned on the same bars
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD calculates Moving Average Convergence/Divergence
func MACD(prices []float64, fast, slow, signal int) MACDResult {
	if slow < fast {
		fast, slow = slow, fast
	}
	lookback := (signal - 1) + (slow - 1)
	if fast <= 0 || signal <= 0 || len(prices) <= lookback {
		return MACDResult{Line: []float64{}, Signal: []float64{}, Histogram: []float64{}}
	}

	line, sig, hist := talib.Macd(prices, fast, slow, signal)
	return MACDResult{
		Line:      trim(line, lookback),
		Signal:    trim(sig, lookback),
		Histogram: trim(hist, lookback),
	}
}

// BollingerResult holds upper, middle and lower bands
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger calculates Bollinger Bands around an SMA
func Bollinger(prices []float64, period int, stdDev float64) BollingerResult {
	if period <= 0 || len(prices) < period {
		return BollingerResult{Upper: []float64{}, Middle: []float64{}, Lower: []float64{}}
	}

	upper, middle, lower := talib.BBands(prices, period, stdDev, stdDev, talib.SMA)
	return BollingerResult{
		Upper:  trim(upper, period-1),
		Middle: trim(middle, period-1),
		Lower:  trim(lower, period-1),
	}
}

// ATR calculates Average True Range
func ATR(bars []core.Bar, period int) []float64 {
	if period < 2 || len(bars) <= period {
		return []float64{}
	}
	high, low, closes := hlc(bars)
	return trim(talib.Atr(high, low, closes, period), period)
}

// DirectionalResult holds ADX and the directional indicators, aligned on the
// same bars as ADX.
type DirectionalResult struct {
	ADX     []float64
	PlusDI  []float64
	MinusDI []float64
}

// Directional calculates ADX together with +DI and -DI
func Directional(bars []core.Bar, period int) DirectionalResult {
	lookback := 2*period - 1
	if period < 2 || len(bars) <= lookback {
		return DirectionalResult{ADX: []float64{}, PlusDI: []float64{}, MinusDI: []float64{}}
	}

	high, low, closes := hlc(bars)
	return DirectionalResult{
		ADX:     trim(talib.Adx(high, low, closes, period), lookback),
		PlusDI:  trim(talib.PlusDI(high, low, closes, period), lookback),
		MinusDI: trim(talib.MinusDI(high, low, closes, period), lookback),
	}
}

// ADX returns only the trend strength series
func ADX(bars []core.Bar, period int) []float64 {
	return Directional(bars, period).ADX
}

func hlc(bars []core.Bar) (high, low, closes []float64) {
	high = make([]float64, len(bars))
	low = make([]float64, len(bars))
	closes = make([]float64, len(bars))
	for i, b := range bars {
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
	}
	return high, low, closes
}
