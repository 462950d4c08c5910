// Package indicator computes technical indicator series from OHLCV bars.
//
// Every function returns only fully warmed-up values: the first element of a
// result corresponds to the first bar for which the indicator is defined, and
// the last element always corresponds to the last input bar.
package indicator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/newthinker/signalflow/internal/core"
)

// ErrUnknownIndicator is returned by Compute for unsupported indicator kinds.
var ErrUnknownIndicator = errors.New("indicator: unknown kind")

// Kind identifies an indicator implementation
type Kind string

const (
	KindSMA       Kind = "sma"
	KindEMA       Kind = "ema"
	KindRSI       Kind = "rsi"
	KindMACD      Kind = "macd"
	KindBollinger Kind = "bollinger"
	KindATR       Kind = "atr"
	KindADX       Kind = "adx"
)

// Output keys
const (
	KeyValue      = "value"
	KeyMACDLine   = "macd_line"
	KeySignalLine = "signal_line"
	KeyHistogram  = "histogram"
	KeyUpper      = "upper"
	KeyMiddle     = "middle"
	KeyLower      = "lower"
	KeyADX        = "adx"
	KeyPlusDI     = "plus_di"
	KeyMinusDI    = "minus_di"
)

// ParseKind normalizes the names used by graph authors ("SMA", "bb", "bbands").
func ParseKind(name string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sma", "ma":
		return KindSMA, true
	case "ema":
		return KindEMA, true
	case "rsi":
		return KindRSI, true
	case "macd":
		return KindMACD, true
	case "bollinger", "bb", "bbands", "bollinger_bands":
		return KindBollinger, true
	case "atr":
		return KindATR, true
	case "adx", "dmi":
		return KindADX, true
	}
	return "", false
}

// Outputs lists the output keys of an indicator in handle order.
func (k Kind) Outputs() []string {
	switch k {
	case KindMACD:
		return []string{KeyMACDLine, KeySignalLine, KeyHistogram}
	case KindBollinger:
		return []string{KeyUpper, KeyMiddle, KeyLower}
	case KindADX:
		return []string{KeyADX, KeyPlusDI, KeyMinusDI}
	default:
		return []string{KeyValue}
	}
}

// Params configures an indicator computation. Zero values fall back to
// the conventional defaults for the kind.
type Params struct {
	Period       int
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
	StdDev       float64
	Source       string // open, high, low, close, volume, hl2, hlc3
}

// WithDefaults fills zero fields with the defaults for kind
func (p Params) WithDefaults(k Kind) Params {
	if p.Period <= 0 {
		switch k {
		case KindRSI, KindATR, KindADX:
			p.Period = 14
		default:
			p.Period = 20
		}
	}
	if p.FastPeriod <= 0 {
		p.FastPeriod = 12
	}
	if p.SlowPeriod <= 0 {
		p.SlowPeriod = 26
	}
	if p.SignalPeriod <= 0 {
		p.SignalPeriod = 9
	}
	if p.StdDev <= 0 {
		p.StdDev = 2
	}
	if p.Source == "" {
		p.Source = "close"
	}
	return p
}

// Output holds the named series produced by one indicator
type Output map[string][]float64

// Latest returns the last value of the named series
func (o Output) Latest(key string) (float64, bool) {
	s, ok := o[key]
	if !ok || len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

// RequiredBars returns the minimum number of bars needed to produce one value
func RequiredBars(k Kind, p Params) int {
	p = p.WithDefaults(k)
	switch k {
	case KindRSI, KindATR:
		return p.Period + 1
	case KindMACD:
		fast, slow := p.FastPeriod, p.SlowPeriod
		if slow < fast {
			slow = fast
		}
		return slow + p.SignalPeriod - 1
	case KindADX:
		return 2 * p.Period
	default:
		return p.Period
	}
}

// Compute runs the indicator over bars and returns all of its outputs.
func Compute(k Kind, p Params, bars []core.Bar) (Output, error) {
	p = p.WithDefaults(k)
	if need := RequiredBars(k, p); len(bars) < need {
		return nil, core.WrapError(core.ErrInsufficientData,
			fmt.Errorf("%s needs %d bars, have %d", k, need, len(bars)))
	}

	src := Source(bars, p.Source)
	switch k {
	case KindSMA:
		return Output{KeyValue: SMA(src, p.Period)}, nil
	case KindEMA:
		return Output{KeyValue: EMA(src, p.Period)}, nil
	case KindRSI:
		return Output{KeyValue: RSI(src, p.Period)}, nil
	case KindMACD:
		m := MACD(src, p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
		return Output{KeyMACDLine: m.Line, KeySignalLine: m.Signal, KeyHistogram: m.Histogram}, nil
	case KindBollinger:
		b := Bollinger(src, p.Period, p.StdDev)
		return Output{KeyUpper: b.Upper, KeyMiddle: b.Middle, KeyLower: b.Lower}, nil
	case KindATR:
		return Output{KeyValue: ATR(bars, p.Period)}, nil
	case KindADX:
		d := Directional(bars, p.Period)
		return Output{KeyADX: d.ADX, KeyPlusDI: d.PlusDI, KeyMinusDI: d.MinusDI}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownIndicator, k)
}

// Source extracts one price field from bars. Unknown fields fall back to close.
func Source(bars []core.Bar, field string) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		switch strings.ToLower(field) {
		case "open":
			out[i] = b.Open
		case "high":
			out[i] = b.High
		case "low":
			out[i] = b.Low
		case "volume":
			out[i] = b.Volume
		case "hl2":
			out[i] = (b.High + b.Low) / 2
		case "hlc3":
			out[i] = (b.High + b.Low + b.Close) / 3
		default:
			out[i] = b.Close
		}
	}
	return out
}

// trim drops the talib warm-up region
func trim(series []float64, lookback int) []float64 {
	if lookback < 0 {
		lookback = 0
	}
	if lookback >= len(series) {
		return []float64{}
	}
	out := make([]float64, len(series)-lookback)
	copy(out, series[lookback:])
	return out
}
