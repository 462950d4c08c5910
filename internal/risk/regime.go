package risk

import (
	"math"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/indicator"
)

// VolatilityClass buckets the recent/long volatility ratio
type VolatilityClass string

const (
	VolatilityCalm     VolatilityClass = "calm"
	VolatilityNormal   VolatilityClass = "normal"
	VolatilityVolatile VolatilityClass = "volatile"
)

// Regime thresholds
const (
	VolatileRatio        = 1.5
	CalmRatio            = 0.75
	HighCorrelationLevel = 0.7
	TrendingADX          = 25
	regimeADXPeriod      = 14
)

// Regime describes the current market environment
type Regime struct {
	Volatility      VolatilityClass
	VolRatio        float64
	HighCorrelation bool
	AvgCorrelation  float64
	Trending        bool
	ADX             float64
}

// Multiplier returns the sizing multiplier for the regime. Factors compose
// multiplicatively, so their order does not matter.
func (r Regime) Multiplier() float64 {
	m := 1.0
	switch r.Volatility {
	case VolatilityVolatile:
		m *= 0.7
	case VolatilityCalm:
		m *= 1.2
	}
	if r.HighCorrelation {
		m *= 0.8
	}
	return m
}

// DetectRegime classifies the market from the signal symbol's bars and the
// correlation of currently held symbols. Missing data yields a normal regime.
func (s *Sizer) DetectRegime(history []core.Bar, view View) Regime {
	r := Regime{Volatility: VolatilityNormal, VolRatio: 1}

	if ratio, ok := s.volRatio(core.Closes(history)); ok {
		r.VolRatio = ratio
		switch {
		case ratio > VolatileRatio:
			r.Volatility = VolatilityVolatile
		case ratio < CalmRatio:
			r.Volatility = VolatilityCalm
		}
	}

	if avg, ok := MeanPairwiseCorrelation(view.heldReturns("")); ok {
		r.AvgCorrelation = avg
		r.HighCorrelation = avg > HighCorrelationLevel
	}

	if adx := indicator.ADX(history, regimeADXPeriod); len(adx) > 0 && !math.IsNaN(adx[len(adx)-1]) {
		r.ADX = adx[len(adx)-1]
		r.Trending = r.ADX > TrendingADX
	}
	return r
}

// volRatio is recent volatility over long-run volatility. The long window
// uses as much history as is available up to LongVolatilityWindow.
func (s *Sizer) volRatio(closes []float64) (float64, bool) {
	rets := Returns(closes)
	recent, ok := Volatility(rets, s.cfg.RecentVolatilityWindow)
	if !ok {
		return 0, false
	}
	long, ok := Volatility(rets, min(len(rets), s.cfg.LongVolatilityWindow))
	if !ok || long == 0 || recent == 0 {
		return 0, false
	}
	return recent / long, true
}
