package risk

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/newthinker/signalflow/internal/core"
)

// Sizer computes risk-adjusted position sizes
type Sizer struct {
	cfg    Config
	logger *zap.Logger
}

// NewSizer validates cfg and returns a Sizer
func NewSizer(cfg Config, logger *zap.Logger) (*Sizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SectorMap == nil {
		cfg.SectorMap = map[string]string{}
	}
	return &Sizer{cfg: cfg, logger: logger}, nil
}

// Config returns the sizer's configuration
func (s *Sizer) Config() Config {
	return s.cfg
}

// Input is everything one sizing decision depends on
type Input struct {
	Signal core.Signal
	// History holds the signal symbol's bars, oldest first.
	History []core.Bar
	View    View
	// Regime overrides regime detection when set.
	Regime *Regime
}

// Adjustment is one step of the sizing chain
type Adjustment struct {
	Name   string
	Factor float64
}

// Calculation is the outcome of sizing a signal
type Calculation struct {
	Symbol      string
	BaseSize    float64
	Adjustments []Adjustment
	// RawSize is the size after every adjustment, before limits.
	RawSize      float64
	MaxAllowable float64
	// FinalSize is the position size as a percentage of equity.
	FinalSize  float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
	// StopFraction is the stop distance as a fraction of price.
	StopFraction float64
	// RiskContribution is the equity fraction at risk if stopped out.
	RiskContribution float64
	Regime           Regime
	Rationale        []string
}

// Factor returns the factor applied by the named adjustment, or 1
func (c Calculation) Factor(name string) float64 {
	for _, a := range c.Adjustments {
		if a.Name == name {
			return a.Factor
		}
	}
	return 1
}

// heat below this is treated as exhausted
const heatEpsilon = 1e-9

// Adjustment names
const (
	AdjVolatility  = "volatility"
	AdjCorrelation = "correlation"
	AdjConfidence  = "confidence"
	AdjDrawdown    = "drawdown"
	AdjRegime      = "regime"
)

// Size runs the sizing chain for a signal. Sells that reduce an existing
// holding and holds pass through unchanged.
func (s *Sizer) Size(in Input) Calculation {
	sig := in.Signal
	calc := Calculation{Symbol: sig.Symbol, BaseSize: s.cfg.BasePositionSize}

	if sig.Action == core.ActionHold {
		calc.Rationale = append(calc.Rationale, "hold signal: nothing to size")
		return calc
	}
	if sig.Action == core.ActionSell && in.View.Holds(sig.Symbol) {
		calc.FinalSize = in.View.WeightOf(sig.Symbol)
		calc.Quantity = sig.Quantity
		calc.Rationale = append(calc.Rationale, "sell reduces an existing holding: not resized")
		return calc
	}

	size := s.cfg.BasePositionSize
	calc.Rationale = append(calc.Rationale, fmt.Sprintf("base size %.2f%%", size))
	apply := func(name string, factor float64, note string) {
		size *= factor
		calc.Adjustments = append(calc.Adjustments, Adjustment{Name: name, Factor: factor})
		calc.Rationale = append(calc.Rationale, fmt.Sprintf("%s x%.3f (%s) -> %.3f%%", name, factor, note, size))
	}

	closes := core.Closes(in.History)
	if len(closes) == 0 {
		closes = in.View.Histories[sig.Symbol]
	}

	if s.cfg.UseVolatilityAdjustment {
		factor, note := 1.0, "no volatility history"
		if ratio, ok := s.volRatio(closes); ok {
			factor = clamp(1/math.Sqrt(ratio), 0.2, 2.0)
			note = fmt.Sprintf("recent/long vol %.3f", ratio)
		}
		apply(AdjVolatility, factor, note)
	}

	if s.cfg.UseCorrelationAdjustment {
		factor, note := s.correlationFactor(closes, sig.Symbol, in.View)
		apply(AdjCorrelation, factor, note)
	}

	if s.cfg.UseConfidenceAdjustment {
		apply(AdjConfidence, clamp(sig.Confidence*2, 0.5, 2.0), fmt.Sprintf("confidence %.2f", sig.Confidence))
	}

	if s.cfg.UseDrawdownAdjustment {
		apply(AdjDrawdown, s.DrawdownFactor(in.View.CurrentDrawdown), fmt.Sprintf("drawdown %.2f%%", in.View.CurrentDrawdown))
	}

	if in.Regime != nil {
		calc.Regime = *in.Regime
	} else {
		calc.Regime = s.DetectRegime(in.History, in.View)
	}
	if s.cfg.UseRegimeAdjustment {
		apply(AdjRegime, calc.Regime.Multiplier(), fmt.Sprintf("%s volatility, high correlation %t", calc.Regime.Volatility, calc.Regime.HighCorrelation))
	}
	calc.RawSize = size

	calc.StopLoss, calc.TakeProfit, calc.StopFraction = s.Stops(sig, in.History)

	calc.MaxAllowable = s.maxAllowable(sig.Symbol, calc.StopFraction, in.View)
	final := math.Min(size, math.Min(s.cfg.MaxPositionSize, calc.MaxAllowable))
	calc.FinalSize = math.Max(0, final)
	calc.Rationale = append(calc.Rationale, fmt.Sprintf("limit clamp: min(%.3f, max %.2f, allowable %.3f) = %.3f%%",
		size, s.cfg.MaxPositionSize, calc.MaxAllowable, calc.FinalSize))

	calc.RiskContribution = calc.FinalSize / 100 * calc.StopFraction
	if sig.Price > 0 && in.View.Equity > 0 {
		calc.Quantity = calc.FinalSize / 100 * in.View.Equity / sig.Price
	}

	s.logger.Debug("position sized",
		zap.String("symbol", sig.Symbol),
		zap.String("strategy", sig.Strategy),
		zap.Float64("raw_size", calc.RawSize),
		zap.Float64("final_size", calc.FinalSize),
		zap.Float64("risk_contribution", calc.RiskContribution),
	)
	return calc
}

// DrawdownFactor is 1 up to the recovery threshold, ramps down linearly to
// max_portfolio_drawdown (floored at 0.1) and drops to 0 at the emergency stop.
func (s *Sizer) DrawdownFactor(drawdown float64) float64 {
	switch {
	case drawdown >= s.cfg.EmergencyStop:
		return 0
	case drawdown <= s.cfg.RecoveryThreshold:
		return 1
	}
	span := s.cfg.MaxPortfolioDrawdown - s.cfg.RecoveryThreshold
	ramp := 1 - ((drawdown-s.cfg.RecoveryThreshold)/span)*s.cfg.DrawdownReductionFactor
	return math.Max(0.1, ramp)
}

func (s *Sizer) correlationFactor(closes []float64, symbol string, view View) (float64, string) {
	avg, ok := MeanAbsCorrelation(Returns(closes), view.heldReturns(symbol))
	if !ok {
		return 1, "no correlated holdings"
	}
	if avg <= s.cfg.CorrelationThreshold {
		return 1, fmt.Sprintf("avg correlation %.3f", avg)
	}
	return math.Max(0.3, 1-(avg-s.cfg.CorrelationThreshold)), fmt.Sprintf("avg correlation %.3f above %.2f", avg, s.cfg.CorrelationThreshold)
}

// maxAllowable is the tightest remaining capacity across sector, instrument
// and portfolio heat limits, in percent of equity.
func (s *Sizer) maxAllowable(symbol string, stopFraction float64, view View) float64 {
	allowable := s.cfg.MaxInstrumentExposure - view.WeightOf(symbol)

	if sector := s.sectorOf(symbol, view); sector != "" {
		allowable = math.Min(allowable, s.cfg.MaxSectorExposure-view.SectorWeight(sector))
	}

	if stopFraction > 0 {
		remaining := s.cfg.PortfolioHeat - view.UsedHeat()
		if remaining < heatEpsilon {
			remaining = 0
		}
		allowable = math.Min(allowable, remaining/stopFraction*100)
	}
	return math.Max(0, allowable)
}

func (s *Sizer) sectorOf(symbol string, view View) string {
	if sector := s.cfg.SectorOf(symbol); sector != "" {
		return sector
	}
	for _, e := range view.Exposures {
		if e.Symbol == symbol && e.Sector != "" {
			return e.Sector
		}
	}
	return ""
}
