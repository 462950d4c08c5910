package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/graph"
	"github.com/newthinker/signalflow/internal/market"
	"github.com/newthinker/signalflow/internal/timeframe"
)

// Constraints are per-strategy trading limits enforced by the portfolio
type Constraints struct {
	MaxDailyTrades int `mapstructure:"max_daily_trades" json:"max_daily_trades"`
	// MaxPositionSize is a percentage of equity for a single signal.
	MaxPositionSize float64 `mapstructure:"max_position_size" json:"max_position_size"`
	// MaxInstrumentExposure is a percentage of equity per symbol.
	MaxInstrumentExposure float64 `mapstructure:"max_instrument_exposure" json:"max_instrument_exposure"`
}

// Definition describes one graph-driven strategy
type Definition struct {
	ID          string
	Name        string
	Symbol      string
	Graph       *graph.Graph
	Timeframes  timeframe.Config
	Allocation  float64 // percent of capital
	Constraints Constraints
	Enabled     bool
}

// Validate checks the definition for structural errors
func (d Definition) Validate() error {
	if d.ID == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("strategy id is required"))
	}
	if d.Graph == nil {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("strategy %s: graph is required", d.ID))
	}
	if err := d.Graph.Validate(); err != nil {
		return fmt.Errorf("strategy %s: %w", d.ID, err)
	}
	if d.Allocation < 0 || d.Allocation > 100 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("strategy %s: allocation %.2f outside [0,100]", d.ID, d.Allocation))
	}
	if err := d.Timeframes.Validate(); err != nil {
		return fmt.Errorf("strategy %s: %w", d.ID, err)
	}
	return nil
}

// TradedSymbol returns the traded symbol: the definition's own or the graph's
func (d Definition) TradedSymbol() string {
	if d.Symbol != "" {
		return d.Symbol
	}
	if d.Graph != nil {
		return d.Graph.Symbol()
	}
	return ""
}

// MarketData holds the bars a strategy evaluates, keyed by timeframe
type MarketData struct {
	Buffers map[string][]core.Bar
}

// FromSet builds MarketData for symbol from the given timeframes of set
func FromSet(set *market.Set, symbol string, timeframes []string) MarketData {
	md := MarketData{Buffers: make(map[string][]core.Bar, len(timeframes))}
	for _, tf := range timeframes {
		md.Buffers[tf] = set.Bars(symbol, tf)
	}
	return md
}

// Output is what a strategy produces for one cycle
type Output struct {
	Signals          []core.Signal
	Warnings         []graph.Warning
	AlignmentQuality float64
}

// Strategy defines the interface for trading strategies
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, data MarketData) (Output, error)
}

// Result is the outcome of running one strategy in a cycle
type Result struct {
	StrategyID       string
	Signals          []core.Signal
	Warnings         []graph.Warning
	AlignmentQuality float64
	Duration         time.Duration
	Err              error
}

// Failed reports whether the run produced an error instead of output
func (r Result) Failed() bool {
	return r.Err != nil
}
