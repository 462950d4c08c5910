package backtest

import (
	"time"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/portfolio"
)

// Result holds the complete backtest output
type Result struct {
	StartDate     time.Time
	EndDate       time.Time
	InitialEquity float64
	FinalEquity   float64
	Curve         []EquityPoint
	Trades        []Trade
	Final         portfolio.State
	Stats         Stats
}

// EquityPoint is the portfolio value after one replayed step
type EquityPoint struct {
	Time     time.Time
	Equity   float64
	Cash     float64
	Drawdown float64 // percent below peak
}

// Trade is a fill produced during replay
type Trade struct {
	Time       time.Time
	StrategyID string
	Fill       portfolio.Fill
}

// Stats holds performance statistics
type Stats struct {
	Cycles        int
	Skipped       int // steps where no strategy could execute
	Trades        int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // Percentage of profitable exits
	TotalReturn   float64 // Net return percentage
	MaxDrawdown   float64 // Largest peak-to-trough decline, percent
	SharpeRatio   float64 // Risk-adjusted return (annualized)
	Alerts        int
	Rebalances    int
}

// IsWin returns true if the trade closed with a profit
func (t Trade) IsWin() bool {
	return t.Fill.RealizedPnL > 0
}

// IsClosed returns true if the trade is an exit
func (t Trade) IsClosed() bool {
	return t.Fill.Action == core.ActionSell
}
