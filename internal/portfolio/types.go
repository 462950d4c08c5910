package portfolio

import (
	"time"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/graph"
	"github.com/newthinker/signalflow/internal/risk"
)

// Phase is the portfolio-wide cycle state
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseExecuting   Phase = "executing"
	PhaseAllocating  Phase = "allocating"
	PhaseRebalancing Phase = "rebalancing"
	PhaseMonitoring  Phase = "monitoring"
)

// Status is a strategy's lifecycle state
type Status string

const (
	StatusInactive  Status = "inactive"
	StatusActive    Status = "active"
	StatusExecuting Status = "executing"
)

// Position is an open allocation of capital to a symbol under a strategy
type Position struct {
	ID            string  `json:"id"`
	StrategyID    string  `json:"strategy_id"`
	Symbol        string  `json:"symbol"`
	Sector        string  `json:"sector,omitempty"`
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`
	StopFraction  float64 `json:"stop_fraction"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	// Allocation is the position's market value as a percentage of equity.
	Allocation float64   `json:"allocation"`
	OpenedAt   time.Time `json:"opened_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MarketValue returns quantity at the current price
func (p Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// RiskMetrics is a point-in-time risk snapshot
type RiskMetrics struct {
	// PortfolioRisk is the heat: equity fraction at risk across positions.
	PortfolioRisk float64 `json:"portfolio_risk"`
	// PositionRisk is the largest single position weight in percent.
	PositionRisk float64 `json:"position_risk"`
	// SectorRisk is the largest sector weight in percent.
	SectorRisk      float64 `json:"sector_risk"`
	CorrelationRisk float64 `json:"correlation_risk"`
	// VolatilityRisk is the standard deviation of cycle returns in percent.
	VolatilityRisk float64 `json:"volatility_risk"`
	// Concentration is the Herfindahl index of position weights.
	Concentration   float64 `json:"concentration"`
	VaR             float64 `json:"var"`
	CVaR            float64 `json:"cvar"`
	CurrentDrawdown float64 `json:"current_drawdown"`
	MaxDrawdown     float64 `json:"max_drawdown"`
}

// Performance summarizes portfolio results
type Performance struct {
	TotalReturn float64 `json:"total_return"`
	// PeriodReturn is the return of the latest cycle in percent.
	PeriodReturn float64 `json:"period_return"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	RealizedPnL   float64 `json:"realized_pnl"`
	Trades        int     `json:"trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
}

// WinRate is the share of closed trades with a profit
func (p Performance) WinRate() float64 {
	closed := p.WinningTrades + p.LosingTrades
	if closed == 0 {
		return 0
	}
	return float64(p.WinningTrades) / float64(closed)
}

// Impact estimates how a rebalancing action moves the portfolio
type Impact struct {
	ReturnChange float64 `json:"return_change"`
	RiskChange   float64 `json:"risk_change"`
}

// RebalancingAction is a capital-reallocation instruction for one strategy
type RebalancingAction struct {
	ID                string    `json:"id"`
	StrategyID        string    `json:"strategy_id"`
	CurrentAllocation float64   `json:"current_allocation"`
	TargetAllocation  float64   `json:"target_allocation"`
	// Amount is the capital moved, negative for a reduction.
	Amount         float64   `json:"amount"`
	Reason         string    `json:"reason"`
	ExpectedImpact Impact    `json:"expected_impact"`
	Applied        bool      `json:"applied"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Drift is the allocation change the action asks for
func (a RebalancingAction) Drift() float64 {
	return a.TargetAllocation - a.CurrentAllocation
}

// Direction is "increase" or "decrease"
func (a RebalancingAction) Direction() string {
	if a.Drift() < 0 {
		return "decrease"
	}
	return "increase"
}

// Rejection reasons raised by portfolio constraints
const (
	RejectDailyTrades   = "max_daily_trades"
	RejectInstrument    = "max_instrument_exposure"
	RejectPositionSize  = "max_position_size"
	RejectEntriesHalted = "entries_halted"
	RejectNoPosition    = "no_position"
	RejectNoCapital     = "insufficient_capital"
	RejectNoPrice       = "no_price"
	RejectZeroSize      = "zero_size"
	RejectInvalid       = "invalid_signal"
)

// Rejection records a signal the portfolio did not execute
type Rejection struct {
	SignalID string      `json:"signal_id"`
	Symbol   string      `json:"symbol"`
	Action   core.Action `json:"action"`
	// Rule is a risk blocking rule or one of the Reject* reasons.
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// Fill is an executed trade
type Fill struct {
	SignalID    string      `json:"signal_id"`
	PositionID  string      `json:"position_id"`
	Symbol      string      `json:"symbol"`
	Action      core.Action `json:"action"`
	Quantity    float64     `json:"quantity"`
	Price       float64     `json:"price"`
	Notional    float64     `json:"notional"`
	RealizedPnL float64     `json:"realized_pnl,omitempty"`
	// Sizing is set for entries.
	Sizing *risk.Calculation `json:"sizing,omitempty"`
}

// ExecutionResult is one strategy's outcome for a cycle
type ExecutionResult struct {
	StrategyID       string          `json:"strategy_id"`
	Status           string          `json:"status"`
	Signals          []core.Signal   `json:"signals"`
	Fills            []Fill          `json:"fills"`
	Rejections       []Rejection     `json:"rejections"`
	Warnings         []graph.Warning `json:"warnings"`
	Errors           []string        `json:"errors"`
	AlignmentQuality float64         `json:"alignment_quality"`
	Duration         time.Duration   `json:"duration"`
}

// Execution result statuses
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// State is the aggregate account snapshot
type State struct {
	Allocations   map[string]float64 `json:"allocations"`
	Strategies    map[string]Status  `json:"strategies"`
	TotalEquity   float64            `json:"total_equity"`
	Cash          float64            `json:"cash"`
	PeakEquity    float64            `json:"peak_equity"`
	Positions     []Position         `json:"positions"`
	Risk          RiskMetrics        `json:"risk"`
	Performance   Performance        `json:"performance"`
	Phase         Phase              `json:"phase"`
	Cycle         int                `json:"cycle"`
	EntriesHalted bool               `json:"entries_halted"`
	LastRebalance time.Time          `json:"last_rebalance"`
	NextRebalance time.Time          `json:"next_rebalance"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Clone returns a deep copy of the state
func (s State) Clone() State {
	out := s
	out.Allocations = make(map[string]float64, len(s.Allocations))
	for k, v := range s.Allocations {
		out.Allocations[k] = v
	}
	out.Strategies = make(map[string]Status, len(s.Strategies))
	for k, v := range s.Strategies {
		out.Strategies[k] = v
	}
	out.Positions = append([]Position(nil), s.Positions...)
	return out
}

// AllocationSum returns the sum of all strategy allocations
func (s State) AllocationSum() float64 {
	var sum float64
	for _, v := range s.Allocations {
		sum += v
	}
	return sum
}

// Invested returns the market value of a strategy's positions, or of all
// positions when strategyID is empty.
func (s State) Invested(strategyID string) float64 {
	var v float64
	for _, p := range s.Positions {
		if strategyID == "" || p.StrategyID == strategyID {
			v += p.MarketValue()
		}
	}
	return v
}

// CycleSummary describes the latest completed cycle
type CycleSummary struct {
	Cycle      int                 `json:"cycle"`
	Time       time.Time           `json:"time"`
	Duration   time.Duration       `json:"duration"`
	Fills      int                 `json:"fills"`
	Rejections int                 `json:"rejections"`
	Failures   int                 `json:"failures"`
	Rebalanced bool                `json:"rebalanced"`
	Actions    []RebalancingAction `json:"actions,omitempty"`
	Alerts     int                 `json:"alerts"`
}
