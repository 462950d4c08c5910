// Package portfolio orchestrates many graph strategies over one pool of
// capital: it runs them each cycle, sizes and filters their signals,
// executes the survivors, marks positions to market, tracks risk and
// rebalances allocations between strategies.
package portfolio

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/newthinker/signalflow/internal/alert"
	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/risk"
)

// Objective selects how optimal allocations are computed
type Objective string

const (
	// ObjectiveSharpe weights strategies by inverse volatility.
	ObjectiveSharpe Objective = "sharpe_ratio"
	// ObjectiveReturn weights strategies by mean return.
	ObjectiveReturn Objective = "total_return"
	// ObjectiveRiskAdjusted weights strategies by Sharpe ratio.
	ObjectiveRiskAdjusted Objective = "risk_adjusted_return"
	// ObjectiveDiversification equalizes risk contributions.
	ObjectiveDiversification Objective = "diversification"
)

// Valid reports whether o is a known objective
func (o Objective) Valid() bool {
	switch o {
	case ObjectiveSharpe, ObjectiveReturn, ObjectiveRiskAdjusted, ObjectiveDiversification:
		return true
	}
	return false
}

// Config holds portfolio orchestration settings. Allocations, sizes and
// drawdowns are percentages; concentration and correlation limits are
// fractions.
type Config struct {
	InitialCapital        float64       `mapstructure:"initial_capital"`
	MaxStrategies         int           `mapstructure:"max_strategies"`
	MinStrategies         int           `mapstructure:"min_strategies"`
	MinStrategyAllocation float64       `mapstructure:"min_strategy_allocation"`
	MaxStrategyAllocation float64       `mapstructure:"max_strategy_allocation"`
	DriftThreshold        float64       `mapstructure:"drift_threshold"`
	RebalanceSchedule     string        `mapstructure:"rebalance_schedule"`
	Objective             Objective     `mapstructure:"objective"`
	MaxDrawdown           float64       `mapstructure:"max_drawdown"`
	MaxConcentration      float64       `mapstructure:"max_concentration"`
	MaxCorrelation        float64       `mapstructure:"max_correlation"`
	LargeLossThreshold    float64       `mapstructure:"large_loss_threshold"`
	MaxPositionSize       float64       `mapstructure:"max_position_size"`
	MaxInstrumentExposure float64       `mapstructure:"max_instrument_exposure"`
	MaxDailyTrades        int           `mapstructure:"max_daily_trades"`
	PerSignalCapitalCap   float64       `mapstructure:"per_signal_capital_cap"`
	StrategyTimeout       time.Duration `mapstructure:"strategy_timeout"`
	ReturnsWindow         int           `mapstructure:"returns_window"`
	VaRConfidence         float64       `mapstructure:"var_confidence"`
	AlertLogSize          int           `mapstructure:"alert_log_size"`
	RebalanceHistorySize  int           `mapstructure:"rebalance_history_size"`
	AlertCooldown         time.Duration `mapstructure:"alert_cooldown"`
	// AlertRate is the sustained notifications per second; 0 disables limiting.
	AlertRate  float64      `mapstructure:"alert_rate"`
	AlertBurst int          `mapstructure:"alert_burst"`
	AlertRules []alert.Rule `mapstructure:"alert_rules"`
	Risk       risk.Config  `mapstructure:"risk"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		InitialCapital:        100000,
		MaxStrategies:         10,
		MinStrategies:         1,
		MinStrategyAllocation: 5,
		MaxStrategyAllocation: 60,
		DriftThreshold:        10,
		RebalanceSchedule:     "@daily",
		Objective:             ObjectiveSharpe,
		MaxDrawdown:           20,
		MaxConcentration:      0.5,
		MaxCorrelation:        0.8,
		LargeLossThreshold:    5,
		MaxPositionSize:       10,
		MaxInstrumentExposure: 20,
		MaxDailyTrades:        10,
		PerSignalCapitalCap:   0.10,
		StrategyTimeout:       30 * time.Second,
		ReturnsWindow:         60,
		VaRConfidence:         0.95,
		AlertLogSize:          100,
		RebalanceHistorySize:  100,
		AlertCooldown:         time.Hour,
		AlertRate:             1,
		AlertBurst:            5,
		Risk:                  risk.DefaultConfig(),
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	switch {
	case c.InitialCapital <= 0:
		return invalid("initial_capital must be positive, got %.2f", c.InitialCapital)
	case c.MaxStrategies < 1:
		return invalid("max_strategies must be at least 1, got %d", c.MaxStrategies)
	case c.MinStrategies < 0 || c.MinStrategies > c.MaxStrategies:
		return invalid("min_strategies %d outside [0, %d]", c.MinStrategies, c.MaxStrategies)
	case c.MinStrategyAllocation < 0 || c.MaxStrategyAllocation > 100 || c.MinStrategyAllocation > c.MaxStrategyAllocation:
		return invalid("strategy allocation bounds [%.2f, %.2f] invalid", c.MinStrategyAllocation, c.MaxStrategyAllocation)
	case c.DriftThreshold <= 0:
		return invalid("drift_threshold must be positive, got %.2f", c.DriftThreshold)
	case !c.Objective.Valid():
		return invalid("unknown objective %q", c.Objective)
	case c.MaxDrawdown <= 0 || c.MaxDrawdown > 100:
		return invalid("max_drawdown must be in (0, 100], got %.2f", c.MaxDrawdown)
	case c.PerSignalCapitalCap <= 0 || c.PerSignalCapitalCap > 1:
		return invalid("per_signal_capital_cap must be in (0, 1], got %.2f", c.PerSignalCapitalCap)
	case c.VaRConfidence <= 0 || c.VaRConfidence >= 1:
		return invalid("var_confidence must be in (0, 1), got %.2f", c.VaRConfidence)
	case c.MaxPositionSize <= 0 || c.MaxInstrumentExposure <= 0:
		return invalid("position and instrument limits must be positive")
	case c.MaxDailyTrades < 0:
		return invalid("max_daily_trades cannot be negative, got %d", c.MaxDailyTrades)
	}
	if _, err := parseSchedule(c.RebalanceSchedule); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	for _, r := range c.AlertRules {
		if err := r.Validate(); err != nil {
			return core.WrapError(core.ErrConfigInvalid, err)
		}
	}
	return c.Risk.Validate()
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func parseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("rebalance_schedule is required")
	}
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("rebalance_schedule %q: %w", spec, err)
	}
	return sched, nil
}

func invalid(format string, args ...any) error {
	return core.WrapError(core.ErrConfigInvalid, fmt.Errorf(format, args...))
}
