// Package risk sizes positions and blocks trades against portfolio limits.
package risk

import (
	"fmt"

	"github.com/newthinker/signalflow/internal/core"
)

// Config defines risk management parameters. Sizes, exposures and
// drawdowns are percentages of equity; PortfolioHeat is a fraction of equity.
type Config struct {
	// BasePositionSize is the starting size of every new position.
	BasePositionSize float64 `mapstructure:"base_position_size"`
	// MaxPositionSize caps the final size of a single position.
	MaxPositionSize float64 `mapstructure:"max_position_size"`
	// PortfolioHeat is the total equity fraction allowed at risk across open stops.
	PortfolioHeat         float64 `mapstructure:"portfolio_heat"`
	MaxSectorExposure     float64 `mapstructure:"max_sector_exposure"`
	MaxInstrumentExposure float64 `mapstructure:"max_instrument_exposure"`
	MaxOpenPositions      int     `mapstructure:"max_open_positions"`
	CorrelationThreshold  float64 `mapstructure:"correlation_threshold"`

	UseVolatilityAdjustment  bool `mapstructure:"use_volatility_adjustment"`
	UseCorrelationAdjustment bool `mapstructure:"use_correlation_adjustment"`
	UseConfidenceAdjustment  bool `mapstructure:"use_confidence_adjustment"`
	UseDrawdownAdjustment    bool `mapstructure:"use_drawdown_adjustment"`
	UseRegimeAdjustment      bool `mapstructure:"use_regime_adjustment"`

	RecentVolatilityWindow int `mapstructure:"recent_volatility_window"`
	LongVolatilityWindow   int `mapstructure:"long_volatility_window"`

	RecoveryThreshold       float64 `mapstructure:"recovery_threshold"`
	MaxPortfolioDrawdown    float64 `mapstructure:"max_portfolio_drawdown"`
	EmergencyStop           float64 `mapstructure:"emergency_stop"`
	DrawdownReductionFactor float64 `mapstructure:"drawdown_reduction_factor"`

	VolatilityBasedStops bool    `mapstructure:"volatility_based_stops"`
	ATRPeriod            int     `mapstructure:"atr_period"`
	ATRMultiplier        float64 `mapstructure:"atr_multiplier"`
	DefaultStopLoss      float64 `mapstructure:"default_stop_loss"`
	MaxStopDistance      float64 `mapstructure:"max_stop_distance"`

	// SectorMap assigns symbols to sectors for exposure limits.
	SectorMap map[string]string `mapstructure:"sector_map"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		BasePositionSize:         2,
		MaxPositionSize:          10,
		PortfolioHeat:            0.2,
		MaxSectorExposure:        30,
		MaxInstrumentExposure:    15,
		MaxOpenPositions:         20,
		CorrelationThreshold:     0.7,
		UseVolatilityAdjustment:  true,
		UseCorrelationAdjustment: true,
		UseConfidenceAdjustment:  true,
		UseDrawdownAdjustment:    true,
		UseRegimeAdjustment:      true,
		RecentVolatilityWindow:   20,
		LongVolatilityWindow:     100,
		RecoveryThreshold:        10,
		MaxPortfolioDrawdown:     20,
		EmergencyStop:            25,
		DrawdownReductionFactor:  1.0,
		VolatilityBasedStops:     true,
		ATRPeriod:                20,
		ATRMultiplier:            2,
		DefaultStopLoss:          2,
		MaxStopDistance:          10,
		SectorMap:                map[string]string{},
	}
}

// Validate checks the configuration for inconsistencies.
func (c Config) Validate() error {
	switch {
	case c.BasePositionSize <= 0:
		return invalid("base_position_size must be positive")
	case c.MaxPositionSize <= 0:
		return invalid("max_position_size must be positive")
	case c.BasePositionSize > c.MaxPositionSize:
		return invalid("base_position_size %.2f exceeds max_position_size %.2f", c.BasePositionSize, c.MaxPositionSize)
	case c.PortfolioHeat <= 0 || c.PortfolioHeat > 1:
		return invalid("portfolio_heat must be in (0, 1], got %.3f", c.PortfolioHeat)
	case c.MaxSectorExposure <= 0 || c.MaxInstrumentExposure <= 0:
		return invalid("exposure limits must be positive")
	case c.MaxOpenPositions <= 0:
		return invalid("max_open_positions must be positive")
	case c.CorrelationThreshold <= 0 || c.CorrelationThreshold > 1:
		return invalid("correlation_threshold must be in (0, 1]")
	case c.RecentVolatilityWindow < 2 || c.LongVolatilityWindow <= c.RecentVolatilityWindow:
		return invalid("volatility windows must satisfy 2 <= recent < long")
	case c.RecoveryThreshold < 0 || c.RecoveryThreshold >= c.MaxPortfolioDrawdown:
		return invalid("recovery_threshold must be below max_portfolio_drawdown")
	case c.EmergencyStop < c.MaxPortfolioDrawdown:
		return invalid("emergency_stop must be at least max_portfolio_drawdown")
	case c.DrawdownReductionFactor <= 0:
		return invalid("drawdown_reduction_factor must be positive")
	case c.ATRPeriod < 2 || c.ATRMultiplier <= 0:
		return invalid("atr_period must be >= 2 and atr_multiplier positive")
	case c.DefaultStopLoss <= 0 || c.MaxStopDistance <= 0:
		return invalid("stop distances must be positive")
	}
	return nil
}

// SectorOf returns the configured sector of symbol, or "" if unmapped.
func (c Config) SectorOf(symbol string) string {
	return c.SectorMap[symbol]
}

func invalid(format string, args ...any) error {
	return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("risk: "+format, args...))
}
