package risk

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/newthinker/signalflow/internal/core"
)

// Blocking rules, in evaluation order
const (
	RuleEmergencyStop    = "emergency_stop"
	RuleMaxOpenPositions = "max_open_positions"
	RuleCorrelation      = "correlation"
	RuleSectorExposure   = "sector_exposure"
	RulePortfolioHeat    = "portfolio_heat"
)

// Decision represents the outcome of a blocking check.
type Decision struct {
	Blocked bool
	Rule    string
	Reason  string
}

// ShouldBlock checks a signal against portfolio-wide limits before any size is
// computed. The first matching rule wins. Sells that reduce an existing
// holding and holds are never blocked.
func (s *Sizer) ShouldBlock(sig core.Signal, view View) Decision {
	if sig.Action == core.ActionHold || (sig.Action == core.ActionSell && view.Holds(sig.Symbol)) {
		return Decision{}
	}

	d := s.firstViolation(sig, view)
	if d.Blocked {
		s.logger.Debug("signal blocked",
			zap.String("symbol", sig.Symbol),
			zap.String("strategy", sig.Strategy),
			zap.String("rule", d.Rule),
			zap.String("reason", d.Reason),
		)
	}
	return d
}

func (s *Sizer) firstViolation(sig core.Signal, view View) Decision {
	if view.CurrentDrawdown >= s.cfg.EmergencyStop {
		return block(RuleEmergencyStop, "emergency stop: drawdown %.2f%% >= %.2f%%", view.CurrentDrawdown, s.cfg.EmergencyStop)
	}

	if open := view.OpenPositions(); !view.Holds(sig.Symbol) && open >= s.cfg.MaxOpenPositions {
		return block(RuleMaxOpenPositions, "max open positions reached: %d >= %d", open, s.cfg.MaxOpenPositions)
	}

	if h, ok := view.Histories[sig.Symbol]; ok {
		if avg, ok := MeanAbsCorrelation(Returns(h), view.heldReturns(sig.Symbol)); ok && avg > s.cfg.CorrelationThreshold {
			return block(RuleCorrelation, "average correlation %.3f exceeds %.2f", avg, s.cfg.CorrelationThreshold)
		}
	}

	if sector := s.sectorOf(sig.Symbol, view); sector != "" {
		if w := view.SectorWeight(sector); w+s.cfg.BasePositionSize > s.cfg.MaxSectorExposure {
			return block(RuleSectorExposure, "sector %s exposure %.2f%% + %.2f%% would exceed %.2f%%",
				sector, w, s.cfg.BasePositionSize, s.cfg.MaxSectorExposure)
		}
	}

	if heat := view.UsedHeat(); heat >= s.cfg.PortfolioHeat-heatEpsilon {
		return block(RulePortfolioHeat, "portfolio heat saturated: %.4f >= %.4f", heat, s.cfg.PortfolioHeat)
	}
	return Decision{}
}

func block(rule, format string, args ...any) Decision {
	return Decision{Blocked: true, Rule: rule, Reason: fmt.Sprintf(format, args...)}
}
