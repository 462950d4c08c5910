package portfolio

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/newthinker/signalflow/internal/alert"
	"github.com/newthinker/signalflow/internal/metrics"
)

// AutoActionHaltEntries stops new entries until drawdown recovers
const AutoActionHaltEntries = "halt_entries"

// Metric names exposed to alert rules
const (
	MetricCurrentDrawdown = "current_drawdown"
	MetricMaxDrawdown     = "max_drawdown"
	MetricConcentration   = "concentration"
	MetricCorrelationRisk = "correlation_risk"
	MetricPeriodReturn    = "period_return"
	MetricTotalReturn     = "total_return"
	MetricPortfolioHeat   = "portfolio_heat"
	MetricPositionRisk    = "position_risk"
	MetricSectorRisk      = "sector_risk"
	MetricVaR             = "var"
	MetricCVaR            = "cvar"
	MetricVolatility      = "volatility"
	MetricSharpe          = "sharpe_ratio"
	MetricCash            = "cash"
	MetricEquity          = "equity"
	MetricOpenPositions   = "open_positions"
)

// DefaultAlertRules returns the built-in rules: drawdown breach (critical,
// halts entries), concentration and correlation breaches and a large
// negative cycle return (warnings).
func DefaultAlertRules(cfg Config) []alert.Rule {
	return []alert.Rule{
		{
			Name:     "drawdown_breach",
			Expr:     fmt.Sprintf("%s > %g", MetricCurrentDrawdown, cfg.MaxDrawdown),
			Severity: alert.SeverityCritical,
			Category: alert.CategoryRisk,
			Message:  fmt.Sprintf("portfolio drawdown exceeds %g%%", cfg.MaxDrawdown),
			Recommended: []string{
				"reduce position sizes",
				"review losing strategies",
				"tighten stop losses",
			},
			AutoAction: AutoActionHaltEntries,
		},
		{
			Name:        "concentration_breach",
			Expr:        fmt.Sprintf("%s > %g", MetricConcentration, cfg.MaxConcentration),
			Severity:    alert.SeverityWarning,
			Category:    alert.CategoryRisk,
			Message:     fmt.Sprintf("position concentration exceeds %g", cfg.MaxConcentration),
			Recommended: []string{"diversify across more positions", "trim the largest positions"},
		},
		{
			Name:        "correlation_breach",
			Expr:        fmt.Sprintf("%s > %g", MetricCorrelationRisk, cfg.MaxCorrelation),
			Severity:    alert.SeverityWarning,
			Category:    alert.CategoryRisk,
			Message:     fmt.Sprintf("position correlation exceeds %g", cfg.MaxCorrelation),
			Recommended: []string{"add uncorrelated strategies", "reduce overlapping exposures"},
		},
		{
			Name:        "large_loss",
			Expr:        fmt.Sprintf("%s < %g", MetricPeriodReturn, -cfg.LargeLossThreshold),
			Severity:    alert.SeverityWarning,
			Category:    alert.CategoryPerformance,
			Message:     fmt.Sprintf("cycle return below -%g%%", cfg.LargeLossThreshold),
			Recommended: []string{"review strategy performance", "check market conditions"},
		},
	}
}

// alertMetrics flattens the state into the values alert rules can reference
func (p *Portfolio) alertMetrics() map[string]float64 {
	st := p.state
	return map[string]float64{
		MetricCurrentDrawdown: st.Risk.CurrentDrawdown,
		MetricMaxDrawdown:     st.Risk.MaxDrawdown,
		MetricConcentration:   st.Risk.Concentration,
		MetricCorrelationRisk: st.Risk.CorrelationRisk,
		MetricPeriodReturn:    st.Performance.PeriodReturn,
		MetricTotalReturn:     st.Performance.TotalReturn,
		MetricPortfolioHeat:   st.Risk.PortfolioRisk,
		MetricPositionRisk:    st.Risk.PositionRisk,
		MetricSectorRisk:      st.Risk.SectorRisk,
		MetricVaR:             st.Risk.VaR,
		MetricCVaR:            st.Risk.CVaR,
		MetricVolatility:      st.Risk.VolatilityRisk,
		MetricSharpe:          st.Performance.SharpeRatio,
		MetricCash:            st.Cash,
		MetricEquity:          st.TotalEquity,
		MetricOpenPositions:   float64(len(st.Positions)),
	}
}

// monitor resumes halted entries once drawdown recovers, evaluates the
// alert rules, applies auto-actions, notifies and logs the fired alerts.
func (p *Portfolio) monitor() []alert.Alert {
	st := &p.state
	if st.EntriesHalted && st.Risk.CurrentDrawdown <= p.cfg.Risk.RecoveryThreshold {
		st.EntriesHalted = false
		p.logger.Info("entries resumed",
			zap.Float64("drawdown", st.Risk.CurrentDrawdown),
			zap.Float64("recovery_threshold", p.cfg.Risk.RecoveryThreshold),
		)
	}

	p.evaluator.SetMetrics(p.alertMetrics())
	fired := p.evaluator.EvaluateAll(p.rules)
	if len(fired) == 0 {
		return nil
	}

	for i := range fired {
		a := &fired[i]
		p.enrich(a)
		if a.AutoAction == AutoActionHaltEntries {
			if !st.EntriesHalted {
				st.EntriesHalted = true
				p.logger.Warn("entries halted",
					zap.String("rule", a.Rule),
					zap.Float64("drawdown", st.Risk.CurrentDrawdown),
				)
			}
			a.AutoActioned = true
		}
	}

	p.evaluator.Dispatch(fired)
	p.alertLog.Append(fired...)
	p.observe(func(m *metrics.Registry) {
		for _, a := range fired {
			m.RecordAlert(a.Severity)
		}
	})
	return fired
}

// maxAffectedPositions bounds the positions attached to one alert
const maxAffectedPositions = 5

// enrich attaches the strategies and positions an alert concerns: losing
// strategies for performance alerts, the largest holdings otherwise.
func (p *Portfolio) enrich(a *alert.Alert) {
	if a.Category == alert.CategoryPerformance {
		for _, id := range sortedKeys(p.strategyReturns) {
			r := p.strategyReturns[id]
			if len(r) > 0 && r[len(r)-1] < 0 {
				a.Strategies = append(a.Strategies, id)
			}
		}
		return
	}

	positions := append([]Position(nil), p.state.Positions...)
	sort.SliceStable(positions, func(i, j int) bool { return positions[i].Allocation > positions[j].Allocation })
	seen := make(map[string]bool)
	for i, pos := range positions {
		if i < maxAffectedPositions {
			a.Positions = append(a.Positions, pos.ID)
		}
		if !seen[pos.StrategyID] {
			seen[pos.StrategyID] = true
			a.Strategies = append(a.Strategies, pos.StrategyID)
		}
	}
	sort.Strings(a.Strategies)
}
