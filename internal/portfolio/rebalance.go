package portfolio

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/metrics"
)

// Rebalance triggers
const (
	TriggerSchedule = "schedule"
	TriggerDrift    = "drift"
	TriggerDrawdown = "drawdown"
	TriggerManual   = "manual"
)

// drawdownTriggerRatio is the share of MaxDrawdown that forces a rebalance
const drawdownTriggerRatio = 0.8

// Rebalance recomputes optimal allocations and applies the resulting
// actions. Unless force is set it only acts when a trigger fires; it then
// returns nil actions and no error. Reapplying with unchanged state
// generates no further actions.
func (p *Portfolio) Rebalance(ctx context.Context, force bool) ([]RebalancingAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.WrapError(core.ErrRebalanceFailed, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.defs) == 0 {
		return nil, core.Errorf(core.ErrRebalanceFailed, "no strategies registered")
	}
	reason := TriggerManual
	if !force {
		if reason = p.rebalanceTrigger(p.now()); reason == "" {
			return nil, nil
		}
	}

	prev := p.state.Phase
	p.state.Phase = PhaseRebalancing
	defer func() { p.state.Phase = prev }()
	return p.rebalance(reason), nil
}

// rebalanceTrigger names the first rebalance trigger that fires at now, or
// returns "" when none does.
func (p *Portfolio) rebalanceTrigger(now time.Time) string {
	if len(p.defs) == 0 {
		return ""
	}
	inZone := p.inDrawdownZone()
	if !inZone {
		p.drawdownTriggered = false
	}
	switch {
	case !now.Before(p.state.NextRebalance):
		return TriggerSchedule
	case maxDrift(p.state.Allocations, p.optimal()) > p.cfg.DriftThreshold:
		return TriggerDrift
	case inZone && !p.drawdownTriggered:
		return TriggerDrawdown
	}
	return ""
}

// inDrawdownZone reports whether drawdown is past the rebalance trigger.
// The drawdown trigger fires once per entry into the zone.
func (p *Portfolio) inDrawdownZone() bool {
	return p.state.Risk.CurrentDrawdown > drawdownTriggerRatio*p.cfg.MaxDrawdown
}

func (p *Portfolio) strategyStats() []StrategyStats {
	ids := sortedKeys(p.defs)
	stats := make([]StrategyStats, 0, len(ids))
	for _, id := range ids {
		stats = append(stats, NewStrategyStats(id, p.strategyReturns[id]))
	}
	return stats
}

func (p *Portfolio) optimal() map[string]float64 {
	return OptimalAllocations(p.cfg.Objective, p.strategyStats(), p.state.Allocations,
		p.cfg.MinStrategyAllocation, p.cfg.MaxStrategyAllocation)
}

// rebalance generates and applies actions, reductions first so that the
// cash they free can fund increases. A failed action is recorded and
// skipped; the rest are still attempted.
func (p *Portfolio) rebalance(reason string) []RebalancingAction {
	now := p.now()
	stats := p.strategyStats()
	byID := make(map[string]StrategyStats, len(stats))
	for _, s := range stats {
		byID[s.ID] = s
	}
	optimal := OptimalAllocations(p.cfg.Objective, stats, p.state.Allocations,
		p.cfg.MinStrategyAllocation, p.cfg.MaxStrategyAllocation)

	actions := generateActions(p.state.Allocations, optimal, p.cfg.DriftThreshold, p.state.TotalEquity, byID, now)
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Drift() < 0 && actions[j].Drift() >= 0
	})

	next := copyAllocations(p.state.Allocations)
	for i := range actions {
		a := &actions[i]
		if err := p.applyAction(*a); err != nil {
			a.Error = err.Error()
			p.logger.Warn("rebalancing action skipped",
				zap.String("strategy", a.StrategyID),
				zap.Float64("target", a.TargetAllocation),
				zap.Error(err),
			)
			continue
		}
		a.Applied = true
		next[a.StrategyID] = a.TargetAllocation
		p.observe(func(m *metrics.Registry) { m.RecordRebalanceAction(a.Direction()) })
	}
	p.state.Allocations = NormalizeAllocations(next, p.cfg.MinStrategyAllocation, p.cfg.MaxStrategyAllocation)
	p.revalue()

	p.state.LastRebalance = now
	p.state.NextRebalance = p.schedule.Next(now)
	p.drawdownTriggered = p.inDrawdownZone()
	p.history = append(p.history, actions...)
	if size := p.cfg.RebalanceHistorySize; size > 0 && len(p.history) > size {
		p.history = append([]RebalancingAction(nil), p.history[len(p.history)-size:]...)
	}

	p.logger.Info("portfolio rebalanced",
		zap.String("trigger", reason),
		zap.Int("actions", len(actions)),
		zap.Time("next_rebalance", p.state.NextRebalance),
	)
	return actions
}

// applyAction scales the strategy's positions by target/current
// allocation at current prices. Reductions fail when a position has no
// price; increases fail when cash cannot fund them. Increases only raise
// the allocation while entries are halted.
func (p *Portfolio) applyAction(a RebalancingAction) error {
	if a.CurrentAllocation <= 0 {
		return nil
	}
	factor := a.TargetAllocation / a.CurrentAllocation
	st := &p.state

	var idx []int
	for i, pos := range st.Positions {
		if pos.StrategyID == a.StrategyID {
			if pos.CurrentPrice <= 0 {
				return core.Errorf(core.ErrRebalanceFailed, "%s: no price for %s", a.StrategyID, pos.Symbol)
			}
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil
	}

	if factor < 1 {
		for _, i := range idx {
			pos := st.Positions[i]
			qty := pos.Quantity * (1 - factor)
			p.realize(pos, qty, pos.CurrentPrice)
			st.Positions[i].Quantity -= qty
		}
		kept := st.Positions[:0]
		for _, pos := range st.Positions {
			if pos.Quantity > quantityEpsilon {
				kept = append(kept, pos)
			}
		}
		st.Positions = kept
		return nil
	}

	if st.EntriesHalted {
		return nil
	}
	var cost float64
	for _, i := range idx {
		cost += st.Positions[i].MarketValue() * (factor - 1)
	}
	if cost > st.Cash {
		return core.Errorf(core.ErrRebalanceFailed, "%s: insufficient cash, need %.2f have %.2f", a.StrategyID, cost, st.Cash)
	}
	for _, i := range idx {
		pos := &st.Positions[i]
		add := pos.Quantity * (factor - 1)
		total := pos.EntryPrice*pos.Quantity + pos.CurrentPrice*add
		pos.Quantity += add
		pos.EntryPrice = total / pos.Quantity
		pos.UpdatedAt = p.now()
	}
	st.Cash = math.Max(0, st.Cash-cost)
	return nil
}
