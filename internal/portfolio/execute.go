package portfolio

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/metrics"
	"github.com/newthinker/signalflow/internal/risk"
	"github.com/newthinker/signalflow/internal/storage/signal"
	"github.com/newthinker/signalflow/internal/strategy"
)

// quantityEpsilon is the smallest position quantity kept open
const quantityEpsilon = 1e-9

// candidate is an entry that passed every constraint and awaits capital
type candidate struct {
	strategyID string
	signal     core.Signal
	price      float64
	calc       risk.Calculation
	// request is the notional the sized position asks for.
	request float64
	weight  float64
}

// execute filters every strategy's signals through the portfolio
// constraints, closes or reduces positions on sells and funds the surviving
// entries in proportion to allocation times confidence.
func (p *Portfolio) execute(ctx context.Context, results map[string]*ExecutionResult, market marketState) {
	view := p.view(market.histories)
	var cands []candidate

	for _, id := range sortedKeys(results) {
		res := results[id]
		if res.Status != ResultOK {
			continue
		}
		def := p.defs[id]
		trades := p.tradesToday(ctx, id)

		for _, sig := range res.Signals {
			if sig.Action == core.ActionHold {
				continue
			}
			if sig.ID == "" {
				sig.ID = uuid.NewString()
			}
			if err := sig.Validate(); err != nil {
				p.reject(res, sig, RejectInvalid, err.Error())
				continue
			}
			price := sig.Price
			if price <= 0 {
				price = market.prices[sig.Symbol]
			}
			if price <= 0 {
				p.reject(res, sig, RejectNoPrice, fmt.Sprintf("no price for %s", sig.Symbol))
				continue
			}
			sig.Price = price

			if sig.Action == core.ActionSell {
				fill, ok := p.sell(ctx, id, sig)
				if !ok {
					p.reject(res, sig, RejectNoPosition, fmt.Sprintf("strategy holds no %s", sig.Symbol))
					continue
				}
				res.Fills = append(res.Fills, fill)
				trades++
				continue
			}

			if p.state.EntriesHalted {
				p.reject(res, sig, RejectEntriesHalted, "new entries halted after drawdown breach")
				continue
			}
			if limit := dailyTradeLimit(def, p.cfg); limit > 0 && trades >= limit {
				p.reject(res, sig, RejectDailyTrades, fmt.Sprintf("%d trades today, limit %d", trades, limit))
				continue
			}
			if d := p.sizer.ShouldBlock(sig, view); d.Blocked {
				p.reject(res, sig, d.Rule, d.Reason)
				continue
			}

			calc := p.sizer.Size(risk.Input{Signal: sig, History: market.bars[sig.Symbol], View: view})
			size := calc.FinalSize
			if limit := positionSizeLimit(def, p.cfg); size > limit {
				calc.Rationale = append(calc.Rationale, fmt.Sprintf("position size cap %.2f%%", limit))
				size = limit
			}
			room := instrumentLimit(def, p.cfg) - view.WeightOf(sig.Symbol)
			if room <= 0 {
				p.reject(res, sig, RejectInstrument, fmt.Sprintf("%s exposure %.2f%% at limit", sig.Symbol, view.WeightOf(sig.Symbol)))
				continue
			}
			if size > room {
				calc.Rationale = append(calc.Rationale, fmt.Sprintf("instrument room %.2f%%", room))
				size = room
			}
			if size <= 0 {
				p.reject(res, sig, RejectZeroSize, fmt.Sprintf("sized to zero: %v", calc.Rationale))
				continue
			}
			calc.FinalSize = size
			calc.RiskContribution = size / 100 * calc.StopFraction

			trades++
			view.Exposures = append(view.Exposures, risk.Exposure{
				Symbol:       sig.Symbol,
				Sector:       p.cfg.Risk.SectorOf(sig.Symbol),
				Weight:       size,
				StopFraction: calc.StopFraction,
			})
			cands = append(cands, candidate{
				strategyID: id,
				signal:     sig,
				price:      price,
				calc:       calc,
				request:    size / 100 * p.state.TotalEquity,
				weight:     p.state.Allocations[id] * sig.Confidence,
			})
		}
	}

	p.fund(ctx, cands, results)
}

// fund grants capital to candidates. Each grant is bounded by the sized
// request, the candidate's share of deployable capital, PerSignalCapitalCap
// of its strategy's available capital and whatever capital remains.
func (p *Portfolio) fund(ctx context.Context, cands []candidate, results map[string]*ExecutionResult) {
	if len(cands) == 0 {
		return
	}
	equity := p.state.TotalEquity
	available := make(map[string]float64)
	var pool, totalWeight float64
	for _, c := range cands {
		if _, seen := available[c.strategyID]; !seen {
			a := math.Max(0, p.state.Allocations[c.strategyID]/100*equity-p.state.Invested(c.strategyID))
			available[c.strategyID] = a
			pool += a
		}
		totalWeight += c.weight
	}
	deployable := math.Min(p.state.Cash, pool)
	remaining := make(map[string]float64, len(available))
	for id, a := range available {
		remaining[id] = a
	}

	for _, c := range cands {
		res := results[c.strategyID]
		grant := c.request
		if totalWeight > 0 {
			grant = math.Min(grant, deployable*c.weight/totalWeight)
		}
		grant = math.Min(grant, p.cfg.PerSignalCapitalCap*available[c.strategyID])
		grant = math.Min(grant, math.Min(remaining[c.strategyID], p.state.Cash))
		if grant <= 0 {
			p.reject(res, c.signal, RejectNoCapital, fmt.Sprintf("no capital left for %s (available %.2f, cash %.2f)",
				c.strategyID, remaining[c.strategyID], p.state.Cash))
			continue
		}
		remaining[c.strategyID] -= grant
		res.Fills = append(res.Fills, p.buy(ctx, c, grant))
	}
}

// buy opens or extends the strategy's position with notional at the
// candidate's price, averaging the entry cost.
func (p *Portfolio) buy(ctx context.Context, c candidate, notional float64) Fill {
	now := p.now()
	qty := notional / c.price
	st := &p.state
	st.Cash -= notional

	idx := p.positionIndex(c.strategyID, c.signal.Symbol)
	if idx < 0 {
		st.Positions = append(st.Positions, Position{
			ID:         uuid.NewString(),
			StrategyID: c.strategyID,
			Symbol:     c.signal.Symbol,
			Sector:     p.cfg.Risk.SectorOf(c.signal.Symbol),
			OpenedAt:   now,
		})
		idx = len(st.Positions) - 1
	}
	pos := &st.Positions[idx]
	// new avg cost = (old_cost * old_qty + price * qty) / (old_qty + qty)
	total := pos.EntryPrice*pos.Quantity + c.price*qty
	pos.Quantity += qty
	pos.EntryPrice = total / pos.Quantity
	pos.CurrentPrice = c.price
	pos.StopLoss = c.calc.StopLoss
	pos.TakeProfit = c.calc.TakeProfit
	pos.StopFraction = c.calc.StopFraction
	pos.UnrealizedPnL = (pos.CurrentPrice - pos.EntryPrice) * pos.Quantity
	pos.UpdatedAt = now
	if st.TotalEquity > 0 {
		pos.Allocation = pos.MarketValue() / st.TotalEquity * 100
	}

	executed := c.signal.Clone()
	if executed.Metadata == nil {
		executed.Metadata = make(map[string]any)
	}
	executed.Metadata["requested_quantity"] = c.signal.Quantity
	executed.Metadata["position_size"] = c.calc.FinalSize
	executed.Quantity = qty
	executed.StopLoss = c.calc.StopLoss
	executed.TakeProfit = c.calc.TakeProfit
	p.journalSignal(ctx, executed)

	calc := c.calc
	calc.Quantity = qty
	p.logger.Debug("entry executed",
		zap.String("strategy", c.strategyID),
		zap.String("symbol", c.signal.Symbol),
		zap.Float64("quantity", qty),
		zap.Float64("price", c.price),
		zap.Float64("notional", notional),
	)
	p.observe(func(m *metrics.Registry) { m.RecordExecuted(c.strategyID, string(core.ActionBuy)) })

	return Fill{
		SignalID:   c.signal.ID,
		PositionID: pos.ID,
		Symbol:     c.signal.Symbol,
		Action:     core.ActionBuy,
		Quantity:   qty,
		Price:      c.price,
		Notional:   notional,
		Sizing:     &calc,
	}
}

// sell closes the strategy's position in the signal's symbol, or reduces
// it by the signal's quantity when that is smaller. It reports false when
// the strategy holds nothing.
func (p *Portfolio) sell(ctx context.Context, strategyID string, sig core.Signal) (Fill, bool) {
	idx := p.positionIndex(strategyID, sig.Symbol)
	if idx < 0 {
		return Fill{}, false
	}
	st := &p.state
	pos := st.Positions[idx]
	qty := pos.Quantity
	if sig.Quantity > 0 && sig.Quantity < qty {
		qty = sig.Quantity
	}

	p.cyclePnL[strategyID] += (sig.Price - pos.CurrentPrice) * qty
	pnl := p.realize(pos, qty, sig.Price)

	remaining := pos.Quantity - qty
	if remaining <= quantityEpsilon {
		st.Positions = append(st.Positions[:idx], st.Positions[idx+1:]...)
	} else {
		st.Positions[idx].Quantity = remaining
		st.Positions[idx].CurrentPrice = sig.Price
		st.Positions[idx].UpdatedAt = p.now()
	}

	executed := sig.Clone()
	executed.Quantity = qty
	p.journalSignal(ctx, executed)
	p.observe(func(m *metrics.Registry) { m.RecordExecuted(strategyID, string(core.ActionSell)) })

	return Fill{
		SignalID:    sig.ID,
		PositionID:  pos.ID,
		Symbol:      sig.Symbol,
		Action:      core.ActionSell,
		Quantity:    qty,
		Price:       sig.Price,
		Notional:    qty * sig.Price,
		RealizedPnL: pnl,
	}, true
}

func (p *Portfolio) positionIndex(strategyID, symbol string) int {
	for i, pos := range p.state.Positions {
		if pos.StrategyID == strategyID && pos.Symbol == symbol {
			return i
		}
	}
	return -1
}

func (p *Portfolio) reject(res *ExecutionResult, sig core.Signal, rule, reason string) {
	res.Rejections = append(res.Rejections, Rejection{
		SignalID: sig.ID,
		Symbol:   sig.Symbol,
		Action:   sig.Action,
		Rule:     rule,
		Reason:   reason,
	})
	p.logger.Warn("signal rejected",
		zap.String("strategy", res.StrategyID),
		zap.String("symbol", sig.Symbol),
		zap.String("action", string(sig.Action)),
		zap.String("rule", rule),
		zap.String("reason", reason),
	)
	p.observe(func(m *metrics.Registry) { m.RecordBlocked(rule) })
}

// tradesToday counts the strategy's journaled trades since midnight UTC
func (p *Portfolio) tradesToday(ctx context.Context, strategyID string) int {
	now := p.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	n, err := p.journal.Count(ctx, signal.ListFilter{Strategy: strategyID, From: midnight})
	if err != nil {
		p.logger.Warn("daily trade count unavailable",
			zap.String("strategy", strategyID),
			zap.Error(err),
		)
		return 0
	}
	return n
}

func (p *Portfolio) journalSignal(ctx context.Context, sig core.Signal) {
	if sig.GeneratedAt.IsZero() {
		sig.GeneratedAt = p.now()
	}
	if err := p.journal.Save(ctx, sig); err != nil {
		p.logger.Warn("signal journal write failed",
			zap.String("signal", sig.ID),
			zap.Error(err),
		)
	}
}

// tighter returns the smaller positive limit, or 0 when neither is set
func tighter(a, b float64) float64 {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	}
	return math.Min(a, b)
}

func dailyTradeLimit(def strategy.Definition, cfg Config) int {
	return int(tighter(float64(def.Constraints.MaxDailyTrades), float64(cfg.MaxDailyTrades)))
}

func positionSizeLimit(def strategy.Definition, cfg Config) float64 {
	return tighter(def.Constraints.MaxPositionSize, cfg.MaxPositionSize)
}

func instrumentLimit(def strategy.Definition, cfg Config) float64 {
	return tighter(def.Constraints.MaxInstrumentExposure, cfg.MaxInstrumentExposure)
}
