package portfolio

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/metrics"
	"github.com/newthinker/signalflow/internal/strategy"
)

// marketState is the latest price and history per symbol across every
// buffer handed to a cycle.
type marketState struct {
	prices    map[string]float64
	bars      map[string][]core.Bar
	histories map[string][]float64
}

func collectMarket(data map[string]strategy.MarketData) marketState {
	m := marketState{
		prices:    make(map[string]float64),
		bars:      make(map[string][]core.Bar),
		histories: make(map[string][]float64),
	}
	latest := make(map[string]time.Time)
	for _, id := range sortedKeys(data) {
		for _, tf := range sortedKeys(data[id].Buffers) {
			bars := data[id].Buffers[tf]
			if len(bars) == 0 {
				continue
			}
			last := bars[len(bars)-1]
			if t, seen := latest[last.Symbol]; !seen || last.Time.After(t) {
				latest[last.Symbol] = last.Time
				m.prices[last.Symbol] = last.Close
			}
			if len(bars) > len(m.bars[last.Symbol]) {
				m.bars[last.Symbol] = bars
			}
		}
	}
	for sym, bars := range m.bars {
		m.histories[sym] = core.Closes(bars)
	}
	return m
}

// ExecuteCycle runs every active strategy against its market data (keyed by
// strategy ID), filters, sizes and executes the signals, marks the book to
// market, refreshes risk, rebalances when due and evaluates alert rules.
//
// A failing strategy only fails its own result. ErrNoViableExecution is
// returned when no strategy is active or every active strategy failed; the
// per-strategy results are returned alongside it in the latter case.
func (p *Portfolio) ExecuteCycle(ctx context.Context, data map[string]strategy.MarketData) (map[string]ExecutionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	active := p.activeIDs()
	if len(active) == 0 {
		p.observe(func(m *metrics.Registry) { m.RecordCycle("no_viable", time.Since(start).Seconds()) })
		return nil, core.Errorf(core.ErrNoViableExecution, "no active strategies")
	}

	st := &p.state
	st.Cycle++
	equityStart := st.TotalEquity
	p.cyclePnL = make(map[string]float64, len(p.defs))

	// (a) run strategies concurrently
	st.Phase = PhaseExecuting
	for _, id := range active {
		st.Strategies[id] = StatusExecuting
	}
	runs := p.engine.Run(ctx, active, data, p.cfg.StrategyTimeout)
	for _, id := range active {
		st.Strategies[id] = StatusActive
	}

	// (b) collect tagged signals
	results := make(map[string]*ExecutionResult, len(active))
	var failures int
	for _, id := range active {
		run := runs[id]
		res := &ExecutionResult{
			StrategyID:       id,
			Status:           ResultOK,
			Signals:          run.Signals,
			Warnings:         run.Warnings,
			AlignmentQuality: run.AlignmentQuality,
			Duration:         run.Duration,
		}
		if run.Failed() {
			failures++
			res.Status = ResultFailed
			res.Errors = append(res.Errors, run.Err.Error())
			p.observe(func(m *metrics.Registry) { m.RecordStrategyError(id, errorCode(run.Err)) })
		}
		p.observe(func(m *metrics.Registry) {
			m.RecordGraphWarnings(id, len(run.Warnings))
			for _, sig := range run.Signals {
				m.RecordSignal(id, string(sig.Action))
			}
		})
		results[id] = res
	}

	if failures == len(active) {
		st.Phase = PhaseIdle
		p.logger.Error("no strategy produced a result",
			zap.Int("cycle", st.Cycle),
			zap.Int("failed", failures),
		)
		p.observe(func(m *metrics.Registry) { m.RecordCycle("failed", time.Since(start).Seconds()) })
		return flatten(results), core.Errorf(core.ErrNoViableExecution, "all %d active strategies failed", failures)
	}

	// (c)-(e) constrain, allocate and execute
	st.Phase = PhaseAllocating
	market := collectMarket(data)
	p.execute(ctx, results, market)

	// (f)-(g) mark to market and refresh risk
	p.markToMarket(market.prices, results)
	p.recordReturns(equityStart)
	st.Risk = computeRisk(st, p.view(market.histories), p.returns, p.cfg.VaRConfidence)

	// (h)-(i) rebalance when due
	summary := CycleSummary{Cycle: st.Cycle, Time: p.now()}
	if reason := p.rebalanceTrigger(p.now()); reason != "" {
		st.Phase = PhaseRebalancing
		summary.Actions = p.rebalance(reason)
		summary.Rebalanced = true
		st.Risk = computeRisk(st, p.view(market.histories), p.returns, p.cfg.VaRConfidence)
	}

	// (j) alerts
	st.Phase = PhaseMonitoring
	fired := p.monitor()

	st.Phase = PhaseIdle
	st.UpdatedAt = p.now()

	out := flatten(results)
	for _, res := range out {
		summary.Fills += len(res.Fills)
		summary.Rejections += len(res.Rejections)
		if res.Status == ResultFailed {
			summary.Failures++
		}
	}
	summary.Alerts = len(fired)
	summary.Duration = time.Since(start)
	p.last = summary

	p.observe(func(m *metrics.Registry) {
		m.RecordCycle("ok", summary.Duration.Seconds())
		m.SetPortfolio(st.TotalEquity, st.Cash, st.Risk.CurrentDrawdown, st.Risk.PortfolioRisk, len(st.Positions))
	})
	p.logger.Info("cycle completed",
		zap.Int("cycle", summary.Cycle),
		zap.Int("fills", summary.Fills),
		zap.Int("rejections", summary.Rejections),
		zap.Int("failures", summary.Failures),
		zap.Int("alerts", summary.Alerts),
		zap.Bool("rebalanced", summary.Rebalanced),
		zap.Float64("equity", st.TotalEquity),
		zap.Float64("cash", st.Cash),
		zap.Float64("drawdown", st.Risk.CurrentDrawdown),
		zap.Duration("duration", summary.Duration),
	)

	p.archiveCycle(ctx, out, fired)
	return out, nil
}

// markToMarket moves every position to its latest price, exits positions
// whose stop or target was crossed and revalues the book.
func (p *Portfolio) markToMarket(prices map[string]float64, results map[string]*ExecutionResult) {
	st := &p.state
	now := p.now()
	for i := range st.Positions {
		pos := &st.Positions[i]
		px, ok := prices[pos.Symbol]
		if !ok || px <= 0 {
			continue
		}
		p.cyclePnL[pos.StrategyID] += (px - pos.CurrentPrice) * pos.Quantity
		pos.CurrentPrice = px
		pos.UpdatedAt = now
	}

	kept := st.Positions[:0]
	for _, pos := range st.Positions {
		reason := exitReason(pos)
		if reason == "" {
			kept = append(kept, pos)
			continue
		}
		pnl := p.realize(pos, pos.Quantity, pos.CurrentPrice)
		if res, ok := results[pos.StrategyID]; ok {
			res.Fills = append(res.Fills, Fill{
				PositionID:  pos.ID,
				Symbol:      pos.Symbol,
				Action:      core.ActionSell,
				Quantity:    pos.Quantity,
				Price:       pos.CurrentPrice,
				Notional:    pos.MarketValue(),
				RealizedPnL: pnl,
			})
		}
		p.logger.Info("position exited",
			zap.String("strategy", pos.StrategyID),
			zap.String("symbol", pos.Symbol),
			zap.String("reason", reason),
			zap.Float64("price", pos.CurrentPrice),
			zap.Float64("realized_pnl", pnl),
		)
	}
	st.Positions = kept
	p.revalue()
}

func exitReason(pos Position) string {
	switch {
	case pos.StopLoss > 0 && pos.CurrentPrice <= pos.StopLoss:
		return "stop_loss"
	case pos.TakeProfit > 0 && pos.CurrentPrice >= pos.TakeProfit:
		return "take_profit"
	}
	return ""
}

// recordReturns appends the cycle's portfolio and per-strategy returns and
// refreshes performance.
func (p *Portfolio) recordReturns(equityStart float64) {
	st := &p.state
	var period float64
	if equityStart > 0 {
		period = (st.TotalEquity - equityStart) / equityStart * 100
	}
	p.returns = appendBounded(p.returns, period, p.cfg.ReturnsWindow)

	for id := range p.defs {
		var r float64
		if base := st.Allocations[id] / 100 * equityStart; base > 0 {
			r = p.cyclePnL[id] / base * 100
		}
		p.strategyReturns[id] = appendBounded(p.strategyReturns[id], r, p.cfg.ReturnsWindow)
	}

	st.Performance.PeriodReturn = period
	st.Performance.SharpeRatio = NewStrategyStats("portfolio", p.returns).Sharpe
}

func flatten(results map[string]*ExecutionResult) map[string]ExecutionResult {
	out := make(map[string]ExecutionResult, len(results))
	for id, res := range results {
		out[id] = *res
	}
	return out
}

func errorCode(err error) string {
	var coded *core.Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return "UNKNOWN"
}
