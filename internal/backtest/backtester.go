package backtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/market"
	"github.com/newthinker/signalflow/internal/portfolio"
	"github.com/newthinker/signalflow/internal/strategy"
)

// Orchestrator is the portfolio surface a replay drives
type Orchestrator interface {
	Strategies() []strategy.Definition
	ExecuteCycle(ctx context.Context, data map[string]strategy.MarketData) (map[string]portfolio.ExecutionResult, error)
	Snapshot() portfolio.State
	LastCycle() portfolio.CycleSummary
}

// barFile is the on-disk layout read by LoadBars
type barFile struct {
	Bars []core.Bar `yaml:"bars"`
}

// LoadBars reads a YAML bar file. Invalid bars are rejected.
func LoadBars(path string) ([]core.Bar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapError(core.ErrNoData, err)
	}
	var f barFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("parse %s: %w", path, err))
	}
	if len(f.Bars) == 0 {
		return nil, core.Errorf(core.ErrNoData, "%s contains no bars", path)
	}
	for i, b := range f.Bars {
		if !b.IsValid() {
			return nil, core.Errorf(core.ErrConfigInvalid, "%s: bar %d (%s %s) is invalid", path, i, b.Symbol, b.Timeframe)
		}
	}
	return f.Bars, nil
}

// Clock is the simulated time a replayed portfolio observes
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current simulated time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the simulated time
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Backtester replays historical bars through a portfolio
type Backtester struct {
	lookback int
	warmup   int
	clock    *Clock
	logger   *zap.Logger
}

// New creates a Backtester. lookback bounds the rolling bar windows and
// warmup is the number of timestamps loaded before the first cycle.
func New(lookback, warmup int, logger *zap.Logger) *Backtester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if warmup < 0 {
		warmup = 0
	}
	return &Backtester{
		lookback: lookback,
		warmup:   warmup,
		clock:    &Clock{},
		logger:   logger,
	}
}

// Clock returns the simulated clock. Pass Clock().Now to the portfolio with
// portfolio.WithClock so that cooldowns, schedules and daily trade caps
// follow bar time.
func (b *Backtester) Clock() *Clock {
	return b.clock
}

// Run replays bars grouped by timestamp. Each group is appended to the
// rolling windows and, after warmup, drives one portfolio cycle at the
// group's time. Steps in which no strategy could execute are counted as
// skipped.
func (b *Backtester) Run(ctx context.Context, orch Orchestrator, bars []core.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, core.Errorf(core.ErrNoData, "no historical data available")
	}
	defs := orch.Strategies()
	if len(defs) == 0 {
		return nil, core.Errorf(core.ErrNoViableExecution, "no strategies registered")
	}

	groups := groupByTime(bars)
	set := market.NewSet(b.lookback)
	initial := orch.Snapshot().TotalEquity

	result := &Result{
		StartDate:     groups[0].time,
		EndDate:       groups[len(groups)-1].time,
		InitialEquity: initial,
	}
	var skipped, rebalances, alerts int

	for i, g := range groups {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		for _, bar := range g.bars {
			set.Append(bar)
		}
		if i < b.warmup {
			continue
		}
		b.clock.Set(g.time)

		data := make(map[string]strategy.MarketData, len(defs))
		for _, def := range defs {
			data[def.ID] = strategy.FromSet(set, def.TradedSymbol(), def.Timeframes.Timeframes())
		}

		results, err := orch.ExecuteCycle(ctx, data)
		if err != nil {
			if !errors.Is(err, core.ErrNoViableExecution) {
				return nil, fmt.Errorf("cycle at %s: %w", g.time.Format(time.RFC3339), err)
			}
			skipped++
			b.logger.Debug("replay step skipped", zap.Time("time", g.time), zap.Error(err))
			continue
		}

		for _, id := range sortedIDs(results) {
			for _, f := range results[id].Fills {
				result.Trades = append(result.Trades, Trade{Time: g.time, StrategyID: id, Fill: f})
			}
		}
		summary := orch.LastCycle()
		if summary.Rebalanced {
			rebalances++
		}
		alerts += summary.Alerts

		st := orch.Snapshot()
		result.Curve = append(result.Curve, EquityPoint{
			Time:     g.time,
			Equity:   st.TotalEquity,
			Cash:     st.Cash,
			Drawdown: st.Risk.CurrentDrawdown,
		})
	}

	result.Final = orch.Snapshot()
	result.FinalEquity = result.Final.TotalEquity
	result.Stats = CalculateStats(initial, result.Curve, result.Trades)
	result.Stats.Skipped = skipped
	result.Stats.Rebalances = rebalances
	result.Stats.Alerts = alerts

	b.logger.Info("backtest complete",
		zap.Int("steps", len(groups)),
		zap.Int("cycles", result.Stats.Cycles),
		zap.Int("skipped", skipped),
		zap.Int("trades", result.Stats.Trades),
		zap.Float64("total_return", result.Stats.TotalReturn),
		zap.Float64("max_drawdown", result.Stats.MaxDrawdown),
		zap.Int("alerts", alerts),
	)
	return result, nil
}

type step struct {
	time time.Time
	bars []core.Bar
}

// groupByTime orders bars by timestamp and groups equal timestamps
func groupByTime(bars []core.Bar) []step {
	sorted := append([]core.Bar(nil), bars...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	var steps []step
	for _, bar := range sorted {
		if n := len(steps); n > 0 && steps[n-1].time.Equal(bar.Time) {
			steps[n-1].bars = append(steps[n-1].bars, bar)
			continue
		}
		steps = append(steps, step{time: bar.Time, bars: []core.Bar{bar}})
	}
	return steps
}

func sortedIDs(results map[string]portfolio.ExecutionResult) []string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
