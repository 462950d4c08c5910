package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/signalflow/internal/alert"
	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/storage/archive"
	"github.com/newthinker/signalflow/internal/strategy"
)

var t0 = time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)

// fakeRunner returns canned signals or an error
type fakeRunner struct {
	name    string
	signals []core.Signal
	err     error
	delay   time.Duration
}

func (f *fakeRunner) Name() string { return f.name }

func (f *fakeRunner) Analyze(ctx context.Context, data strategy.MarketData) (strategy.Output, error) {
	// ignores ctx so that only the engine's timeout can end the run
	time.Sleep(f.delay)
	if f.err != nil {
		return strategy.Output{}, f.err
	}
	out := make([]core.Signal, len(f.signals))
	for i, s := range f.signals {
		out[i] = s.Clone()
	}
	return strategy.Output{Signals: out, AlignmentQuality: 1}, nil
}

type recordingNotifier struct {
	alerts []alert.Alert
}

func (r *recordingNotifier) Name() string { return "recording" }
func (r *recordingNotifier) Notify(a alert.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func flatBars(symbol string, n int, price float64) []core.Bar {
	bars := make([]core.Bar, n)
	for i := range bars {
		bars[i] = core.Bar{
			Symbol:    symbol,
			Timeframe: "1d",
			Time:      t0.Add(time.Duration(i-n+1) * 24 * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars
}

func buy(symbol string, price, confidence float64) core.Signal {
	return core.Signal{Symbol: symbol, Action: core.ActionBuy, Price: price, Quantity: 10, Confidence: confidence, GeneratedAt: t0}
}

func sell(symbol string, price float64) core.Signal {
	return core.Signal{Symbol: symbol, Action: core.ActionSell, Price: price, Confidence: 0.5, GeneratedAt: t0}
}

func dataFor(ids []string, bars []core.Bar) map[string]strategy.MarketData {
	out := make(map[string]strategy.MarketData, len(ids))
	for _, id := range ids {
		out[id] = strategy.MarketData{Buffers: map[string][]core.Bar{"1d": bars}}
	}
	return out
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestPortfolio(t *testing.T, mutate func(*Config), opts ...Option) (*Portfolio, *clock) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c := &clock{now: t0}
	p, err := New(cfg, nil, append([]Option{WithClock(c.Now)}, opts...)...)
	require.NoError(t, err)
	return p, c
}

func addRunner(t *testing.T, p *Portfolio, r *fakeRunner, allocation float64) {
	t.Helper()
	require.NoError(t, p.AddRunner(r, strategy.Definition{ID: r.name, Allocation: allocation, Enabled: true}))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RebalanceSchedule = "every tuesday"
	_, err := New(cfg, nil)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))

	cfg = DefaultConfig()
	cfg.Risk.BasePositionSize = 20
	_, err = New(cfg, nil)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestAddStrategy_Limits(t *testing.T) {
	p, _ := newTestPortfolio(t, func(c *Config) { c.MaxStrategies = 2 })

	addRunner(t, p, &fakeRunner{name: "a"}, 50)

	err := p.AddRunner(&fakeRunner{name: "a"}, strategy.Definition{ID: "a", Allocation: 10})
	assert.True(t, errors.Is(err, core.ErrStrategyExists))

	addRunner(t, p, &fakeRunner{name: "b"}, 60)

	err = p.AddRunner(&fakeRunner{name: "c"}, strategy.Definition{ID: "c"})
	assert.True(t, errors.Is(err, core.ErrStrategyLimit))

	snap := p.Snapshot()
	assert.Equal(t, StatusActive, snap.Strategies["a"])
	assert.InDelta(t, 100, snap.AllocationSum(), 1e-9)
	assert.InDelta(t, 50.0/110*100, snap.Allocations["a"], 1e-9)
	assert.InDelta(t, 60.0/110*100, snap.Allocations["b"], 1e-9)
}

func TestAddStrategy_AfterRebalance(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	addRunner(t, p, &fakeRunner{name: "A"}, 70)
	addRunner(t, p, &fakeRunner{name: "B"}, 30)
	p.strategyReturns["A"] = []float64{1, -1, 1, -1}
	p.strategyReturns["B"] = []float64{0.5, -0.5, 0.5, -0.5}

	_, err := p.Rebalance(context.Background(), true)
	require.NoError(t, err)
	require.InDelta(t, 100, p.Snapshot().AllocationSum(), 1e-9)

	addRunner(t, p, &fakeRunner{name: "C"}, 30)

	snap := p.Snapshot()
	assert.InDelta(t, 100, snap.AllocationSum(), 1e-9)
	assert.InDelta(t, 40.0/130*100, snap.Allocations["A"], 1e-9)
	assert.InDelta(t, 60.0/130*100, snap.Allocations["B"], 1e-9)
	assert.InDelta(t, 30.0/130*100, snap.Allocations["C"], 1e-9)
}

func TestAddStrategy_DisabledStartsInactive(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	require.NoError(t, p.AddRunner(&fakeRunner{name: "a"}, strategy.Definition{ID: "a", Allocation: 20}))
	assert.Equal(t, StatusInactive, p.Snapshot().Strategies["a"])

	require.NoError(t, p.Activate("a"))
	assert.Equal(t, StatusActive, p.Snapshot().Strategies["a"])
	assert.True(t, errors.Is(p.Deactivate("missing"), core.ErrStrategyNotFound))
}

func TestRemoveStrategy_Limits(t *testing.T) {
	p, _ := newTestPortfolio(t, func(c *Config) { c.MinStrategies = 1 })
	addRunner(t, p, &fakeRunner{name: "a"}, 50)
	addRunner(t, p, &fakeRunner{name: "b"}, 50)

	assert.True(t, errors.Is(p.RemoveStrategy("zzz"), core.ErrStrategyNotFound))
	require.NoError(t, p.RemoveStrategy("a"))
	assert.True(t, errors.Is(p.RemoveStrategy("b"), core.ErrStrategyLimit))

	snap := p.Snapshot()
	assert.NotContains(t, snap.Allocations, "a")
	assert.Contains(t, snap.Allocations, "b")
}

func TestExecuteCycle_ExecutesBuy(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	addRunner(t, p, &fakeRunner{name: "alpha", signals: []core.Signal{buy("AAPL", 100, 0.5)}}, 50)

	results, err := p.ExecuteCycle(context.Background(), dataFor([]string{"alpha"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)

	res := results["alpha"]
	assert.Equal(t, ResultOK, res.Status)
	require.Len(t, res.Fills, 1)
	fill := res.Fills[0]
	assert.Equal(t, core.ActionBuy, fill.Action)
	// base 2% of equity at neutral confidence, within 10% of the 50k sleeve
	assert.InDelta(t, 2000, fill.Notional, 1e-6)
	assert.InDelta(t, 20, fill.Quantity, 1e-9)
	require.NotNil(t, fill.Sizing)
	assert.InDelta(t, 98, fill.Sizing.StopLoss, 1e-9)

	snap := p.Snapshot()
	assert.InDelta(t, 98000, snap.Cash, 1e-6)
	assert.InDelta(t, 100000, snap.TotalEquity, 1e-6)
	assert.GreaterOrEqual(t, snap.Cash, 0.0)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "alpha", snap.Positions[0].StrategyID)
	assert.InDelta(t, 2, snap.Positions[0].Allocation, 1e-9)
	assert.Equal(t, 1, snap.Cycle)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Equal(t, 1, p.LastCycle().Fills)
}

func TestExecuteCycle_PerSignalCapitalCap(t *testing.T) {
	p, _ := newTestPortfolio(t, func(c *Config) {
		c.Risk.BasePositionSize = 8
		c.Risk.MaxPositionSize = 10
	})
	addRunner(t, p, &fakeRunner{name: "alpha", signals: []core.Signal{buy("AAPL", 100, 0.5)}}, 20)

	results, err := p.ExecuteCycle(context.Background(), dataFor([]string{"alpha"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)

	// 8% of equity requested, granted 10% of the 20k sleeve
	require.Len(t, results["alpha"].Fills, 1)
	assert.InDelta(t, 2000, results["alpha"].Fills[0].Notional, 1e-6)
}

func TestExecuteCycle_SellClosesPosition(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	runner := &fakeRunner{name: "alpha", signals: []core.Signal{buy("AAPL", 100, 0.5)}}
	addRunner(t, p, runner, 50)

	_, err := p.ExecuteCycle(context.Background(), dataFor([]string{"alpha"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)

	runner.signals = []core.Signal{sell("AAPL", 103)}
	results, err := p.ExecuteCycle(context.Background(), dataFor([]string{"alpha"}, flatBars("AAPL", 30, 103)))
	require.NoError(t, err)

	require.Len(t, results["alpha"].Fills, 1)
	fill := results["alpha"].Fills[0]
	assert.Equal(t, core.ActionSell, fill.Action)
	assert.InDelta(t, 60, fill.RealizedPnL, 1e-6)

	snap := p.Snapshot()
	assert.Empty(t, snap.Positions)
	assert.InDelta(t, 100060, snap.Cash, 1e-6)
	assert.InDelta(t, 100060, snap.TotalEquity, 1e-6)
	assert.Equal(t, 1, snap.Performance.WinningTrades)
}

func TestExecuteCycle_SellWithoutPositionRejected(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	addRunner(t, p, &fakeRunner{name: "alpha", signals: []core.Signal{sell("AAPL", 100)}}, 50)

	results, err := p.ExecuteCycle(context.Background(), dataFor([]string{"alpha"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)

	require.Len(t, results["alpha"].Rejections, 1)
	assert.Equal(t, RejectNoPosition, results["alpha"].Rejections[0].Rule)
	assert.InDelta(t, 100000, p.Snapshot().Cash, 1e-9)
}

func TestExecuteCycle_HoldIgnored(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	hold := core.Signal{Symbol: "AAPL", Action: core.ActionHold, Price: 100, Confidence: 0.5}
	addRunner(t, p, &fakeRunner{name: "alpha", signals: []core.Signal{hold}}, 50)

	results, err := p.ExecuteCycle(context.Background(), dataFor([]string{"alpha"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)
	assert.Len(t, results["alpha"].Signals, 1)
	assert.Empty(t, results["alpha"].Fills)
	assert.Empty(t, results["alpha"].Rejections)
}

func TestExecuteCycle_DailyTradeCap(t *testing.T) {
	p, _ := newTestPortfolio(t, func(c *Config) { c.MaxDailyTrades = 1 })
	addRunner(t, p, &fakeRunner{name: "alpha", signals: []core.Signal{
		buy("AAPL", 100, 0.5),
		buy("MSFT", 50, 0.5),
	}}, 50)

	results, err := p.ExecuteCycle(context.Background(), dataFor([]string{"alpha"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)

	res := results["alpha"]
	require.Len(t, res.Fills, 1)
	assert.Equal(t, "AAPL", res.Fills[0].Symbol)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, RejectDailyTrades, res.Rejections[0].Rule)

	// the journal carries the trade into the next cycle of the same day
	results, err = p.ExecuteCycle(context.Background(), dataFor([]string{"alpha"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)
	assert.Empty(t, results["alpha"].Fills)
}

func TestExecuteCycle_InstrumentExposureCap(t *testing.T) {
	p, _ := newTestPortfolio(t, func(c *Config) { c.MaxInstrumentExposure = 3 })
	addRunner(t, p, &fakeRunner{name: "alpha", signals: []core.Signal{
		buy("AAPL", 100, 0.5),
		buy("AAPL", 100, 0.5),
	}}, 50)

	results, err := p.ExecuteCycle(context.Background(), dataFor([]string{"alpha"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)

	// 2% then the remaining 1% of room
	res := results["alpha"]
	require.Len(t, res.Fills, 2)
	assert.InDelta(t, 2000, res.Fills[0].Notional, 1e-6)
	assert.InDelta(t, 1000, res.Fills[1].Notional, 1e-6)

	snap := p.Snapshot()
	require.Len(t, snap.Positions, 1, "fills extend one position")
	assert.InDelta(t, 30, snap.Positions[0].Quantity, 1e-9)
	assert.InDelta(t, 100, snap.Positions[0].EntryPrice, 1e-9)
}

func TestExecuteCycle_FailureIsolation(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	addRunner(t, p, &fakeRunner{name: "bad", err: errors.New("boom")}, 40)
	addRunner(t, p, &fakeRunner{name: "good", signals: []core.Signal{buy("AAPL", 100, 0.5)}}, 40)

	results, err := p.ExecuteCycle(context.Background(), dataFor([]string{"bad", "good"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)

	assert.Equal(t, ResultFailed, results["bad"].Status)
	require.Len(t, results["bad"].Errors, 1)
	assert.Contains(t, results["bad"].Errors[0], "boom")

	assert.Equal(t, ResultOK, results["good"].Status)
	assert.Len(t, results["good"].Fills, 1)
	assert.Equal(t, 1, p.LastCycle().Failures)
}

func TestExecuteCycle_TimeoutIsolated(t *testing.T) {
	p, _ := newTestPortfolio(t, func(c *Config) { c.StrategyTimeout = 20 * time.Millisecond })
	addRunner(t, p, &fakeRunner{name: "slow", delay: time.Second}, 40)
	addRunner(t, p, &fakeRunner{name: "fast", signals: []core.Signal{buy("AAPL", 100, 0.5)}}, 40)

	results, err := p.ExecuteCycle(context.Background(), dataFor([]string{"slow", "fast"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)

	assert.Equal(t, ResultFailed, results["slow"].Status)
	assert.Contains(t, results["slow"].Errors[0], "STRATEGY_TIMEOUT")
	assert.Len(t, results["fast"].Fills, 1)
}

func TestExecuteCycle_NoViableExecution(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)

	_, err := p.ExecuteCycle(context.Background(), nil)
	assert.True(t, errors.Is(err, core.ErrNoViableExecution), "no active strategies")

	addRunner(t, p, &fakeRunner{name: "a", err: errors.New("boom")}, 50)
	addRunner(t, p, &fakeRunner{name: "b", err: errors.New("bang")}, 50)

	results, err := p.ExecuteCycle(context.Background(), dataFor([]string{"a", "b"}, flatBars("AAPL", 30, 100)))
	assert.True(t, errors.Is(err, core.ErrNoViableExecution), "every strategy failed")
	assert.Len(t, results, 2)
	assert.Equal(t, PhaseIdle, p.Snapshot().Phase)
}

func TestExecuteCycle_StopLossExit(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	runner := &fakeRunner{name: "alpha", signals: []core.Signal{buy("AAPL", 100, 0.5)}}
	addRunner(t, p, runner, 50)

	_, err := p.ExecuteCycle(context.Background(), dataFor([]string{"alpha"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)

	runner.signals = nil
	results, err := p.ExecuteCycle(context.Background(), dataFor([]string{"alpha"}, flatBars("AAPL", 30, 95)))
	require.NoError(t, err)

	require.Len(t, results["alpha"].Fills, 1)
	assert.InDelta(t, -100, results["alpha"].Fills[0].RealizedPnL, 1e-6)

	snap := p.Snapshot()
	assert.Empty(t, snap.Positions)
	assert.InDelta(t, 99900, snap.TotalEquity, 1e-6)
	assert.InDelta(t, 0.1, snap.Risk.CurrentDrawdown, 1e-9)
	assert.InDelta(t, -0.1, snap.Performance.PeriodReturn, 1e-9)
}

func TestExecuteCycle_EntriesHaltedUntilRecovery(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	addRunner(t, p, &fakeRunner{name: "alpha", signals: []core.Signal{buy("AAPL", 100, 0.5)}}, 50)
	p.state.EntriesHalted = true

	results, err := p.ExecuteCycle(context.Background(), dataFor([]string{"alpha"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)

	require.Len(t, results["alpha"].Rejections, 1)
	assert.Equal(t, RejectEntriesHalted, results["alpha"].Rejections[0].Rule)
	// drawdown is below the recovery threshold, so the halt lifts
	assert.False(t, p.Snapshot().EntriesHalted)
}

func TestMonitor_DrawdownBreachHaltsEntries(t *testing.T) {
	notifier := &recordingNotifier{}
	p, _ := newTestPortfolio(t, nil, WithNotifier(notifier))
	addRunner(t, p, &fakeRunner{name: "alpha"}, 50)

	p.state.Risk.CurrentDrawdown = 25
	fired := p.monitor()

	require.Len(t, fired, 1)
	a := fired[0]
	assert.Equal(t, "drawdown_breach", a.Rule)
	assert.Equal(t, alert.SeverityCritical, a.Severity)
	assert.True(t, a.AutoActioned)
	assert.NotEmpty(t, a.Recommended)
	assert.True(t, p.state.EntriesHalted)
	assert.Len(t, notifier.alerts, 1)
	assert.Len(t, p.Alerts(), 1)

	// cooldown suppresses a repeat
	assert.Empty(t, p.monitor())

	p.state.Risk.CurrentDrawdown = 4
	p.monitor()
	assert.False(t, p.state.EntriesHalted)
}

func TestMonitor_LargeLossNamesLosingStrategies(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	addRunner(t, p, &fakeRunner{name: "a"}, 50)
	addRunner(t, p, &fakeRunner{name: "b"}, 50)
	p.strategyReturns["a"] = []float64{-12}
	p.strategyReturns["b"] = []float64{3}
	p.state.Performance.PeriodReturn = -7

	fired := p.monitor()
	require.Len(t, fired, 1)
	assert.Equal(t, "large_loss", fired[0].Rule)
	assert.Equal(t, alert.CategoryPerformance, fired[0].Category)
	assert.Equal(t, []string{"a"}, fired[0].Strategies)
}

func TestRebalance_ScheduleTrigger(t *testing.T) {
	p, c := newTestPortfolio(t, func(c *Config) { c.RebalanceSchedule = "@every 1h" })
	addRunner(t, p, &fakeRunner{name: "a"}, 60)
	addRunner(t, p, &fakeRunner{name: "b"}, 40)

	actions, err := p.Rebalance(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, actions)
	assert.Equal(t, t0, p.Snapshot().LastRebalance)

	c.now = t0.Add(2 * time.Hour)
	actions, err = p.Rebalance(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, actions, "insufficient history keeps allocations")

	snap := p.Snapshot()
	assert.Equal(t, c.now, snap.LastRebalance)
	assert.Equal(t, c.now.Add(time.Hour), snap.NextRebalance)
}

func TestRebalance_AppliesAndIsIdempotent(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	addRunner(t, p, &fakeRunner{name: "A"}, 70)
	addRunner(t, p, &fakeRunner{name: "B"}, 30)
	p.strategyReturns["A"] = []float64{1, -1, 1, -1}
	p.strategyReturns["B"] = []float64{0.5, -0.5, 0.5, -0.5}

	actions, err := p.Rebalance(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "A", actions[0].StrategyID, "reductions apply first")
	for _, a := range actions {
		assert.True(t, a.Applied)
		assert.Empty(t, a.Error)
	}

	snap := p.Snapshot()
	assert.InDelta(t, 40, snap.Allocations["A"], 1e-9)
	assert.InDelta(t, 60, snap.Allocations["B"], 1e-9)
	assert.InDelta(t, 100, snap.AllocationSum(), 1e-9)

	again, err := p.Rebalance(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Len(t, p.RebalanceHistory(), 2)
}

func TestRebalance_ClampedOptimumConverges(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	addRunner(t, p, &fakeRunner{name: "a"}, 40)
	addRunner(t, p, &fakeRunner{name: "b"}, 30)
	addRunner(t, p, &fakeRunner{name: "c"}, 30)
	p.strategyReturns["a"] = []float64{0.01, -0.01, 0.01, -0.01}
	p.strategyReturns["b"] = []float64{1, -1, 1, -1}
	p.strategyReturns["c"] = []float64{-1, 1, -1, 1}

	actions, err := p.Rebalance(context.Background(), true)
	require.NoError(t, err)
	assert.NotEmpty(t, actions)

	snap := p.Snapshot()
	assert.InDelta(t, 100, snap.AllocationSum(), 1e-9)
	assert.InDelta(t, 60, snap.Allocations["a"], 1e-9)
	assert.InDelta(t, 20, snap.Allocations["b"], 1e-9)
	assert.InDelta(t, 20, snap.Allocations["c"], 1e-9)

	again, err := p.Rebalance(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, again)

	// no drift is left for the next cycle to act on
	again, err = p.Rebalance(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestRebalance_DrawdownTriggerFiresOncePerEntry(t *testing.T) {
	p, c := newTestPortfolio(t, nil)
	addRunner(t, p, &fakeRunner{name: "a"}, 50)
	addRunner(t, p, &fakeRunner{name: "b"}, 50)

	enterDrawdown := func() {
		p.state.PeakEquity = 122000
		p.state.Risk.CurrentDrawdown = (122000.0 - 100000) / 122000 * 100
	}
	rebalanceAt := func(d time.Duration) time.Time {
		c.now = t0.Add(d)
		_, err := p.Rebalance(context.Background(), false)
		require.NoError(t, err)
		return p.Snapshot().LastRebalance
	}

	enterDrawdown()
	assert.Equal(t, t0.Add(time.Minute), rebalanceAt(time.Minute))
	assert.Equal(t, t0.Add(time.Minute), rebalanceAt(2*time.Minute), "still in the zone")
	assert.Len(t, p.RebalanceHistory(), 0)

	p.state.PeakEquity = 100000
	p.state.Risk.CurrentDrawdown = 0
	assert.Equal(t, t0.Add(time.Minute), rebalanceAt(3*time.Minute))

	enterDrawdown()
	assert.Equal(t, t0.Add(4*time.Minute), rebalanceAt(4*time.Minute), "fires again after recovery")
}

func TestRebalance_ScalesPositions(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	addRunner(t, p, &fakeRunner{name: "A", signals: []core.Signal{buy("AAPL", 100, 0.5)}}, 70)
	addRunner(t, p, &fakeRunner{name: "B"}, 30)

	_, err := p.ExecuteCycle(context.Background(), dataFor([]string{"A", "B"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)
	require.Len(t, p.Snapshot().Positions, 1)

	p.strategyReturns["A"] = []float64{1, -1, 1, -1}
	p.strategyReturns["B"] = []float64{0.5, -0.5, 0.5, -0.5}
	_, err = p.Rebalance(context.Background(), true)
	require.NoError(t, err)

	// A goes from 70 to 40: its position shrinks by the same ratio
	snap := p.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.InDelta(t, 20*40.0/70, snap.Positions[0].Quantity, 1e-9)
	assert.InDelta(t, 100000, snap.TotalEquity, 1e-6)
}

func TestRebalance_NoStrategies(t *testing.T) {
	p, _ := newTestPortfolio(t, nil)
	_, err := p.Rebalance(context.Background(), true)
	assert.True(t, errors.Is(err, core.ErrRebalanceFailed))
}

func TestExecuteCycle_ArchivesSnapshot(t *testing.T) {
	store, err := archive.NewLocalFS(t.TempDir())
	require.NoError(t, err)

	p, _ := newTestPortfolio(t, nil, WithArchive(store))
	addRunner(t, p, &fakeRunner{name: "alpha", signals: []core.Signal{buy("AAPL", 100, 0.5)}}, 50)

	_, err = p.ExecuteCycle(context.Background(), dataFor([]string{"alpha"}, flatBars("AAPL", 30, 100)))
	require.NoError(t, err)

	snap, err := LoadSnapshot(context.Background(), store, archive.SnapshotKey(t0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Summary.Cycle)
	assert.Equal(t, 1, snap.Summary.Fills)
	assert.InDelta(t, 98000, snap.State.Cash, 1e-6)
	assert.Len(t, snap.Results["alpha"].Fills, 1)
}
