package backtest

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/portfolio"
	"github.com/newthinker/signalflow/internal/strategy"
	"github.com/newthinker/signalflow/internal/timeframe"
)

var day0 = time.Date(2024, 1, 1, 21, 0, 0, 0, time.UTC)

// scriptedStrategy emits the signal scheduled for the latest bar's time
type scriptedStrategy struct {
	name    string
	symbol  string
	script  map[time.Time]core.Action
	err     error
	analyze int
}

func (s *scriptedStrategy) Name() string { return s.name }

func (s *scriptedStrategy) Analyze(ctx context.Context, data strategy.MarketData) (strategy.Output, error) {
	s.analyze++
	if s.err != nil {
		return strategy.Output{}, s.err
	}
	bars := data.Buffers["1d"]
	if len(bars) == 0 {
		return strategy.Output{}, nil
	}
	last := bars[len(bars)-1]
	action, ok := s.script[last.Time]
	if !ok {
		return strategy.Output{AlignmentQuality: 1}, nil
	}
	sig := core.Signal{
		Strategy:    s.name,
		Timeframe:   "1d",
		Symbol:      s.symbol,
		Action:      action,
		Confidence:  0.5,
		GeneratedAt: last.Time,
	}
	return strategy.Output{Signals: []core.Signal{sig}, AlignmentQuality: 1}, nil
}

func dayAt(i int) time.Time {
	return day0.AddDate(0, 0, i)
}

// stepBars returns n daily bars closing at 100 that jump to 105 from index jump on
func stepBars(symbol string, n, jump int) []core.Bar {
	bars := make([]core.Bar, n)
	for i := range bars {
		price := 100.0
		if i >= jump {
			price = 105
		}
		bars[i] = core.Bar{
			Symbol:    symbol,
			Timeframe: "1d",
			Time:      dayAt(i),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars
}

func newPortfolio(t *testing.T, bt *Backtester, runners ...*scriptedStrategy) *portfolio.Portfolio {
	t.Helper()
	p, err := portfolio.New(portfolio.DefaultConfig(), nil, portfolio.WithClock(bt.Clock().Now))
	if err != nil {
		t.Fatalf("portfolio.New() error = %v", err)
	}
	for _, r := range runners {
		def := strategy.Definition{
			ID:         r.name,
			Symbol:     r.symbol,
			Timeframes: timeframe.Config{Primary: "1d"},
			Allocation: 50,
			Enabled:    true,
		}
		if err := p.AddRunner(r, def); err != nil {
			t.Fatalf("AddRunner() error = %v", err)
		}
	}
	return p
}

func TestBacktester_Run(t *testing.T) {
	bars := stepBars("AAPL", 40, 30)
	bt := New(500, 29, nil)
	bt.Clock().Set(bars[0].Time)

	strat := &scriptedStrategy{
		name:   "trend",
		symbol: "AAPL",
		script: map[time.Time]core.Action{
			dayAt(29): core.ActionBuy,
			dayAt(35): core.ActionSell,
		},
	}
	// a silent second sleeve keeps the optimizer at an even split
	p := newPortfolio(t, bt, strat, &scriptedStrategy{name: "idle", symbol: "AAPL"})

	result, err := bt.Run(context.Background(), p, bars)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Stats.Cycles != 11 {
		t.Errorf("Cycles = %d, want 11", result.Stats.Cycles)
	}
	if strat.analyze != 11 {
		t.Errorf("strategy ran %d times, want 11", strat.analyze)
	}
	if len(result.Curve) != 11 {
		t.Fatalf("curve has %d points, want 11", len(result.Curve))
	}
	if !result.Curve[0].Time.Equal(dayAt(29)) {
		t.Errorf("first cycle at %v, want %v", result.Curve[0].Time, dayAt(29))
	}

	// entry of 2% of equity at 100, exit at 105
	if result.Stats.Trades != 2 {
		t.Fatalf("Trades = %d, want 2", result.Stats.Trades)
	}
	entry := result.Trades[0]
	if entry.Fill.Action != core.ActionBuy || math.Abs(entry.Fill.Quantity-20) > 1e-9 {
		t.Errorf("entry = %+v, want buy of 20", entry.Fill)
	}
	if !result.Trades[1].IsClosed() || !result.Trades[1].IsWin() {
		t.Errorf("exit = %+v, want a winning sell", result.Trades[1].Fill)
	}
	if result.Stats.WinningTrades != 1 || result.Stats.WinRate != 100 {
		t.Errorf("WinningTrades = %d WinRate = %f, want 1 and 100", result.Stats.WinningTrades, result.Stats.WinRate)
	}

	if math.Abs(result.FinalEquity-100100) > 1e-6 {
		t.Errorf("FinalEquity = %f, want 100100", result.FinalEquity)
	}
	if math.Abs(result.Stats.TotalReturn-0.1) > 1e-9 {
		t.Errorf("TotalReturn = %f, want 0.1", result.Stats.TotalReturn)
	}
	if result.Stats.MaxDrawdown != 0 {
		t.Errorf("MaxDrawdown = %f, want 0", result.Stats.MaxDrawdown)
	}
	if got := result.Final.Allocations["trend"]; math.Abs(got-50) > 1e-9 {
		t.Errorf("trend allocation = %f, want 50", got)
	}
	if len(result.Final.Positions) != 0 {
		t.Errorf("expected no open positions, got %d", len(result.Final.Positions))
	}
	if !result.StartDate.Equal(dayAt(0)) || !result.EndDate.Equal(dayAt(39)) {
		t.Errorf("range = %v..%v", result.StartDate, result.EndDate)
	}
}

func TestBacktester_Run_SkipsFailedSteps(t *testing.T) {
	bars := stepBars("AAPL", 10, 10)
	bt := New(500, 0, nil)
	strat := &scriptedStrategy{name: "broken", symbol: "AAPL", err: errors.New("feed down")}
	p := newPortfolio(t, bt, strat)

	result, err := bt.Run(context.Background(), p, bars)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Stats.Skipped != 10 {
		t.Errorf("Skipped = %d, want 10", result.Stats.Skipped)
	}
	if result.Stats.Cycles != 0 || len(result.Curve) != 0 {
		t.Errorf("expected no completed cycles, got %d", result.Stats.Cycles)
	}
	if result.FinalEquity != result.InitialEquity {
		t.Errorf("FinalEquity = %f, want %f", result.FinalEquity, result.InitialEquity)
	}
}

func TestBacktester_Run_NoData(t *testing.T) {
	bt := New(500, 0, nil)
	p := newPortfolio(t, bt, &scriptedStrategy{name: "a", symbol: "AAPL"})

	_, err := bt.Run(context.Background(), p, nil)
	if !errors.Is(err, core.ErrNoData) {
		t.Errorf("Run() error = %v, want NO_DATA", err)
	}
}

func TestBacktester_Run_NoStrategies(t *testing.T) {
	bt := New(500, 0, nil)
	p := newPortfolio(t, bt)

	_, err := bt.Run(context.Background(), p, stepBars("AAPL", 5, 5))
	if !errors.Is(err, core.ErrNoViableExecution) {
		t.Errorf("Run() error = %v, want NO_VIABLE_EXECUTION", err)
	}
}

func TestBacktester_Run_ContextCancellation(t *testing.T) {
	bt := New(500, 0, nil)
	p := newPortfolio(t, bt, &scriptedStrategy{name: "a", symbol: "AAPL"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := bt.Run(ctx, p, stepBars("AAPL", 100, 100))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestGroupByTime(t *testing.T) {
	bars := []core.Bar{
		{Symbol: "B", Time: dayAt(1), Close: 2},
		{Symbol: "A", Time: dayAt(0), Close: 1},
		{Symbol: "A", Time: dayAt(1), Close: 3},
	}
	steps := groupByTime(bars)
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if len(steps[0].bars) != 1 || steps[0].bars[0].Symbol != "A" {
		t.Errorf("first step = %+v", steps[0].bars)
	}
	// input order kept within a timestamp
	if len(steps[1].bars) != 2 || steps[1].bars[0].Symbol != "B" || steps[1].bars[1].Symbol != "A" {
		t.Errorf("second step = %+v", steps[1].bars)
	}
}

func TestLoadBars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.yaml")
	content := `bars:
  - symbol: AAPL
    timeframe: 1d
    time: 2024-01-02T21:00:00Z
    open: 100
    high: 102
    low: 99
    close: 101
    volume: 1500
  - symbol: AAPL
    timeframe: 1d
    time: 2024-01-03T21:00:00Z
    open: 101
    high: 104
    low: 100
    close: 103
    volume: 1700
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	bars, err := LoadBars(path)
	if err != nil {
		t.Fatalf("LoadBars() error = %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[1].Close != 103 || bars[1].Timeframe != "1d" {
		t.Errorf("bar = %+v", bars[1])
	}
	if !bars[0].Time.Equal(time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)) {
		t.Errorf("time = %v", bars[0].Time)
	}
}

func TestLoadBars_Invalid(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("bars: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBars(empty); !errors.Is(err, core.ErrNoData) {
		t.Errorf("empty file error = %v, want NO_DATA", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("bars:\n  - symbol: AAPL\n    close: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBars(bad); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("invalid bar error = %v, want CONFIG_INVALID", err)
	}

	if _, err := LoadBars(filepath.Join(dir, "missing.yaml")); !errors.Is(err, core.ErrNoData) {
		t.Errorf("missing file error = %v, want NO_DATA", err)
	}
}
