package portfolio

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/newthinker/signalflow/internal/alert"
	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/metrics"
	"github.com/newthinker/signalflow/internal/risk"
	"github.com/newthinker/signalflow/internal/storage/archive"
	"github.com/newthinker/signalflow/internal/storage/signal"
	"github.com/newthinker/signalflow/internal/strategy"
)

// Portfolio owns the strategies, the account state and the rebalancing and
// alert logs. All state mutation happens inside ExecuteCycle, Rebalance and
// the strategy lifecycle methods, serialized by one mutex.
type Portfolio struct {
	cfg       Config
	logger    *zap.Logger
	sizer     *risk.Sizer
	engine    *strategy.Engine
	schedule  cron.Schedule
	evaluator *alert.Evaluator
	rules     []alert.Rule
	alertLog  *alert.Log
	notifiers []alert.Notifier

	metrics *metrics.Registry
	journal signal.Store
	archive archive.Storage
	now     func() time.Time

	defs  map[string]strategy.Definition
	state State

	// returns holds portfolio cycle returns and strategyReturns each
	// strategy's, both in percent and bounded by ReturnsWindow.
	returns         []float64
	strategyReturns map[string][]float64
	// cyclePnL is each strategy's mark-to-market profit in the running cycle.
	cyclePnL map[string]float64
	history  []RebalancingAction
	last     CycleSummary
	// drawdownTriggered is set by a rebalance inside the drawdown zone and
	// cleared once drawdown falls back below it.
	drawdownTriggered bool

	mu sync.Mutex
}

// Option configures a Portfolio
type Option func(*Portfolio)

// WithMetrics records pipeline metrics into reg
func WithMetrics(reg *metrics.Registry) Option {
	return func(p *Portfolio) { p.metrics = reg }
}

// WithJournal replaces the default in-memory signal journal
func WithJournal(store signal.Store) Option {
	return func(p *Portfolio) { p.journal = store }
}

// WithArchive writes a state snapshot after every cycle
func WithArchive(store archive.Storage) Option {
	return func(p *Portfolio) { p.archive = store }
}

// WithNotifier delivers fired alerts to n in addition to the log
func WithNotifier(n alert.Notifier) Option {
	return func(p *Portfolio) { p.notifiers = append(p.notifiers, n) }
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(p *Portfolio) { p.now = now }
}

// New validates cfg and creates an empty portfolio holding the initial
// capital in cash.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Portfolio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sizer, err := risk.NewSizer(cfg.Risk, logger.Named("risk"))
	if err != nil {
		return nil, err
	}
	sched, err := parseSchedule(cfg.RebalanceSchedule)
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}

	p := &Portfolio{
		cfg:             cfg,
		logger:          logger,
		sizer:           sizer,
		engine:          strategy.NewEngine(logger.Named("strategy")),
		schedule:        sched,
		alertLog:        alert.NewLog(cfg.AlertLogSize),
		now:             time.Now,
		defs:            make(map[string]strategy.Definition),
		strategyReturns: make(map[string][]float64),
		cyclePnL:        make(map[string]float64),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.journal == nil {
		p.journal = signal.NewMemoryStore(signal.DefaultCapacity)
	}

	p.evaluator = alert.NewEvaluator(append([]alert.Notifier{alert.NewLogNotifier(logger.Named("alert"))}, p.notifiers...))
	p.evaluator.SetLogger(logger)
	p.evaluator.SetClock(func() time.Time { return p.now() })
	p.evaluator.SetCooldown(cfg.AlertCooldown)
	if cfg.AlertRate > 0 {
		p.evaluator.SetRateLimit(rate.Limit(cfg.AlertRate), max(cfg.AlertBurst, 1))
	}
	p.rules = append(DefaultAlertRules(cfg), cfg.AlertRules...)

	now := p.now()
	p.state = State{
		Allocations:   make(map[string]float64),
		Strategies:    make(map[string]Status),
		TotalEquity:   cfg.InitialCapital,
		Cash:          cfg.InitialCapital,
		PeakEquity:    cfg.InitialCapital,
		Phase:         PhaseIdle,
		LastRebalance: now,
		NextRebalance: sched.Next(now),
		UpdatedAt:     now,
	}
	return p, nil
}

// Config returns the portfolio's configuration
func (p *Portfolio) Config() Config {
	return p.cfg
}

// AddStrategy registers a graph strategy. It fails when the strategy limit
// is reached or the ID is taken. When the allocations would exceed 100%
// they are scaled back to 100 within the per-strategy bounds.
func (p *Portfolio) AddStrategy(def strategy.Definition) error {
	gs, err := strategy.NewGraphStrategy(def)
	if err != nil {
		return err
	}
	return p.AddRunner(gs, def)
}

// AddRunner registers an arbitrary strategy implementation under def's
// allocation, constraints and enabled flag. def.Graph is not required.
func (p *Portfolio) AddRunner(s strategy.Strategy, def strategy.Definition) error {
	if def.ID == "" {
		def.ID = s.Name()
	}
	if def.ID != s.Name() {
		return core.Errorf(core.ErrConfigInvalid, "strategy id %q does not match runner %q", def.ID, s.Name())
	}
	if def.Allocation < 0 || def.Allocation > 100 {
		return core.Errorf(core.ErrConfigInvalid, "strategy %s: allocation %.2f outside [0,100]", def.ID, def.Allocation)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.defs[def.ID]; exists {
		return core.Errorf(core.ErrStrategyExists, "%s", def.ID)
	}
	if len(p.defs) >= p.cfg.MaxStrategies {
		return core.Errorf(core.ErrStrategyLimit, "cannot add %s: %d strategies already registered", def.ID, p.cfg.MaxStrategies)
	}

	p.defs[def.ID] = def
	p.engine.Register(s)
	p.state.Allocations[def.ID] = def.Allocation
	if sum := p.state.AllocationSum(); sum > 100+allocationEpsilon {
		p.state.Allocations = NormalizeAllocations(p.state.Allocations,
			p.cfg.MinStrategyAllocation, p.cfg.MaxStrategyAllocation)
		p.logger.Info("allocations renormalized",
			zap.String("strategy", def.ID),
			zap.Float64("sum", sum),
		)
	}
	p.state.Strategies[def.ID] = StatusInactive
	if def.Enabled {
		p.state.Strategies[def.ID] = StatusActive
	}

	p.logger.Info("strategy added",
		zap.String("strategy", def.ID),
		zap.Float64("allocation", def.Allocation),
		zap.Bool("active", def.Enabled),
	)
	return nil
}

// RemoveStrategy unregisters a strategy, closing its positions at their
// current price. The remaining count may not drop below MinStrategies.
func (p *Portfolio) RemoveStrategy(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.defs[id]; !ok {
		return core.Errorf(core.ErrStrategyNotFound, "%s", id)
	}
	if len(p.defs)-1 < p.cfg.MinStrategies {
		return core.Errorf(core.ErrStrategyLimit, "cannot remove %s: at least %d strategies required", id, p.cfg.MinStrategies)
	}

	var closed int
	kept := p.state.Positions[:0]
	for _, pos := range p.state.Positions {
		if pos.StrategyID != id {
			kept = append(kept, pos)
			continue
		}
		p.realize(pos, pos.Quantity, pos.CurrentPrice)
		closed++
	}
	p.state.Positions = kept

	delete(p.defs, id)
	delete(p.state.Allocations, id)
	delete(p.state.Strategies, id)
	delete(p.strategyReturns, id)
	p.engine.Unregister(id)
	p.revalue()

	p.logger.Info("strategy removed",
		zap.String("strategy", id),
		zap.Int("positions_closed", closed),
	)
	return nil
}

// Activate marks a registered strategy active
func (p *Portfolio) Activate(id string) error {
	return p.setStatus(id, StatusActive)
}

// Deactivate stops running a strategy; its positions stay open
func (p *Portfolio) Deactivate(id string) error {
	return p.setStatus(id, StatusInactive)
}

func (p *Portfolio) setStatus(id string, status Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.defs[id]; !ok {
		return core.Errorf(core.ErrStrategyNotFound, "%s", id)
	}
	p.state.Strategies[id] = status
	return nil
}

// Strategies returns the registered strategy definitions sorted by ID
func (p *Portfolio) Strategies() []strategy.Definition {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]strategy.Definition, 0, len(p.defs))
	for _, id := range sortedKeys(p.defs) {
		out = append(out, p.defs[id])
	}
	return out
}

// Snapshot returns a deep copy of the current state
func (p *Portfolio) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Clone()
}

// Alerts returns the alert log, oldest first
func (p *Portfolio) Alerts() []alert.Alert {
	return p.alertLog.All()
}

// RebalanceHistory returns the applied and failed rebalancing actions,
// oldest first.
func (p *Portfolio) RebalanceHistory() []RebalancingAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RebalancingAction(nil), p.history...)
}

// LastCycle summarizes the most recent cycle
func (p *Portfolio) LastCycle() CycleSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// activeIDs returns the IDs of active strategies, sorted
func (p *Portfolio) activeIDs() []string {
	var ids []string
	for id, status := range p.state.Strategies {
		if status == StatusActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// realize closes qty of pos at price, crediting cash and booking P&L. It
// returns the realized profit.
func (p *Portfolio) realize(pos Position, qty, price float64) float64 {
	pnl := (price - pos.EntryPrice) * qty
	p.state.Cash += qty * price
	p.state.Performance.RealizedPnL += pnl
	p.state.Performance.Trades++
	if pnl > 0 {
		p.state.Performance.WinningTrades++
	} else if pnl < 0 {
		p.state.Performance.LosingTrades++
	}
	return pnl
}

// revalue recomputes equity, position weights, peak and drawdown from the
// current prices without touching return histories.
func (p *Portfolio) revalue() {
	st := &p.state
	st.TotalEquity = st.Cash + st.Invested("")
	for i := range st.Positions {
		pos := &st.Positions[i]
		pos.UnrealizedPnL = (pos.CurrentPrice - pos.EntryPrice) * pos.Quantity
		pos.Allocation = 0
		if st.TotalEquity > 0 {
			pos.Allocation = pos.MarketValue() / st.TotalEquity * 100
		}
	}
	if st.TotalEquity > st.PeakEquity {
		st.PeakEquity = st.TotalEquity
	}
	st.Risk.CurrentDrawdown = 0
	if st.PeakEquity > 0 {
		st.Risk.CurrentDrawdown = (st.PeakEquity - st.TotalEquity) / st.PeakEquity * 100
	}
	if st.Risk.CurrentDrawdown > st.Risk.MaxDrawdown {
		st.Risk.MaxDrawdown = st.Risk.CurrentDrawdown
	}
	st.Performance.TotalReturn = (st.TotalEquity - p.cfg.InitialCapital) / p.cfg.InitialCapital * 100
	st.UpdatedAt = p.now()
}

// view builds the sizing engine's read-only slice of the state
func (p *Portfolio) view(histories map[string][]float64) risk.View {
	v := risk.View{
		Equity:          p.state.TotalEquity,
		CurrentDrawdown: p.state.Risk.CurrentDrawdown,
		Histories:       histories,
	}
	for _, pos := range p.state.Positions {
		v.Exposures = append(v.Exposures, risk.Exposure{
			Symbol:       pos.Symbol,
			Sector:       pos.Sector,
			Weight:       pos.Allocation,
			StopFraction: pos.StopFraction,
		})
	}
	return v
}

func (p *Portfolio) observe(fn func(*metrics.Registry)) {
	if p.metrics != nil {
		fn(p.metrics)
	}
}

func appendBounded(series []float64, v float64, window int) []float64 {
	series = append(series, v)
	if window > 0 && len(series) > window {
		series = append([]float64(nil), series[len(series)-window:]...)
	}
	return series
}
