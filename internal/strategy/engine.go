package strategy

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newthinker/signalflow/internal/core"
)

// Engine manages and runs strategies
type Engine struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	logger     *zap.Logger
}

// NewEngine creates a new strategy engine
func NewEngine(logger ...*zap.Logger) *Engine {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	return &Engine{
		strategies: make(map[string]Strategy),
		logger:     l,
	}
}

// Register adds a strategy to the engine, replacing one with the same name
func (e *Engine) Register(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[s.Name()] = s
}

// Unregister removes a strategy by name
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.strategies, name)
}

// Get retrieves a strategy by name
func (e *Engine) Get(name string) (Strategy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.strategies[name]
	return s, ok
}

// GetAll returns all registered strategies sorted by name
func (e *Engine) GetAll() []Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Run executes the named strategies concurrently, each against its own
// market data and bounded by timeout. A strategy that fails, panics or
// times out yields a Result carrying the error; it never affects siblings
// and never fails the call. Run returns once every strategy has a result.
func (e *Engine) Run(ctx context.Context, names []string, data map[string]MarketData, timeout time.Duration) map[string]Result {
	results := make([]Result, len(names))

	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range names {
		eg.Go(func() error {
			results[i] = e.runOne(ctx, name, data[name], timeout)
			return nil
		})
	}
	_ = eg.Wait()

	out := make(map[string]Result, len(names))
	for _, r := range results {
		out[r.StrategyID] = r
	}
	return out
}

func (e *Engine) runOne(ctx context.Context, name string, data MarketData, timeout time.Duration) Result {
	start := time.Now()
	res := Result{StrategyID: name}

	s, ok := e.Get(name)
	if !ok {
		res.Err = core.WrapError(core.ErrStrategyNotFound, fmt.Errorf("%s", name))
		return res
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		out Output
		err error
	}
	// buffered so an abandoned analysis can still finish and exit
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: core.WrapError(core.ErrStrategyFailed, fmt.Errorf("panic: %v", r))}
			}
		}()
		out, err := s.Analyze(runCtx, data)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		res.Duration = time.Since(start)
		if o.err != nil {
			var coded *core.Error
			if !errors.As(o.err, &coded) {
				o.err = core.WrapError(core.ErrStrategyFailed, o.err)
			}
			res.Err = o.err
			e.logger.Warn("strategy analysis failed",
				zap.String("strategy", name),
				zap.Error(o.err),
			)
			return res
		}
		for i := range o.out.Signals {
			o.out.Signals[i].Strategy = name
		}
		res.Signals = o.out.Signals
		res.Warnings = o.out.Warnings
		res.AlignmentQuality = o.out.AlignmentQuality
		return res

	case <-runCtx.Done():
		res.Duration = time.Since(start)
		res.Err = core.WrapError(core.ErrStrategyTimeout, runCtx.Err())
		e.logger.Warn("strategy analysis abandoned",
			zap.String("strategy", name),
			zap.Duration("elapsed", res.Duration),
			zap.Error(runCtx.Err()),
		)
		return res
	}
}
