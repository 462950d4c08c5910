package strategy

import (
	"context"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/graph"
	"github.com/newthinker/signalflow/internal/timeframe"
)

// GraphStrategy evaluates a Definition's graph, fusing timeframes when the
// definition has secondaries.
type GraphStrategy struct {
	def Definition
}

// NewGraphStrategy validates def and wraps it as a Strategy
func NewGraphStrategy(def Definition) (*GraphStrategy, error) {
	if def.Timeframes.Primary == "" {
		def.Timeframes.Primary = timeframe.DefaultConfig().Primary
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	def.Timeframes = def.Timeframes.WithDefaults()
	return &GraphStrategy{def: def}, nil
}

func (s *GraphStrategy) Name() string { return s.def.ID }

// Definition returns the strategy's definition
func (s *GraphStrategy) Definition() Definition { return s.def }

// Analyze runs the graph over data
func (s *GraphStrategy) Analyze(ctx context.Context, data MarketData) (Output, error) {
	cfg := s.def.Timeframes

	if !cfg.MultiTimeframe() {
		res := graph.Evaluate(s.def.Graph, data.Buffers[cfg.Primary])
		signals := make([]core.Signal, len(res.Signals))
		for i, sig := range res.Signals {
			sig.Timeframe = cfg.Primary
			signals[i] = sig
		}
		return Output{
			Signals:          timeframe.Dedup(signals, cfg.DedupBucket),
			Warnings:         res.Warnings,
			AlignmentQuality: 1,
		}, nil
	}

	res, err := timeframe.Run(ctx, s.def.Graph, data.Buffers, cfg)
	if err != nil {
		return Output{}, err
	}
	return Output{
		Signals:          res.Signals,
		Warnings:         res.Warnings,
		AlignmentQuality: res.AlignmentQuality,
	}, nil
}
