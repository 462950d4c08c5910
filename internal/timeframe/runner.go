package timeframe

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/graph"
)

// Result is the outcome of a fused multi-timeframe evaluation
type Result struct {
	Signals          []core.Signal
	AlignmentQuality float64
	// Contributions is keyed by primary signal ID.
	Contributions map[string][]Contribution
	Evaluations   map[string]graph.Result
	Warnings      []graph.Warning
}

// EvaluateAll evaluates g once per timeframe against that timeframe's own
// bars. Evaluations run concurrently; the call returns early with ctx's error
// if ctx is done before every evaluation has started.
func EvaluateAll(ctx context.Context, g *graph.Graph, buffers map[string][]core.Bar, timeframes []string) (map[string]graph.Result, error) {
	results := make([]graph.Result, len(timeframes))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, tf := range timeframes {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = graph.Evaluate(g, buffers[tf])
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]graph.Result, len(timeframes))
	for i, tf := range timeframes {
		out[tf] = results[i]
	}
	return out, nil
}

// Run evaluates every configured timeframe, fuses the primary signals with
// the secondaries and deduplicates the result. Signals are tagged with the
// timeframe that produced them.
func Run(ctx context.Context, g *graph.Graph, buffers map[string][]core.Bar, cfg Config) (Result, error) {
	cfg = cfg.WithDefaults()
	timeframes := cfg.Timeframes()

	evals, err := EvaluateAll(ctx, g, buffers, timeframes)
	if err != nil {
		return Result{}, err
	}

	last := make(map[string]time.Time, len(timeframes))
	var warnings []graph.Warning
	for _, tf := range timeframes {
		last[tf] = time.Time{}
		if bars := buffers[tf]; len(bars) > 0 {
			last[tf] = bars[len(bars)-1].Time
		}
		for _, w := range evals[tf].Warnings {
			w.Message = tf + ": " + w.Message
			warnings = append(warnings, w)
		}
	}

	primary := tagTimeframe(evals[cfg.Primary].Signals, cfg.Primary)
	secondary := make(map[string][]core.Signal, len(cfg.Secondary))
	for _, tf := range cfg.Secondary {
		secondary[tf] = tagTimeframe(evals[tf].Signals, tf)
	}

	fused, contributions := Fuse(primary, secondary, cfg)
	return Result{
		Signals:          Dedup(fused, cfg.DedupBucket),
		AlignmentQuality: AlignmentQuality(last, cfg.MaxSkew),
		Contributions:    contributions,
		Evaluations:      evals,
		Warnings:         warnings,
	}, nil
}

func tagTimeframe(signals []core.Signal, tf string) []core.Signal {
	out := make([]core.Signal, len(signals))
	for i, s := range signals {
		s.Timeframe = tf
		out[i] = s
	}
	return out
}
