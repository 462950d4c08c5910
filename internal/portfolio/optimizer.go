package portfolio

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// allocationEpsilon absorbs floating error when comparing allocations
const allocationEpsilon = 1e-9

// StrategyStats summarizes a strategy's per-cycle return history
type StrategyStats struct {
	ID         string
	Returns    []float64
	Mean       float64
	Volatility float64
	Sharpe     float64
}

// NewStrategyStats computes mean, volatility and Sharpe of returns
func NewStrategyStats(id string, returns []float64) StrategyStats {
	st := StrategyStats{ID: id, Returns: returns}
	if len(returns) == 0 {
		return st
	}
	st.Mean = stat.Mean(returns, nil)
	if len(returns) > 1 {
		st.Volatility = stat.StdDev(returns, nil)
	}
	if st.Volatility > 0 {
		st.Sharpe = st.Mean / st.Volatility
	}
	return st
}

// OptimalAllocations computes target allocations for the objective, bounded
// by [min, max] and normalized to 100. When any strategy has fewer than two
// return observations the current allocations are returned unchanged.
func OptimalAllocations(objective Objective, stats []StrategyStats, current map[string]float64, min, max float64) map[string]float64 {
	if len(stats) == 0 {
		return copyAllocations(current)
	}
	for _, st := range stats {
		if len(st.Returns) < 2 {
			return copyAllocations(current)
		}
	}

	var raw map[string]float64
	switch objective {
	case ObjectiveReturn:
		raw = proportional(stats, func(st StrategyStats) float64 { return st.Mean })
	case ObjectiveRiskAdjusted:
		raw = proportional(stats, func(st StrategyStats) float64 { return st.Sharpe })
	case ObjectiveDiversification:
		raw = equalRiskContribution(stats)
	default:
		raw = inverseVolatility(stats)
	}
	if raw == nil {
		return copyAllocations(current)
	}
	return NormalizeAllocations(raw, min, max)
}

func proportional(stats []StrategyStats, score func(StrategyStats) float64) map[string]float64 {
	out := make(map[string]float64, len(stats))
	var total float64
	for _, st := range stats {
		s := math.Max(0, score(st))
		out[st.ID] = s
		total += s
	}
	if total <= 0 {
		return nil
	}
	return out
}

func inverseVolatility(stats []StrategyStats) map[string]float64 {
	out := make(map[string]float64, len(stats))
	for _, st := range stats {
		if st.Volatility <= 0 {
			// a riskless sleeve cannot be weighted against the others
			return equalWeights(stats)
		}
		out[st.ID] = 1 / st.Volatility
	}
	return out
}

// equalRiskContribution iterates w_i <- sqrt(w_i/(Σw)_i), renormalized,
// until the risk contributions w_i(Σw)_i are equal.
func equalRiskContribution(stats []StrategyStats) map[string]float64 {
	n := len(stats)
	if n == 1 {
		return map[string]float64{stats[0].ID: 1}
	}

	length := len(stats[0].Returns)
	for _, st := range stats {
		length = min(length, len(st.Returns))
	}
	data := mat.NewDense(length, n, nil)
	for j, st := range stats {
		tail := st.Returns[len(st.Returns)-length:]
		for i, r := range tail {
			data.Set(i, j, r)
		}
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	w := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		w.SetVec(i, 1/float64(n))
	}
	var sw mat.VecDense
	for iter := 0; iter < 200; iter++ {
		sw.MulVec(&cov, w)
		next := mat.NewVecDense(n, nil)
		var sum float64
		for i := 0; i < n; i++ {
			marginal := sw.AtVec(i)
			if marginal <= 0 || math.IsNaN(marginal) {
				return inverseVolatility(stats)
			}
			v := math.Sqrt(w.AtVec(i) / marginal)
			next.SetVec(i, v)
			sum += v
		}
		next.ScaleVec(1/sum, next)
		var diff mat.VecDense
		diff.SubVec(next, w)
		w = next
		if mat.Norm(&diff, 2) < 1e-10 {
			break
		}
	}

	out := make(map[string]float64, n)
	for i, st := range stats {
		out[st.ID] = w.AtVec(i)
	}
	return out
}

func equalWeights(stats []StrategyStats) map[string]float64 {
	out := make(map[string]float64, len(stats))
	for _, st := range stats {
		out[st.ID] = 1
	}
	return out
}

// NormalizeAllocations scales weights to sum to 100 and enforces [min, max]
// per entry. Entries take clamp(w*s, min, max) for the single scale s that
// makes the total 100, so clamping at both bounds in one call still sums to
// 100. Bounds that cannot be met together are ignored.
func NormalizeAllocations(weights map[string]float64, min, max float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	if len(weights) == 0 {
		return out
	}

	ids := sortedKeys(weights)
	var total float64
	for _, id := range ids {
		total += math.Max(0, weights[id])
	}
	for _, id := range ids {
		if total > 0 {
			out[id] = math.Max(0, weights[id]) / total * 100
		} else {
			out[id] = 100 / float64(len(ids))
		}
	}

	n := float64(len(ids))
	if n*min > 100+allocationEpsilon || n*max < 100-allocationEpsilon {
		return out
	}
	inBounds := true
	for _, id := range ids {
		if out[id] < min-allocationEpsilon || out[id] > max+allocationEpsilon {
			inBounds = false
			break
		}
	}
	if inBounds {
		return out
	}

	base := make(map[string]float64, len(out))
	smallest := math.Inf(1)
	for id, v := range out {
		base[id] = v
		if v > 0 && v < smallest {
			smallest = v
		}
	}
	scaled := func(scale float64) float64 {
		var sum float64
		for _, id := range ids {
			out[id] = clampFloat(base[id]*scale, min, max)
			sum += out[id]
		}
		return sum
	}

	// the total is nondecreasing in scale; bisect from below
	lo, hi := 0.0, max/smallest+1
	for i := 0; i < 200 && hi-lo > 1e-15*hi; i++ {
		mid := (lo + hi) / 2
		if scaled(mid) > 100 {
			hi = mid
		} else {
			lo = mid
		}
	}
	sum := scaled(lo)

	// spread what is left over the entries with headroom below max
	if residual := 100 - sum; residual > 0 {
		var room float64
		for _, id := range ids {
			room += max - out[id]
		}
		if room > 0 {
			for _, id := range ids {
				out[id] += residual * (max - out[id]) / room
			}
		}
	}
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// GenerateRebalancingActions returns one action per strategy whose
// allocation drifts from its optimum by more than threshold. Equal
// allocations yield no actions.
func GenerateRebalancingActions(current, optimal map[string]float64, threshold, equity float64) []RebalancingAction {
	return generateActions(current, optimal, threshold, equity, nil, time.Time{})
}

func generateActions(current, optimal map[string]float64, threshold, equity float64, stats map[string]StrategyStats, now time.Time) []RebalancingAction {
	var actions []RebalancingAction
	for _, id := range sortedKeys(optimal) {
		cur, target := current[id], optimal[id]
		drift := target - cur
		if math.Abs(drift) <= threshold {
			continue
		}
		a := RebalancingAction{
			ID:                uuid.NewString(),
			StrategyID:        id,
			CurrentAllocation: cur,
			TargetAllocation:  target,
			Amount:            drift / 100 * equity,
			Reason:            fmt.Sprintf("allocation drift %.2f exceeds threshold %.2f", math.Abs(drift), threshold),
			CreatedAt:         now,
		}
		if st, ok := stats[id]; ok {
			a.ExpectedImpact = Impact{
				ReturnChange: drift / 100 * st.Mean,
				RiskChange:   drift / 100 * st.Volatility,
			}
		}
		actions = append(actions, a)
	}
	return actions
}

// maxDrift returns the largest absolute difference between allocations
func maxDrift(current, optimal map[string]float64) float64 {
	var d float64
	for id, target := range optimal {
		d = math.Max(d, math.Abs(target-current[id]))
	}
	return d
}

func copyAllocations(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
