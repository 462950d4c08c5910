package portfolio

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/newthinker/signalflow/internal/risk"
)

// HistoricalVaR returns the loss not exceeded with the given confidence,
// estimated from the empirical distribution of returns. The result is a
// positive number in the unit of returns; 0 when there is no loss tail.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	q := stat.Quantile(1-confidence, stat.Empirical, sorted, nil)
	return math.Max(0, -q)
}

// HistoricalCVaR returns the mean loss over returns at or below the VaR
// quantile. It is never smaller than HistoricalVaR.
func HistoricalCVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	q := stat.Quantile(1-confidence, stat.Empirical, sorted, nil)

	var tail []float64
	for _, r := range sorted {
		if r > q {
			break
		}
		tail = append(tail, r)
	}
	return math.Max(0, -stat.Mean(tail, nil))
}

// Herfindahl returns the sum of squared normalized weights: 1/n for n equal
// weights and 1 for a single holding. Empty or all-zero input gives 0.
func Herfindahl(weights []float64) float64 {
	var total float64
	for _, w := range weights {
		total += math.Abs(w)
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, w := range weights {
		s := math.Abs(w) / total
		h += s * s
	}
	return h
}

// CorrelationRisk returns the weight-averaged absolute pairwise correlation
// of the held symbols' returns, Σ wᵢwⱼ|ρᵢⱼ| / Σ wᵢwⱼ over i < j. Symbols
// without a history are ignored.
func CorrelationRisk(weights map[string]float64, histories map[string][]float64) float64 {
	type series struct {
		weight  float64
		returns []float64
	}
	var held []series
	for _, sym := range sortedKeys(weights) {
		h, ok := histories[sym]
		if !ok || weights[sym] <= 0 {
			continue
		}
		if r := risk.Returns(h); len(r) >= 2 {
			held = append(held, series{weight: weights[sym], returns: r})
		}
	}

	var num, den float64
	for i := 0; i < len(held); i++ {
		for j := i + 1; j < len(held); j++ {
			w := held[i].weight * held[j].weight
			num += w * math.Abs(risk.Correlation(held[i].returns, held[j].returns))
			den += w
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// computeRisk derives the risk snapshot from positions, histories and the
// portfolio's cycle returns (in percent).
func computeRisk(st *State, view risk.View, returns []float64, confidence float64) RiskMetrics {
	m := RiskMetrics{
		PortfolioRisk:   view.UsedHeat(),
		CurrentDrawdown: st.Risk.CurrentDrawdown,
		MaxDrawdown:     st.Risk.MaxDrawdown,
	}

	symbolWeights := make(map[string]float64)
	sectorWeights := make(map[string]float64)
	weights := make([]float64, 0, len(st.Positions))
	for _, p := range st.Positions {
		weights = append(weights, p.Allocation)
		symbolWeights[p.Symbol] += p.Allocation
		if p.Sector != "" {
			sectorWeights[p.Sector] += p.Allocation
		}
	}
	for _, w := range symbolWeights {
		m.PositionRisk = math.Max(m.PositionRisk, w)
	}
	for _, w := range sectorWeights {
		m.SectorRisk = math.Max(m.SectorRisk, w)
	}

	m.Concentration = Herfindahl(weights)
	m.CorrelationRisk = CorrelationRisk(symbolWeights, view.Histories)
	m.VaR = HistoricalVaR(returns, confidence)
	m.CVaR = HistoricalCVaR(returns, confidence)
	if len(returns) > 1 {
		m.VolatilityRisk = stat.StdDev(returns, nil)
	}
	return m
}
