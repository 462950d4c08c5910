package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// periodsPerYear annualizes the per-step Sharpe ratio, assuming daily steps
const periodsPerYear = 252

// CalculateStats computes performance statistics from the equity curve and
// the trades of a replay. initial is the equity before the first step.
func CalculateStats(initial float64, curve []EquityPoint, trades []Trade) Stats {
	stats := Stats{
		Cycles: len(curve),
		Trades: len(trades),
	}

	var winning, losing int
	for _, t := range trades {
		if !t.IsClosed() {
			continue
		}
		if t.IsWin() {
			winning++
		} else {
			losing++
		}
	}
	stats.WinningTrades = winning
	stats.LosingTrades = losing
	if closed := winning + losing; closed > 0 {
		stats.WinRate = float64(winning) / float64(closed) * 100
	}

	if len(curve) == 0 || initial <= 0 {
		return stats
	}

	equity := make([]float64, 0, len(curve)+1)
	equity = append(equity, initial)
	for _, p := range curve {
		equity = append(equity, p.Equity)
	}

	stats.TotalReturn = (equity[len(equity)-1] - initial) / initial * 100
	stats.MaxDrawdown = calculateMaxDrawdown(equity) * 100
	stats.SharpeRatio = calculateSharpeRatio(stepReturns(equity))
	return stats
}

// stepReturns converts an equity series into simple per-step returns
func stepReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, equity[i]/equity[i-1]-1)
	}
	return returns
}

// calculateMaxDrawdown finds the largest peak-to-trough decline of an
// equity series as a fraction of the peak
func calculateMaxDrawdown(equity []float64) float64 {
	var maxDD, peak float64
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			if dd := (peak - e) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// calculateSharpeRatio computes risk-adjusted return
// Assumes risk-free rate of 0 for simplicity
func calculateSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, stdDev := stat.MeanStdDev(returns, nil)
	if stdDev == 0 || math.IsNaN(stdDev) {
		return 0
	}
	return mean / stdDev * math.Sqrt(periodsPerYear)
}
