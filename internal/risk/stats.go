package risk

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Returns converts prices to simple period returns
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			out[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return out
}

// Volatility is the sample standard deviation of the last window returns.
// It reports false when fewer than window returns are available.
func Volatility(returns []float64, window int) (float64, bool) {
	if window < 2 || len(returns) < window {
		return 0, false
	}
	return stat.StdDev(returns[len(returns)-window:], nil), true
}

// Correlation is the Pearson correlation of the overlapping tails of two
// return series. Series shorter than three points, or with zero variance,
// are treated as uncorrelated.
func Correlation(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n < 3 {
		return 0
	}
	x, y := a[len(a)-n:], b[len(b)-n:]
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) {
		return 0
	}
	return c
}

// MeanAbsCorrelation averages |corr(target, other)| over others. It reports
// false when no other series could be compared.
func MeanAbsCorrelation(target []float64, others [][]float64) (float64, bool) {
	if len(target) < 3 {
		return 0, false
	}
	var sum float64
	var n int
	for _, o := range others {
		if len(o) < 3 {
			continue
		}
		sum += math.Abs(Correlation(target, o))
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// MeanPairwiseCorrelation averages |corr| over every pair of series
func MeanPairwiseCorrelation(series [][]float64) (float64, bool) {
	var sum float64
	var n int
	for i := 0; i < len(series); i++ {
		for j := i + 1; j < len(series); j++ {
			if len(series[i]) < 3 || len(series[j]) < 3 {
				continue
			}
			sum += math.Abs(Correlation(series[i], series[j]))
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
