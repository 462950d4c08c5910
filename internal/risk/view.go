package risk

// Exposure is one open position as seen by the sizing engine
type Exposure struct {
	Symbol string
	Sector string
	// Weight is the position's market value as a percentage of equity.
	Weight float64
	// StopFraction is the fractional distance from price to stop.
	StopFraction float64
}

// RiskContribution is the equity fraction lost if the position is stopped out
func (e Exposure) RiskContribution() float64 {
	return e.Weight / 100 * e.StopFraction
}

// View is the read-only slice of portfolio state needed for sizing and
// blocking decisions.
type View struct {
	Equity float64
	// CurrentDrawdown is the percentage decline of equity from its peak.
	CurrentDrawdown float64
	Exposures       []Exposure
	// Histories holds recent closes per symbol, oldest first.
	Histories map[string][]float64
}

// Holds reports whether the view has an open position in symbol
func (v View) Holds(symbol string) bool {
	return v.WeightOf(symbol) > 0
}

// WeightOf returns the aggregated weight held in symbol
func (v View) WeightOf(symbol string) float64 {
	var w float64
	for _, e := range v.Exposures {
		if e.Symbol == symbol {
			w += e.Weight
		}
	}
	return w
}

// SectorWeight returns the aggregated weight held in sector
func (v View) SectorWeight(sector string) float64 {
	var w float64
	for _, e := range v.Exposures {
		if e.Sector == sector {
			w += e.Weight
		}
	}
	return w
}

// UsedHeat is the sum of risk contributions of all open positions
func (v View) UsedHeat() float64 {
	var h float64
	for _, e := range v.Exposures {
		h += e.RiskContribution()
	}
	return h
}

// OpenPositions counts distinct held symbols
func (v View) OpenPositions() int {
	seen := make(map[string]struct{})
	for _, e := range v.Exposures {
		if e.Weight > 0 {
			seen[e.Symbol] = struct{}{}
		}
	}
	return len(seen)
}

// heldReturns returns the return series of every held symbol except skip
func (v View) heldReturns(skip string) [][]float64 {
	seen := make(map[string]struct{})
	var out [][]float64
	for _, e := range v.Exposures {
		if e.Symbol == skip || e.Weight <= 0 {
			continue
		}
		if _, dup := seen[e.Symbol]; dup {
			continue
		}
		seen[e.Symbol] = struct{}{}
		if h, ok := v.Histories[e.Symbol]; ok {
			out = append(out, Returns(h))
		}
	}
	return out
}
