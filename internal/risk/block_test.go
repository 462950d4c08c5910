package risk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/risk"
)

func TestShouldBlock(t *testing.T) {
	s := newSizer(t, func(c *risk.Config) {
		c.MaxOpenPositions = 2
		c.MaxSectorExposure = 20
		c.PortfolioHeat = 0.01
		c.CorrelationThreshold = 0.8
		c.SectorMap = map[string]string{"AAPL": "tech", "MSFT": "tech", "XOM": "energy"}
	})

	trending := []float64{100, 102, 101, 104, 103, 106, 108, 107}

	tests := []struct {
		name string
		sig  core.Signal
		view risk.View
		rule string
	}{
		{
			name: "emergency stop wins over everything",
			sig:  buySignal("AAPL", 0.5),
			view: risk.View{CurrentDrawdown: 30, Exposures: []risk.Exposure{
				{Symbol: "A", Weight: 1}, {Symbol: "B", Weight: 1},
			}},
			rule: risk.RuleEmergencyStop,
		},
		{
			name: "max open positions",
			sig:  buySignal("AAPL", 0.5),
			view: risk.View{Exposures: []risk.Exposure{{Symbol: "A", Weight: 1}, {Symbol: "B", Weight: 1}}},
			rule: risk.RuleMaxOpenPositions,
		},
		{
			name: "correlation",
			sig:  buySignal("XOM", 0.5),
			view: risk.View{
				Exposures: []risk.Exposure{{Symbol: "CVX", Weight: 1}},
				Histories: map[string][]float64{"XOM": trending, "CVX": trending},
			},
			rule: risk.RuleCorrelation,
		},
		{
			name: "sector exposure",
			sig:  buySignal("AAPL", 0.5),
			view: risk.View{Exposures: []risk.Exposure{{Symbol: "MSFT", Sector: "tech", Weight: 19}}},
			rule: risk.RuleSectorExposure,
		},
		{
			name: "portfolio heat",
			sig:  buySignal("XOM", 0.5),
			view: risk.View{Exposures: []risk.Exposure{{Symbol: "MSFT", Weight: 10, StopFraction: 0.1}}},
			rule: risk.RulePortfolioHeat,
		},
		{
			name: "allowed",
			sig:  buySignal("XOM", 0.5),
			view: risk.View{Exposures: []risk.Exposure{{Symbol: "MSFT", Weight: 5, StopFraction: 0.01}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := s.ShouldBlock(tt.sig, tt.view)
			if tt.rule == "" {
				assert.False(t, d.Blocked, "unexpected block: %s", d.Reason)
				return
			}
			assert.True(t, d.Blocked)
			assert.Equal(t, tt.rule, d.Rule)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestShouldBlock_ReducingSellNeverBlocked(t *testing.T) {
	s := newSizer(t, nil)
	sig := buySignal("AAPL", 0.5)
	sig.Action = core.ActionSell

	d := s.ShouldBlock(sig, risk.View{
		CurrentDrawdown: 99,
		Exposures:       []risk.Exposure{{Symbol: "AAPL", Weight: 5}},
	})
	assert.False(t, d.Blocked)
}

func TestShouldBlock_AddingToHeldSymbolIgnoresOpenCount(t *testing.T) {
	s := newSizer(t, func(c *risk.Config) { c.MaxOpenPositions = 1 })

	d := s.ShouldBlock(buySignal("AAPL", 0.5), risk.View{
		Exposures: []risk.Exposure{{Symbol: "AAPL", Weight: 2, StopFraction: 0.01}},
	})
	assert.False(t, d.Blocked, d.Reason)
}

func TestRegimeMultiplier(t *testing.T) {
	assert.InDelta(t, 0.56, risk.Regime{Volatility: risk.VolatilityVolatile, HighCorrelation: true}.Multiplier(), 1e-9)
	assert.InDelta(t, 1.2, risk.Regime{Volatility: risk.VolatilityCalm}.Multiplier(), 1e-9)
	assert.InDelta(t, 1.0, risk.Regime{Volatility: risk.VolatilityNormal}.Multiplier(), 1e-9)
}

func TestCorrelation(t *testing.T) {
	a := []float64{0.01, -0.02, 0.03, 0.01}
	b := []float64{-0.01, 0.02, -0.03, -0.01}
	assert.InDelta(t, -1.0, risk.Correlation(a, b), 1e-9)
	assert.Equal(t, 0.0, risk.Correlation(a[:2], b[:2]))

	_, ok := risk.MeanAbsCorrelation(a, nil)
	assert.False(t, ok)
}
