package risk

import (
	"math"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/indicator"
)

// RewardRisk is the take-profit distance as a multiple of the stop distance
const RewardRisk = 2.0

// Stops places stop-loss and take-profit levels for a signal. A stop already
// carried by the signal wins over computed distances; otherwise the distance
// is ATR x multiplier when volatility stops are enabled and enough bars exist,
// else a fixed percentage of price. The distance never exceeds
// max_stop_distance percent of price.
func (s *Sizer) Stops(sig core.Signal, history []core.Bar) (stop, take, fraction float64) {
	price := sig.Price
	dir := float64(sig.Action.Direction())
	if price <= 0 || dir == 0 {
		return 0, 0, 0
	}

	var distance float64
	switch {
	case sig.StopLoss > 0:
		distance = math.Abs(price - sig.StopLoss)
	case s.cfg.VolatilityBasedStops:
		if atr := indicator.ATR(history, s.cfg.ATRPeriod); len(atr) > 0 {
			distance = atr[len(atr)-1] * s.cfg.ATRMultiplier
		}
	}
	if distance <= 0 {
		distance = price * s.cfg.DefaultStopLoss / 100
	}
	distance = math.Min(distance, price*s.cfg.MaxStopDistance/100)

	stop = price - dir*distance
	take = sig.TakeProfit
	if take <= 0 {
		take = price + dir*distance*RewardRisk
	}
	return stop, take, distance / price
}
