package core

import (
	"fmt"
	"time"
)

// Bar represents one OHLCV sample for a symbol on a timeframe
type Bar struct {
	Symbol    string    `json:"symbol" yaml:"symbol"`
	Timeframe string    `json:"timeframe" yaml:"timeframe"` // "5m", "1h", "1d"
	Time      time.Time `json:"time" yaml:"time"`
	Open      float64   `json:"open" yaml:"open"`
	High      float64   `json:"high" yaml:"high"`
	Low       float64   `json:"low" yaml:"low"`
	Close     float64   `json:"close" yaml:"close"`
	Volume    float64   `json:"volume" yaml:"volume"`
}

// IsValid checks if the bar has required fields
func (b Bar) IsValid() bool {
	return b.Symbol != "" && !b.Time.IsZero() && b.Close > 0 && b.High >= b.Low
}

// Closes extracts closing prices from bars
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Action represents a trading signal action
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// ParseAction normalizes an action string. Unknown values return false.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionBuy, ActionSell, ActionHold:
		return Action(s), true
	case "BUY", "Buy", "long":
		return ActionBuy, true
	case "SELL", "Sell", "short":
		return ActionSell, true
	case "HOLD", "Hold":
		return ActionHold, true
	}
	return "", false
}

// Direction returns +1 for buy, -1 for sell and 0 otherwise
func (a Action) Direction() int {
	switch a {
	case ActionBuy:
		return 1
	case ActionSell:
		return -1
	default:
		return 0
	}
}

// Signal represents a proposed trade produced by a strategy graph
type Signal struct {
	ID          string
	Strategy    string
	Timeframe   string
	Symbol      string
	Action      Action
	Quantity    float64
	Price       float64 // Price at signal generation
	Confidence  float64
	StopLoss    float64
	TakeProfit  float64
	Fused       bool // Confidence was replaced by multi-timeframe fusion
	Reason      string
	Metadata    map[string]any
	GeneratedAt time.Time
}

// Validate checks the signal for structural errors
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal %s: empty symbol", s.ID)
	}
	if _, ok := ParseAction(string(s.Action)); !ok {
		return fmt.Errorf("signal %s: unknown action %q", s.ID, s.Action)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s: confidence %f outside [0,1]", s.ID, s.Confidence)
	}
	if s.Price < 0 {
		return fmt.Errorf("signal %s: negative price", s.ID)
	}
	return nil
}

// Clone returns a copy of the signal with its own metadata map
func (s Signal) Clone() Signal {
	c := s
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
