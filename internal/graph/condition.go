package graph

import (
	"fmt"
	"math"
	"strings"
)

// Operator is a condition comparison policy
type Operator string

const (
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpEqual        Operator = "equal"
	OpCrossover    Operator = "crossover"
	OpCrossunder   Operator = "crossunder"
	OpRange        Operator = "range"
	OpOutsideRange Operator = "outside_range"
)

// DefaultTolerance is the epsilon used by OpEqual when none is configured
const DefaultTolerance = 1e-6

// ParseOperator accepts operator names and their symbolic shorthands
func ParseOperator(s string) (Operator, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "greater_than", ">", "gt", "above":
		return OpGreaterThan, true
	case "less_than", "<", "lt", "below":
		return OpLessThan, true
	case "equal", "equals", "==", "eq":
		return OpEqual, true
	case "crossover", "crosses_above", "cross_above":
		return OpCrossover, true
	case "crossunder", "crosses_below", "cross_below":
		return OpCrossunder, true
	case "range", "between", "in_range":
		return OpRange, true
	case "outside_range", "outside":
		return OpOutsideRange, true
	}
	return "", false
}

// comparison is one condition evaluation. Threshold is a constant unless
// Against carries a second series, in which case the series is compared
// bar by bar (e.g. fast SMA crossing slow SMA).
type comparison struct {
	Op        Operator
	Series    []float64
	Against   []float64
	Threshold float64
	Upper     float64
	Tolerance float64
}

// errShortSeries marks comparisons that need more history than is available
var errShortSeries = fmt.Errorf("series too short")

func (c comparison) eval() (bool, error) {
	if len(c.Series) == 0 {
		return false, errShortSeries
	}
	curr := c.Series[len(c.Series)-1]
	currT, prevT := c.Threshold, c.Threshold
	if c.Against != nil {
		if len(c.Against) == 0 {
			return false, errShortSeries
		}
		currT = c.Against[len(c.Against)-1]
		if len(c.Against) > 1 {
			prevT = c.Against[len(c.Against)-2]
		} else {
			prevT = currT
		}
	}

	switch c.Op {
	case OpGreaterThan:
		return curr > currT, nil
	case OpLessThan:
		return curr < currT, nil
	case OpEqual:
		tol := c.Tolerance
		if tol <= 0 {
			tol = DefaultTolerance
		}
		return math.Abs(curr-currT) <= tol, nil
	case OpCrossover, OpCrossunder:
		if len(c.Series) < 2 || (c.Against != nil && len(c.Against) < 2) {
			return false, errShortSeries
		}
		prev := c.Series[len(c.Series)-2]
		if c.Op == OpCrossover {
			return prev <= prevT && curr > currT, nil
		}
		return prev >= prevT && curr < currT, nil
	case OpRange, OpOutsideRange:
		lo, hi := c.Threshold, c.Upper
		if lo > hi {
			lo, hi = hi, lo
		}
		inside := curr >= lo && curr <= hi
		if c.Op == OpRange {
			return inside, nil
		}
		return !inside, nil
	}
	return false, fmt.Errorf("unsupported operator %q", c.Op)
}

// LogicOp is a boolean gate operation
type LogicOp string

const (
	LogicAnd LogicOp = "AND"
	LogicOr  LogicOp = "OR"
	LogicNot LogicOp = "NOT"
	LogicXor LogicOp = "XOR"
)

// ParseLogicOp normalizes gate names
func ParseLogicOp(s string) (LogicOp, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AND", "&&":
		return LogicAnd, true
	case "OR", "||":
		return LogicOr, true
	case "NOT", "!":
		return LogicNot, true
	case "XOR", "^":
		return LogicXor, true
	}
	return "", false
}

// apply reduces inputs with the gate. Empty input is false for every gate;
// NOT only looks at its first input.
func (op LogicOp) apply(inputs []bool) bool {
	if len(inputs) == 0 {
		return false
	}
	switch op {
	case LogicAnd:
		for _, v := range inputs {
			if !v {
				return false
			}
		}
		return true
	case LogicOr:
		for _, v := range inputs {
			if v {
				return true
			}
		}
		return false
	case LogicNot:
		return !inputs[0]
	case LogicXor:
		acc := inputs[0]
		for _, v := range inputs[1:] {
			acc = acc != v
		}
		return acc
	}
	return false
}
