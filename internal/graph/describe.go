package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/newthinker/signalflow/internal/indicator"
)

// Step describes one node in resolved execution order
type Step struct {
	NodeID    string
	Type      NodeType
	Inputs    []string
	Semantics string
}

// Describe returns the resolved execution order with a one-line description
// of what each node computes. Code generators consume this instead of
// re-deriving graph semantics. Unresolved nodes are returned separately.
func Describe(g *Graph) (steps []Step, unresolved []string) {
	edges, _ := usableEdges(g)
	incoming := make(map[string][]string)
	for _, e := range edges {
		incoming[e.Target] = append(incoming[e.Target], e.Source)
	}

	order, unresolved := kahn(g.Nodes, edges)
	for _, id := range order {
		n, _ := g.Node(id)
		steps = append(steps, Step{
			NodeID:    id,
			Type:      n.Type,
			Inputs:    incoming[id],
			Semantics: semantics(n),
		})
	}
	return steps, unresolved
}

func semantics(n Node) string {
	p := n.Parameters
	switch n.Type {
	case NodeDataSource:
		return fmt.Sprintf("bars for %s", p.StringOr("symbol", "<any>"))
	case NodeIndicator:
		name := p.StringOr("indicator", p.StringOr("name", "?"))
		kind, ok := indicator.ParseKind(name)
		if !ok {
			return fmt.Sprintf("unknown indicator %q", name)
		}
		ip := indicatorParams(p).WithDefaults(kind)
		switch kind {
		case indicator.KindMACD:
			return fmt.Sprintf("macd(%d,%d,%d) -> %s", ip.FastPeriod, ip.SlowPeriod, ip.SignalPeriod, strings.Join(kind.Outputs(), ","))
		case indicator.KindBollinger:
			return fmt.Sprintf("bollinger(%d,%g) of %s -> %s", ip.Period, ip.StdDev, ip.Source, strings.Join(kind.Outputs(), ","))
		default:
			return fmt.Sprintf("%s(%d) of %s -> %s", kind, ip.Period, ip.Source, strings.Join(kind.Outputs(), ","))
		}
	case NodeCondition:
		op := p.StringOr("condition", p.StringOr("operator", "?"))
		if o, ok := ParseOperator(op); ok && (o == OpRange || o == OpOutsideRange) {
			return fmt.Sprintf("input %s [%g, %g]", o, p.FloatOr("value", 0), p.FloatOr("value2", 0))
		}
		return fmt.Sprintf("input %s %g", op, p.FloatOr("value", 0))
	case NodeLogic:
		return strings.ToUpper(p.StringOr("operation", p.StringOr("operator", "AND"))) + " of inputs"
	case NodeRisk:
		return "pass-through gate with " + describeParams(p, "stop_loss", "take_profit", "max_quantity")
	case NodeAction:
		return fmt.Sprintf("%s %g %s when driver is true", p.StringOr("action", "?"), p.FloatOr("quantity", 0), p.StringOr("symbol", ""))
	}
	return ""
}

func describeParams(p Params, keys ...string) string {
	var parts []string
	for _, k := range keys {
		if v, ok := p.Float(k); ok {
			parts = append(parts, fmt.Sprintf("%s=%g", k, v))
		}
	}
	sort.Strings(parts)
	if len(parts) == 0 {
		return "no limits"
	}
	return strings.Join(parts, " ")
}
