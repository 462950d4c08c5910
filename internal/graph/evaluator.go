package graph

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/indicator"
)

// Warning codes
const (
	WarnInsufficientData   = "insufficient_data"
	WarnMissingInput       = "missing_input"
	WarnUnknownIndicator   = "unknown_indicator"
	WarnUnknownOperator    = "unknown_operator"
	WarnInvalidAction      = "invalid_action"
	WarnCircularDependency = "circular_dependency"
	WarnNodeFailed         = "node_failed"
	WarnNoDriver           = "no_driver"
	WarnDanglingEdge       = "dangling_edge"
)

// Warning is a non-fatal evaluation problem attached to a node
type Warning struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	if w.NodeID == "" {
		return fmt.Sprintf("%s: %s", w.Code, w.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", w.Code, w.NodeID, w.Message)
}

// Result is the outcome of one graph evaluation
type Result struct {
	Order      []string
	Unresolved []string
	Signals    []core.Signal
	Indicators map[string]indicator.Output
	Conditions map[string]bool
	// Logic holds the values of logic gates and risk nodes
	Logic    map[string]bool
	Warnings []Warning
}

// HasWarning reports whether any warning carries code
func (r Result) HasWarning(code string) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// riskOverlay is what a risk node adds to the actions it drives
type riskOverlay struct {
	stopLossPct   float64
	takeProfitPct float64
	maxQuantity   float64
}

type evaluation struct {
	g        *Graph
	bars     []core.Bar
	nodes    map[string]Node
	incoming map[string][]Edge
	kinds    map[string]indicator.Kind
	gates    map[string]bool
	overlays map[string]riskOverlay
	res      Result
}

// Evaluate runs the graph over bars, which must be in chronological order.
// Evaluation never fails: every problem is reported as a warning and the
// affected node contributes false (gates) or nothing (indicators, actions).
func Evaluate(g *Graph, bars []core.Bar) Result {
	ev := &evaluation{
		g:        g,
		bars:     bars,
		nodes:    make(map[string]Node, len(g.Nodes)),
		incoming: make(map[string][]Edge),
		kinds:    make(map[string]indicator.Kind),
		gates:    make(map[string]bool),
		overlays: make(map[string]riskOverlay),
		res: Result{
			Indicators: make(map[string]indicator.Output),
			Conditions: make(map[string]bool),
			Logic:      make(map[string]bool),
		},
	}
	for _, n := range g.Nodes {
		ev.nodes[n.ID] = n
	}

	edges, dangling := usableEdges(g)
	for _, e := range dangling {
		ev.warn(WarnDanglingEdge, e.Target, "edge %s references a missing node (%s -> %s)", e.ID, e.Source, e.Target)
	}
	for _, e := range edges {
		ev.incoming[e.Target] = append(ev.incoming[e.Target], e)
	}

	order, unresolved := kahn(g.Nodes, edges)
	ev.res.Order = order
	ev.res.Unresolved = unresolved

	for _, id := range order {
		ev.evalNode(ev.nodes[id])
	}

	if len(unresolved) > 0 {
		ev.warn(WarnCircularDependency, "", "nodes %s are part of or depend on a cycle", strings.Join(unresolved, ", "))
		for _, id := range unresolved {
			n := ev.nodes[id]
			if n.Type.isGate() {
				ev.setGate(n, false)
			}
		}
	}
	return ev.res
}

func (ev *evaluation) warn(code, nodeID, format string, args ...any) {
	ev.res.Warnings = append(ev.res.Warnings, Warning{
		Code:    code,
		NodeID:  nodeID,
		Message: fmt.Sprintf(format, args...),
	})
}

func (ev *evaluation) setGate(n Node, v bool) {
	ev.gates[n.ID] = v
	if n.Type == NodeCondition {
		ev.res.Conditions[n.ID] = v
	} else {
		ev.res.Logic[n.ID] = v
	}
}

func (ev *evaluation) evalNode(n Node) {
	defer func() {
		if r := recover(); r != nil {
			ev.warn(WarnNodeFailed, n.ID, "panic: %v", r)
			if n.Type.isGate() {
				ev.setGate(n, false)
			}
		}
	}()

	switch n.Type {
	case NodeDataSource:
		// bars are supplied by the caller
	case NodeIndicator:
		ev.evalIndicator(n)
	case NodeCondition:
		ev.setGate(n, ev.evalCondition(n))
	case NodeLogic:
		ev.setGate(n, ev.evalLogic(n))
	case NodeRisk:
		ev.setGate(n, ev.evalRisk(n))
	case NodeAction:
		ev.evalAction(n)
	}
}

func (ev *evaluation) evalIndicator(n Node) {
	name := n.Parameters.StringOr("indicator", n.Parameters.StringOr("name", ""))
	kind, ok := indicator.ParseKind(name)
	if !ok {
		ev.warn(WarnUnknownIndicator, n.ID, "unknown indicator %q", name)
		return
	}
	ev.kinds[n.ID] = kind

	p := indicatorParams(n.Parameters)
	if need := indicator.RequiredBars(kind, p); len(ev.bars) < need {
		ev.warn(WarnInsufficientData, n.ID, "%s needs %d bars, have %d", kind, need, len(ev.bars))
		return
	}
	out, err := indicator.Compute(kind, p, ev.bars)
	if err != nil {
		ev.warn(WarnNodeFailed, n.ID, "%v", err)
		return
	}
	ev.res.Indicators[n.ID] = out
}

func indicatorParams(p Params) indicator.Params {
	var ip indicator.Params
	ip.Period, _ = p.Int("period")
	ip.FastPeriod, _ = p.Int("fast_period")
	ip.SlowPeriod, _ = p.Int("slow_period")
	ip.SignalPeriod, _ = p.Int("signal_period")
	ip.StdDev = p.FloatOr("std_dev", p.FloatOr("stddev", 0))
	ip.Source = p.StringOr("source", "")
	return ip
}

// series resolves the numeric series an edge carries into a condition
func (ev *evaluation) series(e Edge, cond Node) ([]float64, bool) {
	src := ev.nodes[e.Source]
	switch src.Type {
	case NodeIndicator:
		out, ok := ev.res.Indicators[src.ID]
		if !ok {
			return nil, false
		}
		s, ok := out[resolveHandle(ev.kinds[src.ID], e.SourceHandle)]
		return s, ok && len(s) > 0
	case NodeDataSource:
		if len(ev.bars) == 0 {
			return nil, false
		}
		field := cond.Parameters.StringOr("source", src.Parameters.StringOr("source", "close"))
		return indicator.Source(ev.bars, field), true
	}
	return nil, false
}

func (ev *evaluation) evalCondition(n Node) bool {
	var data []Edge
	for _, e := range ev.incoming[n.ID] {
		if t := ev.nodes[e.Source].Type; t == NodeIndicator || t == NodeDataSource {
			data = append(data, e)
		}
	}
	if len(data) == 0 {
		ev.warn(WarnMissingInput, n.ID, "condition has no upstream indicator")
		return false
	}

	opName := n.Parameters.StringOr("condition", n.Parameters.StringOr("operator", ""))
	op, ok := ParseOperator(opName)
	if !ok {
		ev.warn(WarnUnknownOperator, n.ID, "unknown condition %q", opName)
		return false
	}

	series, ok := ev.series(data[0], n)
	if !ok {
		ev.warn(WarnMissingInput, n.ID, "upstream %s produced no output", data[0].Source)
		return false
	}

	cmp := comparison{
		Op:        op,
		Series:    series,
		Threshold: n.Parameters.FloatOr("value", 0),
		Upper:     n.Parameters.FloatOr("value2", 0),
		Tolerance: n.Parameters.FloatOr("tolerance", DefaultTolerance),
	}
	if len(data) > 1 && op != OpRange && op != OpOutsideRange {
		against, ok := ev.series(data[1], n)
		if !ok {
			ev.warn(WarnMissingInput, n.ID, "upstream %s produced no output", data[1].Source)
			return false
		}
		cmp.Against = against
	}

	v, err := cmp.eval()
	if err != nil {
		ev.warn(WarnInsufficientData, n.ID, "%s: %v", op, err)
		return false
	}
	return v
}

// gateInputs returns the boolean inputs of n in edge order
func (ev *evaluation) gateInputs(n Node) (ids []string, values []bool) {
	for _, e := range ev.incoming[n.ID] {
		if ev.nodes[e.Source].Type.isGate() {
			ids = append(ids, e.Source)
			values = append(values, ev.gates[e.Source])
		}
	}
	return ids, values
}

func (ev *evaluation) evalLogic(n Node) bool {
	opName := n.Parameters.StringOr("operation", n.Parameters.StringOr("operator", "AND"))
	op, ok := ParseLogicOp(opName)
	if !ok {
		ev.warn(WarnUnknownOperator, n.ID, "unknown logic operation %q", opName)
		return false
	}
	ids, values := ev.gateInputs(n)
	if len(ids) == 0 {
		ev.warn(WarnMissingInput, n.ID, "%s gate has no inputs", op)
	}
	return op.apply(values)
}

func (ev *evaluation) evalRisk(n Node) bool {
	ids, values := ev.gateInputs(n)
	if len(ids) == 0 {
		ev.warn(WarnMissingInput, n.ID, "risk node has no driver")
		return false
	}

	overlay := ev.overlays[ids[0]]
	if v, ok := n.Parameters.Float("stop_loss"); ok {
		overlay.stopLossPct = v
	}
	if v, ok := n.Parameters.Float("take_profit"); ok {
		overlay.takeProfitPct = v
	}
	if v, ok := n.Parameters.Float("max_quantity"); ok {
		overlay.maxQuantity = v
	}
	ev.overlays[n.ID] = overlay
	return values[0]
}

func (ev *evaluation) evalAction(n Node) {
	ids, values := ev.gateInputs(n)
	if len(ids) == 0 {
		ev.warn(WarnNoDriver, n.ID, "action has no driving condition")
		return
	}
	if !values[0] {
		return
	}
	if len(ev.bars) == 0 {
		ev.warn(WarnInsufficientData, n.ID, "no bars to price the action")
		return
	}

	name := n.Parameters.StringOr("action", "")
	action, ok := core.ParseAction(name)
	if !ok {
		ev.warn(WarnInvalidAction, n.ID, "unknown action %q", name)
		return
	}

	last := ev.bars[len(ev.bars)-1]
	sig := core.Signal{
		ID:          uuid.NewString(),
		Timeframe:   last.Timeframe,
		Symbol:      n.Parameters.StringOr("symbol", ev.g.Symbol()),
		Action:      action,
		Quantity:    math.Max(0, n.Parameters.FloatOr("quantity", 0)),
		Price:       last.Close,
		Confidence:  clamp01(n.Parameters.FloatOr("confidence", 0.5)),
		Reason:      fmt.Sprintf("%s fired by %s", n.ID, ids[0]),
		GeneratedAt: last.Time,
	}
	if sig.Symbol == "" {
		sig.Symbol = last.Symbol
	}

	stopPct := n.Parameters.FloatOr("stop_loss", 0)
	takePct := n.Parameters.FloatOr("take_profit", 0)
	if overlay, ok := ev.overlays[ids[0]]; ok {
		if overlay.stopLossPct > 0 {
			stopPct = overlay.stopLossPct
		}
		if overlay.takeProfitPct > 0 {
			takePct = overlay.takeProfitPct
		}
		if overlay.maxQuantity > 0 && sig.Quantity > overlay.maxQuantity {
			sig.Quantity = overlay.maxQuantity
		}
	}
	dir := float64(action.Direction())
	if stopPct > 0 && dir != 0 {
		sig.StopLoss = sig.Price * (1 - dir*stopPct/100)
	}
	if takePct > 0 && dir != 0 {
		sig.TakeProfit = sig.Price * (1 + dir*takePct/100)
	}

	sig.Metadata = ev.snapshot(n.ID)
	ev.res.Signals = append(ev.res.Signals, sig)
}

// snapshot captures the state that led to an action at the moment it fired
func (ev *evaluation) snapshot(nodeID string) map[string]any {
	indicators := make(map[string]map[string]float64, len(ev.res.Indicators))
	for id, out := range ev.res.Indicators {
		latest := make(map[string]float64, len(out))
		for key := range out {
			if v, ok := out.Latest(key); ok {
				latest[key] = v
			}
		}
		indicators[id] = latest
	}
	return map[string]any{
		"node":       nodeID,
		"indicators": indicators,
		"conditions": copyBools(ev.res.Conditions),
		"logic":      copyBools(ev.res.Logic),
	}
}

func copyBools(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
