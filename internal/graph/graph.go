// Package graph evaluates visually-authored strategy graphs into trading signals.
//
// A graph is a set of nodes (data sources, indicators, conditions, logic
// gates, risk controls and actions) connected by directed edges. Evaluate
// walks the nodes in dependency order over a window of bars and fires the
// action nodes whose driving condition holds.
package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeType is the kind of computation a node performs
type NodeType string

const (
	NodeDataSource NodeType = "dataSource"
	NodeIndicator  NodeType = "technicalIndicator"
	NodeCondition  NodeType = "condition"
	NodeLogic      NodeType = "logic"
	NodeAction     NodeType = "action"
	NodeRisk       NodeType = "risk"
)

// Known reports whether t is a supported node type
func (t NodeType) Known() bool {
	switch t {
	case NodeDataSource, NodeIndicator, NodeCondition, NodeLogic, NodeAction, NodeRisk:
		return true
	}
	return false
}

// isGate reports whether the node produces a boolean that can drive actions
func (t NodeType) isGate() bool {
	return t == NodeCondition || t == NodeLogic || t == NodeRisk
}

// Params holds free-form node parameters as authored in the editor
type Params map[string]any

// String returns a string parameter
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	default:
		return fmt.Sprint(s), true
	}
}

// Float returns a numeric parameter. Numeric strings are accepted.
func (p Params) Float(key string) (float64, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns an integer parameter, truncating floats
func (p Params) Int(key string) (int, bool) {
	f, ok := p.Float(key)
	return int(f), ok
}

// FloatOr returns the parameter or def
func (p Params) FloatOr(key string, def float64) float64 {
	if f, ok := p.Float(key); ok {
		return f
	}
	return def
}

// StringOr returns the parameter or def
func (p Params) StringOr(key, def string) string {
	if s, ok := p.String(key); ok && s != "" {
		return s
	}
	return def
}

// Node is a unit of computation in a strategy graph
type Node struct {
	ID         string   `json:"id" yaml:"id"`
	Type       NodeType `json:"type" yaml:"type"`
	Parameters Params   `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Edge is a data dependency from Source to Target
type Edge struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
}

// Graph is a complete strategy definition. Node order is significant: it is
// the insertion order used to break ties during topological sorting.
type Graph struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Node returns the node with the given id
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Symbol returns the symbol configured on the first data source node
func (g *Graph) Symbol() string {
	for _, n := range g.Nodes {
		if n.Type == NodeDataSource {
			if s, ok := n.Parameters.String("symbol"); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
