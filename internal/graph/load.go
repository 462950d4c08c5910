package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/newthinker/signalflow/internal/core"
)

// Parse decodes a graph document. JSON exports from the editor are valid
// YAML and decode through the same path.
func Parse(data []byte) (*Graph, error) {
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, core.WrapError(core.ErrGraphInvalid, fmt.Errorf("decoding graph: %w", err))
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadFile reads and validates a graph document from disk
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph %s: %w", path, err)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("graph %s: %w", path, err)
	}
	return g, nil
}

// Validate checks structural integrity: at least one node, unique node IDs,
// known node types, and edges that only reference nodes of this graph.
// Cycles are not structural errors; they are reported during evaluation.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return core.WrapError(core.ErrGraphInvalid, fmt.Errorf("graph has no nodes"))
	}

	seen := make(map[string]struct{}, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			return core.WrapError(core.ErrGraphInvalid, fmt.Errorf("node %d has empty id", i))
		}
		if _, dup := seen[n.ID]; dup {
			return core.WrapError(core.ErrGraphInvalid, fmt.Errorf("duplicate node id %q", n.ID))
		}
		if !n.Type.Known() {
			return core.WrapError(core.ErrGraphInvalid, fmt.Errorf("node %q has unknown type %q", n.ID, n.Type))
		}
		seen[n.ID] = struct{}{}
	}

	for i, e := range g.Edges {
		if _, ok := seen[e.Source]; !ok {
			return core.WrapError(core.ErrGraphInvalid, fmt.Errorf("edge %d (%s) references unknown source %q", i, e.ID, e.Source))
		}
		if _, ok := seen[e.Target]; !ok {
			return core.WrapError(core.ErrGraphInvalid, fmt.Errorf("edge %d (%s) references unknown target %q", i, e.ID, e.Target))
		}
	}
	return nil
}
