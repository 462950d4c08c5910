package graph

// Order returns the evaluation order of the graph's nodes using Kahn's
// algorithm. Among nodes that are ready at the same time the one declared
// first wins, so the order is deterministic for a given document.
//
// Nodes that take part in a cycle, or depend on one, never become ready;
// they are returned in declaration order as unresolved.
func Order(g *Graph) (order []string, unresolved []string) {
	edges, _ := usableEdges(g)
	return kahn(g.Nodes, edges)
}

func kahn(nodes []Node, edges []Edge) (order []string, unresolved []string) {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}

	indegree := make([]int, len(nodes))
	children := make([][]int, len(nodes))
	for _, e := range edges {
		src, tgt := index[e.Source], index[e.Target]
		indegree[tgt]++
		children[src] = append(children[src], tgt)
	}

	// ready is kept sorted by declaration index; graphs are small so a
	// sorted insert beats a heap.
	var ready []int
	for i := range nodes {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	done := make([]bool, len(nodes))
	order = make([]string, 0, len(nodes))
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		done[cur] = true
		order = append(order, nodes[cur].ID)

		for _, child := range children[cur] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = insertSorted(ready, child)
			}
		}
	}

	for i, n := range nodes {
		if !done[i] {
			unresolved = append(unresolved, n.ID)
		}
	}
	return order, unresolved
}

func insertSorted(s []int, v int) []int {
	i := 0
	for i < len(s) && s[i] < v {
		i++
	}
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// usableEdges filters out edges whose endpoints do not exist. Parse rejects
// such graphs, but graphs built in code can still carry them.
func usableEdges(g *Graph) (usable []Edge, dangling []Edge) {
	ids := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = struct{}{}
	}
	for _, e := range g.Edges {
		_, okSrc := ids[e.Source]
		_, okTgt := ids[e.Target]
		if okSrc && okTgt {
			usable = append(usable, e)
		} else {
			dangling = append(dangling, e)
		}
	}
	return usable, dangling
}
