package model

import "sort"

// Edge is a named, directed relationship between two node keys.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Name string `json:"name"`
}

// Graph is a fragment of the telemetry graph, keyed by node key.
type Graph struct {
	Nodes map[string]*Node `json:"nodes"`
	Edges []Edge           `json:"edges,omitempty"`
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{Nodes: make(map[string]*Node)}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.Nodes)
}

// AddNode inserts n under its key, merging into any node already there.
func (g *Graph) AddNode(n *Node) {
	if g.Nodes == nil {
		g.Nodes = make(map[string]*Node)
	}
	key := n.Key()
	if existing, ok := g.Nodes[key]; ok {
		existing.Merge(n)
		return
	}
	g.Nodes[key] = n
}

// AddEdge records a relationship from -> to.
func (g *Graph) AddEdge(from, name, to string) {
	g.Edges = append(g.Edges, Edge{From: from, To: to, Name: name})
}

// Keys returns the node keys in sorted order.
func (g *Graph) Keys() []string {
	keys := make([]string, 0, len(g.Nodes))
	for k := range g.Nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RemapEdges rewrites edge endpoints through keyMap and drops edges that
// touch a dead node. Endpoints missing from keyMap are kept as is.
// Duplicate edges produced by the rewrite are collapsed.
func (g *Graph) RemapEdges(keyMap map[string]string, dead map[string]struct{}) {
	seen := make(map[Edge]struct{}, len(g.Edges))
	out := g.Edges[:0]
	for _, e := range g.Edges {
		if _, ok := dead[e.From]; ok {
			continue
		}
		if _, ok := dead[e.To]; ok {
			continue
		}
		if k, ok := keyMap[e.From]; ok {
			e.From = k
		}
		if k, ok := keyMap[e.To]; ok {
			e.To = k
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	g.Edges = out
}
