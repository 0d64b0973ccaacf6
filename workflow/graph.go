package workflow

import (
	"sort"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// Graph is a compiled workflow: named nodes plus static successor edges.
// Graphs are immutable after construction and safe for concurrent walks.
type Graph struct {
	name  string
	entry string
	nodes map[string]Node
	edges map[string][]string
}

// NewGraph assembles a graph from prebuilt nodes. Hosts normally go through
// the Builder; this constructor serves programmatic assembly and tests.
func NewGraph(name, entry string, nodes map[string]Node, edges map[string][]string) (*Graph, error) {
	if name == "" {
		return nil, types.NewError(types.ErrGraphCompilation, "graph name must not be empty")
	}
	if _, ok := nodes[entry]; !ok {
		return nil, types.NewErrorf(types.ErrGraphCompilation, "graph %s: entry %q is not a node", name, entry)
	}
	for from, tos := range edges {
		if _, ok := nodes[from]; !ok {
			return nil, types.NewErrorf(types.ErrGraphCompilation, "graph %s: edge from unknown node %q", name, from)
		}
		for _, to := range tos {
			if to == TerminalName {
				continue
			}
			if _, ok := nodes[to]; !ok {
				return nil, types.NewErrorf(types.ErrGraphCompilation, "graph %s: edge to unknown node %q", name, to)
			}
		}
	}

	g := &Graph{name: name, entry: entry, nodes: map[string]Node{}, edges: map[string][]string{}}
	for k, v := range nodes {
		g.nodes[k] = v
	}
	for k, v := range edges {
		g.edges[k] = append([]string(nil), v...)
	}
	return g, nil
}

// Name returns the workflow name the graph was compiled from.
func (g *Graph) Name() string { return g.name }

// Entry returns the entry node name.
func (g *Graph) Entry() string { return g.entry }

// Node looks up a node by name.
func (g *Graph) Node(name string) (Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Successor returns the first static successor of a node.
func (g *Graph) Successor(name string) (string, bool) {
	succ := g.edges[name]
	if len(succ) == 0 {
		return "", false
	}
	return succ[0], true
}

// Successors returns all static successors of a node.
func (g *Graph) Successors(name string) []string {
	return append([]string(nil), g.edges[name]...)
}

// NodeNames returns every node name in sorted order.
func (g *Graph) NodeNames() []string {
	out := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Edges returns a copy of the edge map.
func (g *Graph) Edges() map[string][]string {
	out := make(map[string][]string, len(g.edges))
	for k, v := range g.edges {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// StageNames returns the stage node names in walk order, following the
// static chain from the entry.
func (g *Graph) StageNames() []string {
	var out []string
	current := g.entry
	for current != "" && current != TerminalName {
		node, ok := g.nodes[current]
		if ok {
			switch node.(type) {
			case *AgentNode, *SubgraphNode:
				out = append(out, current)
			}
		}
		next, ok := g.Successor(current)
		if !ok {
			break
		}
		current = next
	}
	return out
}
