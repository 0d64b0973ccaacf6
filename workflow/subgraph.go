package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// Router picks the next inner node of a subgraph from the current state.
type Router func(*State) string

// Subgraph is a reusable workflow fragment: a named node set with edges,
// optional routers, declared input requirements and produced output keys.
// Subgraphs execute inline inside a wrapper node of the outer graph.
type Subgraph struct {
	name        string
	description string
	nodes       map[string]Node
	edges       map[string][]string
	routers     map[string]Router
	entry       string
	inputs      []string
	outputs     []string
}

// Name returns the subgraph name.
func (sg *Subgraph) Name() string { return sg.name }

// Description returns the human-readable description.
func (sg *Subgraph) Description() string { return sg.description }

// Inputs returns the context keys the subgraph requires.
func (sg *Subgraph) Inputs() []string { return append([]string(nil), sg.inputs...) }

// Outputs returns the context keys the subgraph produces.
func (sg *Subgraph) Outputs() []string { return append([]string(nil), sg.outputs...) }

// Entry returns the inner entry node name.
func (sg *Subgraph) Entry() string { return sg.entry }

// NodeNames returns the inner node names in sorted order.
func (sg *Subgraph) NodeNames() []string {
	out := make([]string, 0, len(sg.nodes))
	for name := range sg.nodes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// StageNames returns the names of inner nodes that record stage bookkeeping
// (agent and nested subgraph nodes). The wrapper uses them to keep sub-stages
// out of the top-level stage lists. Stage bookkeeping always runs under the
// node's own name, which in a composite differs from the prefixed map key.
func (sg *Subgraph) StageNames() []string {
	seen := map[string]bool{}
	var out []string
	for _, node := range sg.nodes {
		switch node.(type) {
		case *AgentNode, *SubgraphNode:
			if !seen[node.Name()] {
				seen[node.Name()] = true
				out = append(out, node.Name())
			}
		}
	}
	sort.Strings(out)
	return out
}

// Execute walks the inner graph sequentially. The walk stops when no
// successor remains, when the state finishes, or when human input is
// required (the suspension propagates to the outer engine).
func (sg *Subgraph) Execute(ctx context.Context, state *State) (*State, error) {
	st := state
	current := sg.entry
	steps := 0
	limit := len(sg.nodes)*4 + 8

	for current != "" {
		if steps >= limit {
			return st, types.NewErrorf(types.ErrIterationLimit,
				"subgraph %s exceeded %d inner steps", sg.name, limit)
		}
		steps++

		node, ok := sg.nodes[current]
		if !ok {
			return st, types.NewErrorf(types.ErrGraphCompilation,
				"subgraph %s references unknown node %q", sg.name, current)
		}

		next, err := node.Execute(ctx, st)
		if err != nil {
			return st, err
		}
		st = next

		if st.Finished || st.HumanInputRequired {
			return st, nil
		}

		if router, ok := sg.routers[current]; ok {
			st.NextNode = ""
			current = router(st)
			continue
		}
		if st.NextNode != "" {
			current = st.NextNode
			st.NextNode = ""
			continue
		}
		if succ := sg.edges[current]; len(succ) > 0 {
			current = succ[0]
		} else {
			current = ""
		}
	}
	return st, nil
}

// heads returns inner nodes without incoming edges.
func (sg *Subgraph) heads() []string {
	incoming := map[string]bool{}
	for _, tos := range sg.edges {
		for _, to := range tos {
			incoming[to] = true
		}
	}
	var out []string
	for name := range sg.nodes {
		if !incoming[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// tails returns inner nodes without outgoing edges or routers.
func (sg *Subgraph) tails() []string {
	var out []string
	for name := range sg.nodes {
		if len(sg.edges[name]) == 0 {
			if _, routed := sg.routers[name]; !routed {
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// SubgraphBuilder assembles a Subgraph. Errors accumulate and surface once
// at Build.
type SubgraphBuilder struct {
	sg  *Subgraph
	err error
}

// NewSubgraph starts building a subgraph.
func NewSubgraph(name, description string) *SubgraphBuilder {
	b := &SubgraphBuilder{sg: &Subgraph{
		name:        name,
		description: description,
		nodes:       map[string]Node{},
		edges:       map[string][]string{},
		routers:     map[string]Router{},
	}}
	if strings.TrimSpace(name) == "" {
		b.err = types.NewError(types.ErrGraphCompilation, "subgraph name must not be empty")
	}
	return b
}

// AddNode registers an inner node. Names must be unique.
func (b *SubgraphBuilder) AddNode(node Node) *SubgraphBuilder {
	if b.err != nil {
		return b
	}
	name := node.Name()
	if _, exists := b.sg.nodes[name]; exists {
		b.err = types.NewErrorf(types.ErrGraphCompilation,
			"subgraph %s: duplicate node %q", b.sg.name, name)
		return b
	}
	b.sg.nodes[name] = node
	return b
}

// AddEdge registers a static edge between inner nodes.
func (b *SubgraphBuilder) AddEdge(from, to string) *SubgraphBuilder {
	if b.err != nil {
		return b
	}
	b.sg.edges[from] = append(b.sg.edges[from], to)
	return b
}

// AddRouter registers a dynamic successor choice for a node.
func (b *SubgraphBuilder) AddRouter(from string, router Router) *SubgraphBuilder {
	if b.err != nil {
		return b
	}
	b.sg.routers[from] = router
	return b
}

// SetEntry declares the inner entry node.
func (b *SubgraphBuilder) SetEntry(name string) *SubgraphBuilder {
	if b.err != nil {
		return b
	}
	b.sg.entry = name
	return b
}

// Requires declares context keys the subgraph needs as inputs.
func (b *SubgraphBuilder) Requires(keys ...string) *SubgraphBuilder {
	if b.err != nil {
		return b
	}
	b.sg.inputs = append(b.sg.inputs, keys...)
	return b
}

// Produces declares context keys the subgraph writes as outputs.
func (b *SubgraphBuilder) Produces(keys ...string) *SubgraphBuilder {
	if b.err != nil {
		return b
	}
	b.sg.outputs = append(b.sg.outputs, keys...)
	return b
}

// Build validates and returns the subgraph.
func (b *SubgraphBuilder) Build() (*Subgraph, error) {
	if b.err != nil {
		return nil, b.err
	}
	sg := b.sg

	if len(sg.nodes) == 0 {
		return nil, types.NewErrorf(types.ErrGraphCompilation, "subgraph %s has no nodes", sg.name)
	}
	for from, tos := range sg.edges {
		if _, ok := sg.nodes[from]; !ok {
			return nil, types.NewErrorf(types.ErrGraphCompilation,
				"subgraph %s: edge from unknown node %q", sg.name, from)
		}
		for _, to := range tos {
			if _, ok := sg.nodes[to]; !ok {
				return nil, types.NewErrorf(types.ErrGraphCompilation,
					"subgraph %s: edge to unknown node %q", sg.name, to)
			}
		}
	}
	for from := range sg.routers {
		if _, ok := sg.nodes[from]; !ok {
			return nil, types.NewErrorf(types.ErrGraphCompilation,
				"subgraph %s: router on unknown node %q", sg.name, from)
		}
	}

	if sg.entry == "" {
		heads := sg.heads()
		if len(heads) != 1 {
			return nil, types.NewErrorf(types.ErrGraphCompilation,
				"subgraph %s: cannot infer entry, found %d head nodes", sg.name, len(heads))
		}
		sg.entry = heads[0]
	} else if _, ok := sg.nodes[sg.entry]; !ok {
		return nil, types.NewErrorf(types.ErrGraphCompilation,
			"subgraph %s: entry %q is not a node", sg.name, sg.entry)
	}

	return sg, nil
}

// SubgraphNode wraps a subgraph as one stage of the outer graph. An inner
// failure is recorded as a non-skippable failure of the wrapper stage; inner
// sub-stage bookkeeping never leaks into the top-level stage lists.
type SubgraphNode struct {
	name   string
	sub    *Subgraph
	logger *zap.Logger
}

// NewSubgraphNode creates a wrapper node named after the outer stage.
func NewSubgraphNode(name string, sub *Subgraph, logger *zap.Logger) *SubgraphNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubgraphNode{name: name, sub: sub, logger: logger}
}

// Name returns the wrapper stage name.
func (n *SubgraphNode) Name() string { return n.name }

// Subgraph returns the wrapped fragment.
func (n *SubgraphNode) Subgraph() *Subgraph { return n.sub }

// Execute runs the inner graph and folds its outcome into the wrapper stage.
func (n *SubgraphNode) Execute(ctx context.Context, state *State) (*State, error) {
	working := state.Clone()
	working.CurrentNode = n.name

	st, err := n.sub.Execute(ctx, working)
	if err != nil {
		n.logger.Error("subgraph failed",
			zap.String("stage", n.name),
			zap.String("subgraph", n.sub.Name()),
			zap.Error(err),
		)
		failed := state.Clone()
		failed.CurrentNode = n.name
		failed.ClearStageScratch()
		failed.MarkStageFailed(n.name, failureMessage(err))
		return failed, nil
	}

	if st.HumanInputRequired {
		// Suspended inside the subgraph: hand the raw state to the engine,
		// reconciliation happens when the resumed wrapper finishes.
		return st, nil
	}

	inner := n.sub.StageNames()
	innerCompleted := intersectStrings(st.Context.CompletedStages, inner)
	innerFailed := intersectStrings(st.Context.FailedStages, inner)
	st.Context.CompletedStages = subtractStrings(st.Context.CompletedStages, inner)
	st.Context.FailedStages = subtractStrings(st.Context.FailedStages, inner)
	st.CurrentNode = n.name

	if len(innerFailed) > 0 {
		st.MarkStageFailed(n.name, fmt.Sprintf("subgraph stages failed: %s", strings.Join(innerFailed, ", ")))
		return st, nil
	}

	stages := make([]types.Value, len(innerCompleted))
	for i, name := range innerCompleted {
		stages[i] = types.String(name)
	}
	st.AddStageOutput(n.name, types.Map(map[string]types.Value{
		"subgraph": types.String(n.sub.Name()),
		"status":   types.String(string(StageCompleted)),
		"stages":   types.List(stages...),
	}))
	return st, nil
}

// NewCompositeSubgraph merges members into one subgraph. Inner node keys get
// a "<member>_" prefix to avoid collisions, and each member's tail nodes are
// wired to the next member's entry. Members without inferable boundary nodes
// fall back to conventionally named "start"/"end" nodes.
func NewCompositeSubgraph(name, description string, members ...*Subgraph) (*Subgraph, error) {
	if len(members) == 0 {
		return nil, types.NewErrorf(types.ErrGraphCompilation,
			"composite subgraph %s needs at least one member", name)
	}

	merged := &Subgraph{
		name:        name,
		description: description,
		nodes:       map[string]Node{},
		edges:       map[string][]string{},
		routers:     map[string]Router{},
	}

	seen := map[string]bool{}
	for _, member := range members {
		if seen[member.name] {
			return nil, types.NewErrorf(types.ErrGraphCompilation,
				"composite subgraph %s: duplicate member %q", name, member.name)
		}
		seen[member.name] = true

		prefix := member.name + "_"
		for nodeName, node := range member.nodes {
			merged.nodes[prefix+nodeName] = node
		}
		for from, tos := range member.edges {
			prefixed := make([]string, len(tos))
			for i, to := range tos {
				prefixed[i] = prefix + to
			}
			merged.edges[prefix+from] = prefixed
		}
		for from, router := range member.routers {
			inner := router
			merged.routers[prefix+from] = func(st *State) string {
				return prefix + inner(st)
			}
		}
		merged.inputs = append(merged.inputs, member.inputs...)
		merged.outputs = append(merged.outputs, member.outputs...)
	}

	for i := 0; i < len(members)-1; i++ {
		tails, err := memberBoundary(members[i], members[i].tails(), TerminalName, "tail")
		if err != nil {
			return nil, err
		}
		head, err := memberEntry(members[i+1])
		if err != nil {
			return nil, err
		}
		fromPrefix := members[i].name + "_"
		to := members[i+1].name + "_" + head
		for _, tail := range tails {
			merged.edges[fromPrefix+tail] = append(merged.edges[fromPrefix+tail], to)
		}
	}

	head, err := memberEntry(members[0])
	if err != nil {
		return nil, err
	}
	merged.entry = members[0].name + "_" + head

	return merged, nil
}

// memberEntry returns the member's entry: declared entry, a single inferred
// head, or a conventional "start" node.
func memberEntry(member *Subgraph) (string, error) {
	if member.entry != "" {
		return member.entry, nil
	}
	heads := member.heads()
	if len(heads) == 1 {
		return heads[0], nil
	}
	if _, ok := member.nodes[StartNodeName]; ok {
		return StartNodeName, nil
	}
	return "", types.NewErrorf(types.ErrGraphCompilation,
		"composite member %s: cannot infer entry node", member.name)
}

// memberBoundary returns inferred boundary nodes or the conventional
// fallback node.
func memberBoundary(member *Subgraph, inferred []string, fallback, kind string) ([]string, error) {
	if len(inferred) > 0 {
		return inferred, nil
	}
	if _, ok := member.nodes[fallback]; ok {
		return []string{fallback}, nil
	}
	return nil, types.NewErrorf(types.ErrGraphCompilation,
		"composite member %s: cannot infer %s nodes", member.name, kind)
}

func intersectStrings(list, filter []string) []string {
	var out []string
	for _, item := range list {
		if containsString(filter, item) {
			out = append(out, item)
		}
	}
	return out
}

func subtractStrings(list, remove []string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if !containsString(remove, item) {
			out = append(out, item)
		}
	}
	return out
}
