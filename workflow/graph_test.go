package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

func testAgentNode(name string) *AgentNode {
	return NewAgentNode(StageOptions{Name: name, Role: "planner"},
		NewStageRunner(NewProviders(nil)), nil)
}

func TestNewGraph_RejectsEmptyName(t *testing.T) {
	_, err := NewGraph("", StartNodeName, map[string]Node{StartNodeName: NewStartNode(nil)}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrGraphCompilation, types.GetErrorCode(err))
}

func TestNewGraph_RejectsUnknownEntry(t *testing.T) {
	nodes := map[string]Node{StartNodeName: NewStartNode(nil)}
	_, err := NewGraph("trip", "missing", nodes, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `entry "missing" is not a node`)
}

func TestNewGraph_RejectsDanglingEdges(t *testing.T) {
	nodes := map[string]Node{StartNodeName: NewStartNode(nil)}

	_, err := NewGraph("trip", StartNodeName, nodes, map[string][]string{"ghost": {StartNodeName}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `edge from unknown node "ghost"`)

	_, err = NewGraph("trip", StartNodeName, nodes, map[string][]string{StartNodeName: {"ghost"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `edge to unknown node "ghost"`)
}

func TestNewGraph_AllowsTerminalEdgeTarget(t *testing.T) {
	nodes := map[string]Node{
		StartNodeName: NewStartNode(nil),
		EndNodeName:   NewEndNode(nil),
	}
	edges := map[string][]string{
		StartNodeName: {EndNodeName},
		EndNodeName:   {TerminalName},
	}

	g, err := NewGraph("trip", StartNodeName, nodes, edges)
	require.NoError(t, err)

	next, ok := g.Successor(EndNodeName)
	require.True(t, ok)
	assert.Equal(t, TerminalName, next)
}

func TestGraph_Successor_ReturnsFirstEdge(t *testing.T) {
	nodes := map[string]Node{
		StartNodeName: NewStartNode(nil),
		"a":           testAgentNode("a"),
		"b":           testAgentNode("b"),
	}
	edges := map[string][]string{StartNodeName: {"a", "b"}}

	g, err := NewGraph("trip", StartNodeName, nodes, edges)
	require.NoError(t, err)

	next, ok := g.Successor(StartNodeName)
	require.True(t, ok)
	assert.Equal(t, "a", next)
	assert.Equal(t, []string{"a", "b"}, g.Successors(StartNodeName))

	_, ok = g.Successor("b")
	assert.False(t, ok)
}

func TestGraph_StageNames_FollowsWalkOrder(t *testing.T) {
	nodes := map[string]Node{
		StartNodeName: NewStartNode(nil),
		"research":    testAgentNode("research"),
		"book":        testAgentNode("book"),
		EndNodeName:   NewEndNode(nil),
	}
	edges := map[string][]string{
		StartNodeName: {"research"},
		"research":    {"book"},
		"book":        {EndNodeName},
		EndNodeName:   {TerminalName},
	}

	g, err := NewGraph("trip", StartNodeName, nodes, edges)
	require.NoError(t, err)

	assert.Equal(t, []string{"research", "book"}, g.StageNames())
	assert.Equal(t, []string{"book", "research", StartNodeName, EndNodeName}, g.NodeNames())
}
