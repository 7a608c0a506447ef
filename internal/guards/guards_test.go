package guards

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cee/internal/graph"
)

func node(id string, k graph.Kind) *graph.Node {
	return &graph.Node{ID: id, Kind: k}
}

func edge(from, to string) *graph.Edge {
	return &graph.Edge{From: from, To: to, EdgeType: graph.EdgeDirected}
}

func TestDropDanglingEdges(t *testing.T) {
	g := &graph.Graph{
		Nodes: []*graph.Node{node("a", graph.KindGoal)},
		Edges: []*graph.Edge{edge("a", "ghost")},
	}
	dropped := dropDanglingEdges(g)
	assert.Len(t, dropped, 1)
	assert.Empty(t, g.Edges)
}

func TestBreakCyclesRemovesMinimalEdges(t *testing.T) {
	g := &graph.Graph{
		Nodes: []*graph.Node{node("a", graph.KindFactor), node("b", graph.KindFactor), node("c", graph.KindFactor)},
		Edges: []*graph.Edge{edge("a", "b"), edge("b", "c"), edge("c", "a")},
	}
	removed := breakCycles(g)
	require.Len(t, removed, 1)
	assert.Len(t, g.Edges, 2)
}

func TestBreakCyclesRemovesTerminalEdgeNotWholePath(t *testing.T) {
	g := &graph.Graph{
		Nodes: []*graph.Node{node("A", graph.KindFactor), node("B", graph.KindFactor)},
		Edges: []*graph.Edge{
			{ID: "A::B::0", From: "A", To: "B", EdgeType: graph.EdgeDirected},
			{ID: "B::A::0", From: "B", To: "A", EdgeType: graph.EdgeDirected},
		},
	}
	removed := breakCycles(g)
	require.Len(t, removed, 1)
	assert.Equal(t, "B::A::0", removed[0])
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "A::B::0", g.Edges[0].ID)
}

// Two parallel B->A edges both close the cycle on their own; the first
// round's tie-break must pick the smaller ID, and since the remaining
// parallel edge still closes the same cycle, a second round removes it
// too.
func TestBreakCyclesTieBreaksAmongParallelTerminalEdges(t *testing.T) {
	g := &graph.Graph{
		Nodes: []*graph.Node{node("A", graph.KindFactor), node("B", graph.KindFactor)},
		Edges: []*graph.Edge{
			{ID: "A::B::0", From: "A", To: "B", EdgeType: graph.EdgeDirected},
			{ID: "B::A::1", From: "B", To: "A", EdgeType: graph.EdgeDirected},
			{ID: "B::A::0", From: "B", To: "A", EdgeType: graph.EdgeDirected},
		},
	}
	removed := breakCycles(g)
	require.Len(t, removed, 2)
	assert.Equal(t, "B::A::0", removed[0])
	assert.Equal(t, "B::A::1", removed[1])
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "A::B::0", g.Edges[0].ID)
}

func TestBreakCyclesIgnoresBidirected(t *testing.T) {
	g := &graph.Graph{
		Nodes: []*graph.Node{node("a", graph.KindFactor), node("b", graph.KindFactor)},
		Edges: []*graph.Edge{{From: "a", To: "b", EdgeType: graph.EdgeBidirected}, {From: "b", To: "a", EdgeType: graph.EdgeBidirected}},
	}
	removed := breakCycles(g)
	assert.Empty(t, removed)
	assert.Len(t, g.Edges, 2)
}

func TestApplyCapsProtectsNonActionKinds(t *testing.T) {
	g := &graph.Graph{
		Nodes: []*graph.Node{
			node("goal1", graph.KindGoal),
			node("act1", graph.KindAction),
			node("act2", graph.KindAction),
		},
	}
	nodesCap, _ := applyCaps(g, graph.Limits{MaxNodes: 2, MaxEdges: 200})
	assert.Equal(t, 2, nodesCap)
	require.Len(t, g.Nodes, 2)
	assert.Equal(t, graph.KindGoal, g.Nodes[0].Kind)
}

func TestPruneOrphansOnlyRemovesActions(t *testing.T) {
	g := &graph.Graph{
		Nodes: []*graph.Node{
			node("goal1", graph.KindGoal),
			node("act1", graph.KindAction),
		},
	}
	pruned := pruneOrphans(g)
	assert.Equal(t, []string{"act1"}, pruned)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "goal1", g.Nodes[0].ID)
}

func TestAssignCanonicalIDsGroupsByFromTo(t *testing.T) {
	g := &graph.Graph{
		Edges: []*graph.Edge{edge("a", "b"), edge("a", "b"), edge("a", "c")},
	}
	assignCanonicalIDs(g)
	assert.Equal(t, "a::b::0", g.Edges[0].ID)
	assert.Equal(t, "a::b::1", g.Edges[1].ID)
	assert.Equal(t, "a::c::0", g.Edges[2].ID)
}

func TestApplyEndToEnd(t *testing.T) {
	g := &graph.Graph{
		Nodes: []*graph.Node{
			node("goal1", graph.KindGoal),
			node("dec1", graph.KindDecision),
			node("opt1", graph.KindOption),
			node("orphan_act", graph.KindAction),
		},
		Edges: []*graph.Edge{
			edge("dec1", "opt1"),
			edge("opt1", "goal1"),
			edge("opt1", "missing"),
		},
	}
	rep := Apply(g, graph.DefaultLimits())
	assert.Len(t, rep.DroppedDanglingEdges, 1)
	require.Len(t, g.Nodes, 3)
	assert.NotContains(t, nodeIDs(g.Nodes), "orphan_act")
	assert.NotEmpty(t, g.Meta.Roots)
	assert.NotEmpty(t, g.Meta.SuggestedPositions)
}

// Apply must cap before breaking cycles: if a cycle only exists among
// nodes that capping drops (unprotected action nodes, here, against a
// protected goal node), capping first means breakCycles never has to
// touch it, and the dangling edges left behind are cleaned up by
// dropDanglingEdges instead.
func TestApplyCapsBeforeBreakingCycles(t *testing.T) {
	g := &graph.Graph{
		Nodes: []*graph.Node{
			node("goal1", graph.KindGoal),
			node("act1", graph.KindAction),
			node("act2", graph.KindAction),
		},
		Edges: []*graph.Edge{
			edge("act1", "act2"),
			edge("act2", "act1"),
		},
	}
	rep := Apply(g, graph.Limits{MaxNodes: 1, MaxEdges: 200})
	assert.Equal(t, 1, rep.NodesCappedAt)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "goal1", g.Nodes[0].ID)
	assert.Len(t, rep.DroppedDanglingEdges, 2)
	assert.Empty(t, rep.BrokenCycleEdges)
	assert.Empty(t, g.Edges)
}

func nodeIDs(nodes []*graph.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
