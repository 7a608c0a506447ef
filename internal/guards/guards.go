// Package guards implements C3: the structural-safety pass that runs
// right after normalisation. It caps node/edge counts, drops dangling
// edges, breaks cycles, prunes isolated non-protected nodes, assigns
// canonical edge IDs, and computes the graph's derived Meta.
package guards

import (
	"sort"

	"cee/internal/graph"
	"cee/internal/repair"
)

// Report records what the guard pass changed, for the pipeline trace.
type Report struct {
	DroppedDanglingEdges []string
	NodesCappedAt        int
	EdgesCappedAt        int
	BrokenCycleEdges     []string
	PrunedOrphanNodes    []string
}

// Apply runs the full guard sequence in place and returns a Report.
// Order matters: caps apply first (step 1), then dangling edges are
// dropped over the post-cap node set (step 2), then cycles are broken
// (step 3) among only the nodes and edges that survived capping, then
// orphan pruning runs (step 4) since capping and dangling-drop can both
// create new orphans. Canonical IDs/sort/meta are computed last since
// everything upstream can still change the edge set.
func Apply(g *graph.Graph, limits graph.Limits) Report {
	var rep Report

	rep.NodesCappedAt, rep.EdgesCappedAt = applyCaps(g, limits)
	rep.DroppedDanglingEdges = dropDanglingEdges(g)
	rep.BrokenCycleEdges = breakCycles(g)
	rep.PrunedOrphanNodes = pruneOrphans(g)

	assignCanonicalIDs(g)
	graph.SortNodes(g.Nodes)
	graph.SortEdges(g.Edges)
	g.Meta = computeMeta(g)

	return rep
}

func dropDanglingEdges(g *graph.Graph) []string {
	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = true
	}
	kept := g.Edges[:0]
	var dropped []string
	for _, e := range g.Edges {
		if ids[e.From] && ids[e.To] {
			kept = append(kept, e)
		} else {
			dropped = append(dropped, e.ID)
		}
	}
	g.Edges = kept
	return dropped
}

// breakCycles removes edges one at a time until the graph is acyclic,
// via DFS with an active recursion-stack set. Bidirected
// edges never participate in the DAG check. When a back edge closes a
// cycle (its target is still on the recursion stack), that terminal
// edge's (from, to) pair is the one removed — ties among parallel edges
// of that exact pair break on the lexicographically smallest canonical
// ID — so the choice among parallel edges does not depend on their
// input order. Node IDs are visited in sorted order; each node's
// outgoing edges are followed in input order.
func breakCycles(g *graph.Graph) []string {
	var removed []string

	for {
		adj := make(map[string][]*graph.Edge)
		for _, e := range g.Edges {
			if e.EdgeType == graph.EdgeBidirected {
				continue
			}
			adj[e.From] = append(adj[e.From], e)
		}

		visited := make(map[string]bool)
		onStack := make(map[string]bool)
		var backEdge *graph.Edge
		var dfs func(id string) bool
		dfs = func(id string) bool {
			visited[id] = true
			onStack[id] = true
			for _, e := range adj[id] {
				if onStack[e.To] {
					backEdge = e
					return true
				}
				if !visited[e.To] {
					if dfs(e.To) {
						return true
					}
				}
			}
			onStack[id] = false
			return false
		}

		found := false
		ids := make([]string, 0, len(g.Nodes))
		for _, n := range g.Nodes {
			ids = append(ids, n.ID)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if !visited[id] {
				if dfs(id) {
					found = true
					break
				}
			}
		}
		if !found {
			return removed
		}

		victim := smallestParallelEdge(g.Edges, backEdge)
		removed = append(removed, victim.ID)
		g.Edges = removeEdge(g.Edges, victim)
	}
}

// smallestParallelEdge returns, among every edge sharing back's exact
// (From, To) pair, the one with the lexicographically smallest
// canonical ID.
func smallestParallelEdge(edges []*graph.Edge, back *graph.Edge) *graph.Edge {
	best := back
	for _, e := range edges {
		if e.From == back.From && e.To == back.To && canonicalKey(e) < canonicalKey(best) {
			best = e
		}
	}
	return best
}

func canonicalKey(e *graph.Edge) string {
	if e.ID != "" {
		return e.ID
	}
	return e.From + "::" + e.To
}

func removeEdge(edges []*graph.Edge, victim *graph.Edge) []*graph.Edge {
	kept := edges[:0]
	for _, e := range edges {
		if e != victim {
			kept = append(kept, e)
		}
	}
	return kept
}

// applyCaps truncates nodes/edges to the configured limits. Node
// capping delegates to repair.CapNodes, the one place protected-kind
// node retention is implemented; edges dangling off a capped-out node
// are left for dropDanglingEdges, which runs immediately after this in
// Apply. repair.Run's own call into the same capping logic is then a
// defensive no-op, since this call already enforces the limit first.
func applyCaps(g *graph.Graph, limits graph.Limits) (nodesCappedAt, edgesCappedAt int) {
	if len(g.Nodes) > limits.MaxNodes {
		repair.CapNodes(g, limits)
		nodesCappedAt = limits.MaxNodes
	}

	if len(g.Edges) > limits.MaxEdges {
		sort.SliceStable(g.Edges, func(i, j int) bool {
			return canonicalKey(g.Edges[i]) < canonicalKey(g.Edges[j])
		})
		g.Edges = g.Edges[:limits.MaxEdges]
		edgesCappedAt = limits.MaxEdges
	}

	return nodesCappedAt, edgesCappedAt
}

// pruneOrphans removes action nodes with no incident edges. Every other
// kind is protected and survives even with zero edges; the validator
// flags those instead of this pass deleting them.
func pruneOrphans(g *graph.Graph) []string {
	degree := make(map[string]int, len(g.Nodes))
	for _, e := range g.Edges {
		degree[e.From]++
		degree[e.To]++
	}

	var pruned []string
	kept := g.Nodes[:0]
	for _, n := range g.Nodes {
		if n.Kind == graph.KindAction && degree[n.ID] == 0 {
			pruned = append(pruned, n.ID)
			continue
		}
		kept = append(kept, n)
	}
	g.Nodes = kept
	return pruned
}

// assignCanonicalIDs groups edges by (from, to) in stable insertion
// order and assigns each the canonical "{from}::{to}::{index}" ID.
func assignCanonicalIDs(g *graph.Graph) {
	counters := make(map[string]int)
	for _, e := range g.Edges {
		key := e.From + "::" + e.To
		idx := counters[key]
		counters[key] = idx + 1
		e.ID = graph.CanonicalID(e.From, e.To, idx)
	}
}
