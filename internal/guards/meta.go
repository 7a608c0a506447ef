package guards

import (
	"sort"

	"cee/internal/graph"
)

const (
	layerWidth  = 220.0
	layerHeight = 140.0
)

// computeMeta derives roots (no incoming directed edge), leaves (no
// outgoing directed edge), and a deterministic layered layout: each
// node's layer is its longest path distance from a root, computed via
// Kahn's algorithm so the same input always yields the same positions,
// processing indegree-zero nodes in waves.
func computeMeta(g *graph.Graph) graph.Meta {
	indeg := make(map[string]int, len(g.Nodes))
	outdeg := make(map[string]int, len(g.Nodes))
	adj := make(map[string][]string)
	for _, n := range g.Nodes {
		indeg[n.ID] = 0
		outdeg[n.ID] = 0
	}
	for _, e := range g.Edges {
		if e.EdgeType == graph.EdgeBidirected {
			continue
		}
		indeg[e.To]++
		outdeg[e.From]++
		adj[e.From] = append(adj[e.From], e.To)
	}

	var roots, leaves []string
	for _, n := range g.Nodes {
		if indeg[n.ID] == 0 {
			roots = append(roots, n.ID)
		}
		if outdeg[n.ID] == 0 {
			leaves = append(leaves, n.ID)
		}
	}
	sort.Strings(roots)
	sort.Strings(leaves)

	layer := make(map[string]int, len(g.Nodes))
	remaining := make(map[string]int, len(g.Nodes))
	for id, d := range indeg {
		remaining[id] = d
	}
	var queue []string
	for _, id := range roots {
		layer[id] = 0
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if layer[id]+1 > layer[next] {
				layer[next] = layer[id] + 1
			}
			remaining[next]--
			if remaining[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	layerCounts := make(map[int]int)
	positions := make(map[string]graph.Position, len(g.Nodes))
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		l := layer[id]
		col := layerCounts[l]
		layerCounts[l]++
		positions[id] = graph.Position{
			X: float64(l) * layerWidth,
			Y: float64(col) * layerHeight,
		}
	}

	return graph.Meta{
		Roots:              roots,
		Leaves:             leaves,
		SuggestedPositions: positions,
		Source:             "guards.computeMeta",
	}
}
