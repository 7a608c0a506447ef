package graph

import "sort"

// SortNodes sorts nodes by id ascending, in place. Idempotent and total.
func SortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})
}

// SortEdges sorts edges by (from, to, id) ascending, in place. Idempotent
// and total.
func SortEdges(edges []*Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.ID < b.ID
	})
}
