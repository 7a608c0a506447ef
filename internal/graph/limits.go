package graph

// Limits bounds graph size. internal/config reads override values from
// GRAPH_MAX_NODES / GRAPH_MAX_EDGES into Config; callers build Limits
// from them.
type Limits struct {
	MaxNodes int
	MaxEdges int
}

// DefaultLimits returns the default node and edge caps.
func DefaultLimits() Limits {
	return Limits{MaxNodes: 50, MaxEdges: 200}
}
