// Package validate implements C5: a pure predicate over a graph.Graph
// that never mutates it. It has no collaborators and needs none — the
// standard library is the right tool for a closed-form set of boolean
// checks, not a gap to justify.
package validate

import (
	"cee/internal/domainerr"
	"cee/internal/graph"
	"cee/internal/repair"
)

const (
	MinOptions = 2
	MaxOptions = 6
)

// forbiddenPairs enumerates the kind-pair edges that must never appear
// as directed edges between non-bidirected nodes.
var forbiddenPairs = map[[2]graph.Kind]bool{
	{graph.KindOption, graph.KindOutcome}:   true,
	{graph.KindOption, graph.KindRisk}:      true,
	{graph.KindOption, graph.KindGoal}:      true,
	{graph.KindFactor, graph.KindGoal}:      true,
	{graph.KindDecision, graph.KindFactor}:  true,
	{graph.KindDecision, graph.KindOutcome}: true,
	{graph.KindDecision, graph.KindRisk}:    true,
	{graph.KindOutcome, graph.KindOutcome}:  true,
	{graph.KindRisk, graph.KindRisk}:        true,
	{graph.KindOutcome, graph.KindRisk}:     true,
	{graph.KindRisk, graph.KindOutcome}:     true,
}

// GoalNumberFactor is the {factorId, label} context for one
// GOAL_NUMBER_AS_FACTOR violation.
type GoalNumberFactor struct {
	FactorID string
	Label    string
}

// Result is the validator's verdict.
type Result struct {
	Valid             bool
	Violations        []domainerr.Code
	GoalNumberFactors []GoalNumberFactor
}

// Validate runs every check from the validator component and returns
// the aggregate verdict. It never short-circuits: all checks run and
// every violated one is reported, so a caller sees the whole picture in
// one pass.
func Validate(g *graph.Graph, limits graph.Limits) Result {
	var violations []domainerr.Code
	var goalNumberFactors []GoalNumberFactor

	kindIdx := g.NodeKindIndex()
	nodeIDs := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		nodeIDs[n.ID] = true
	}

	if !edgesResolve(g, nodeIDs) {
		violations = append(violations, domainerr.CodeInvalidEdgeRef)
	}
	if countKind(g, graph.KindGoal) != 1 {
		violations = append(violations, domainerr.CodeMissingGoal)
	}
	if countKind(g, graph.KindDecision) != 1 {
		violations = append(violations, domainerr.CodeMissingDecision)
	}
	optCount := countKind(g, graph.KindOption)
	if optCount < MinOptions {
		violations = append(violations, domainerr.CodeInsufficientOptions)
	} else if optCount > MaxOptions {
		violations = append(violations, domainerr.CodeTooManyOptions)
	}
	if countKind(g, graph.KindOutcome)+countKind(g, graph.KindRisk) == 0 {
		violations = append(violations, domainerr.CodeMissingBridge)
	}
	if len(g.Nodes) > limits.MaxNodes {
		violations = append(violations, domainerr.CodeNodeLimitExceeded)
	}
	if len(g.Edges) > limits.MaxEdges {
		violations = append(violations, domainerr.CodeEdgeLimitExceeded)
	}
	if hasDirectedCycle(g) {
		violations = append(violations, domainerr.CodeCycleDetected)
	}
	if hasForbiddenEdge(g, kindIdx) {
		violations = append(violations, domainerr.CodeForbiddenEdge)
	}
	for _, n := range g.Nodes {
		if n.Kind != graph.KindFactor || !repair.IsGoalNumberLabel(n.Label) {
			continue
		}
		violations = append(violations, domainerr.CodeGoalNumberAsFactor)
		goalNumberFactors = append(goalNumberFactors, GoalNumberFactor{FactorID: n.ID, Label: n.Label})
	}

	controllable := controllableFactors(g, kindIdx)
	if !everyControllableHasIncoming(g, kindIdx, controllable) {
		violations = append(violations, domainerr.CodeControllableNoOptionEdge)
	}

	fwd, rev := adjacency(g)
	decisionID := singleID(g, graph.KindDecision)
	goalID := singleID(g, graph.KindGoal)

	if decisionID != "" && !bridgesReachable(g, fwd, decisionID, controllable) {
		violations = append(violations, domainerr.CodeOutcomeUnreachable)
	}
	if goalID != "" && !optionsReachGoal(g, fwd, goalID, controllable) {
		violations = append(violations, domainerr.CodeOptionNoGoalPath)
	}
	if hasOrphan(g, fwd, rev, decisionID, goalID) {
		violations = append(violations, domainerr.CodeOrphanNode)
	}

	return Result{Valid: len(violations) == 0, Violations: violations, GoalNumberFactors: goalNumberFactors}
}

func countKind(g *graph.Graph, k graph.Kind) int {
	n := 0
	for _, node := range g.Nodes {
		if node.Kind == k {
			n++
		}
	}
	return n
}

func singleID(g *graph.Graph, k graph.Kind) string {
	for _, n := range g.Nodes {
		if n.Kind == k {
			return n.ID
		}
	}
	return ""
}

func edgesResolve(g *graph.Graph, nodeIDs map[string]bool) bool {
	for _, e := range g.Edges {
		if !nodeIDs[e.From] || !nodeIDs[e.To] {
			return false
		}
	}
	return true
}

func hasDirectedCycle(g *graph.Graph) bool {
	indeg := make(map[string]int, len(g.Nodes))
	adj := make(map[string][]string)
	for _, n := range g.Nodes {
		indeg[n.ID] = 0
	}
	for _, e := range g.Edges {
		if e.EdgeType == graph.EdgeBidirected {
			continue
		}
		indeg[e.To]++
		adj[e.From] = append(adj[e.From], e.To)
	}
	var queue []string
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[id] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited != len(g.Nodes)
}

func hasForbiddenEdge(g *graph.Graph, kindIdx map[string]graph.Kind) bool {
	for _, e := range g.Edges {
		if e.EdgeType == graph.EdgeBidirected {
			continue
		}
		if forbiddenPairs[[2]graph.Kind{kindIdx[e.From], kindIdx[e.To]}] {
			return true
		}
	}
	return false
}

func controllableFactors(g *graph.Graph, kindIdx map[string]graph.Kind) map[string]bool {
	out := make(map[string]bool)
	for _, e := range g.Edges {
		if kindIdx[e.From] == graph.KindOption && kindIdx[e.To] == graph.KindFactor {
			out[e.To] = true
		}
	}
	return out
}

func everyControllableHasIncoming(g *graph.Graph, kindIdx map[string]graph.Kind, controllable map[string]bool) bool {
	hasIncoming := make(map[string]bool)
	for _, e := range g.Edges {
		if kindIdx[e.From] == graph.KindOption && kindIdx[e.To] == graph.KindFactor {
			hasIncoming[e.To] = true
		}
	}
	for id := range controllable {
		if !hasIncoming[id] {
			return false
		}
	}
	return true
}

func adjacency(g *graph.Graph) (forward, reverse map[string][]string) {
	forward = make(map[string][]string)
	reverse = make(map[string][]string)
	for _, e := range g.Edges {
		if e.EdgeType == graph.EdgeBidirected {
			continue
		}
		forward[e.From] = append(forward[e.From], e.To)
		reverse[e.To] = append(reverse[e.To], e.From)
	}
	return forward, reverse
}

func bfsReachable(adj map[string][]string, start string) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// bridgesReachable checks that every outcome/risk node is reachable
// from the decision through at least one controllable factor.
func bridgesReachable(g *graph.Graph, fwd map[string][]string, decisionID string, controllable map[string]bool) bool {
	reachable := bfsReachable(fwd, decisionID)
	reachableThroughControllable := reachableViaSet(fwd, decisionID, controllable)
	for _, n := range g.Nodes {
		if n.Kind != graph.KindOutcome && n.Kind != graph.KindRisk {
			continue
		}
		if !reachable[n.ID] || !reachableThroughControllable[n.ID] {
			return false
		}
	}
	return true
}

// optionsReachGoal checks that every option has a directed path through
// a controllable factor to the goal.
func optionsReachGoal(g *graph.Graph, fwd map[string][]string, goalID string, controllable map[string]bool) bool {
	for _, n := range g.Nodes {
		if n.Kind != graph.KindOption {
			continue
		}
		reachableThroughControllable := reachableViaSet(fwd, n.ID, controllable)
		if !reachableThroughControllable[goalID] {
			return false
		}
	}
	return true
}

// reachableViaSet returns every node reachable from start whose path
// passes through at least one node in gate. start itself is only
// included if it is in gate (a decision/option is not itself a
// controllable factor).
func reachableViaSet(adj map[string][]string, start string, gate map[string]bool) map[string]bool {
	type visitState struct{ withGate, withoutGate bool }
	type item struct {
		id      string
		hasGate bool
	}

	visited := make(map[string]visitState)
	result := make(map[string]bool)

	startHasGate := gate[start]
	queue := []item{{start, startHasGate}}
	if startHasGate {
		visited[start] = visitState{withGate: true}
	} else {
		visited[start] = visitState{withoutGate: true}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.hasGate {
			result[cur.id] = true
		}
		for _, next := range adj[cur.id] {
			nextHasGate := cur.hasGate || gate[next]
			st := visited[next]
			if nextHasGate && st.withGate {
				continue
			}
			if !nextHasGate && st.withoutGate {
				continue
			}
			if nextHasGate {
				st.withGate = true
			} else {
				st.withoutGate = true
			}
			visited[next] = st
			queue = append(queue, item{next, nextHasGate})
		}
	}
	return result
}

// hasOrphan reports whether any non-(decision|goal) node is neither
// reachable from the decision nor able to reach the goal.
func hasOrphan(g *graph.Graph, fwd, rev map[string][]string, decisionID, goalID string) bool {
	var reachableFromDecision, canReachGoal map[string]bool
	if decisionID != "" {
		reachableFromDecision = bfsReachable(fwd, decisionID)
	} else {
		reachableFromDecision = map[string]bool{}
	}
	if goalID != "" {
		canReachGoal = bfsReachable(rev, goalID)
	} else {
		canReachGoal = map[string]bool{}
	}
	for _, n := range g.Nodes {
		if n.Kind == graph.KindDecision || n.Kind == graph.KindGoal {
			continue
		}
		if !reachableFromDecision[n.ID] && !canReachGoal[n.ID] {
			return true
		}
	}
	return false
}
