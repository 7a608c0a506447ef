// Package repair implements C4: a fixed sequence of stages that each
// mutate the post-normalisation graph and append records to a
// deterministic repair trace. The only stage that removes nodes is the
// kind-protected cap, which has nothing to drop in the pipeline because
// guards (C3) has already capped the graph; no stage removes edges.
package repair

import (
	"fmt"

	"cee/internal/graph"
)

// Record is one deterministic repair entry.
type Record struct {
	Code   string
	Path   string
	Action string
	Meta   map[string]any
}

// Trace accumulates repair records and per-code counters.
type Trace struct {
	Records  []Record
	Counters map[string]int
}

func newTrace() *Trace {
	return &Trace{Counters: make(map[string]int)}
}

func (t *Trace) add(code, path, action string, meta map[string]any) {
	t.Records = append(t.Records, Record{Code: code, Path: path, Action: action, Meta: meta})
	t.Counters[code]++
}

// Run applies every repair stage except the threshold sweep, which the
// orchestrator runs as its own isolated pipeline stage (so a panic
// there can be recovered without losing this trace). Order matches
// spec order: structural canonicalisation, kind-protected capping,
// goal-number detection, orphan-protection notes, then effect-direction
// inference.
func Run(g *graph.Graph, limits graph.Limits) *Trace {
	tr := newTrace()
	canonicaliseStructuralEdges(g, tr)
	capWithKindProtection(g, limits, tr)
	flagGoalNumberFactors(g, tr)
	flagProtectedIsolated(g, tr)
	inferEffectDirection(g, tr)
	return tr
}

// SweepThresholds runs Stage 4b in isolation against an existing trace,
// appending to it. Exported so the pipeline orchestrator can run it as
// a separate, recoverable stage after Run.
func SweepThresholds(g *graph.Graph, tr *Trace) {
	sweepThresholds(g, tr)
}

func ptr(f float64) *float64 { return &f }

// canonicaliseStructuralEdges forces decision→option and option→factor
// edges onto the canonical structural-edge parameter set.
func canonicaliseStructuralEdges(g *graph.Graph, tr *Trace) {
	kindIdx := g.NodeKindIndex()
	for _, e := range g.Edges {
		if !graph.IsStructural(kindIdx[e.From], kindIdx[e.To]) {
			continue
		}
		if e.StrengthMean == nil || *e.StrengthMean != 1.0 {
			e.StrengthMean = ptr(1.0)
			tr.add("STRUCTURAL_EDGE_COERCED", fmt.Sprintf("edges[%s].strength_mean", e.ID), "set", nil)
		}
		if e.StrengthStd == nil || *e.StrengthStd != 0.01 {
			e.StrengthStd = ptr(0.01)
			tr.add("STRUCTURAL_EDGE_COERCED", fmt.Sprintf("edges[%s].strength_std", e.ID), "set", nil)
		}
		if e.BeliefExists == nil || *e.BeliefExists != 1.0 {
			e.BeliefExists = ptr(1.0)
			tr.add("STRUCTURAL_EDGE_COERCED", fmt.Sprintf("edges[%s].belief_exists", e.ID), "set", nil)
		}
		if e.EffectDirection != graph.DirectionPositive {
			e.EffectDirection = graph.DirectionPositive
			tr.add("STRUCTURAL_EDGE_COERCED", fmt.Sprintf("edges[%s].effect_direction", e.ID), "set", nil)
		}
	}
}

// CapNodes retains all protected-kind nodes first, then fills from the
// remainder in input order, dropping whatever is left over the limit.
// Edges dangling off a dropped node are left for guards (C3) to clean
// up. Exported so guards.Apply can run this as the authoritative cap
// (step 1 of the guard sequence, before dangling edges are dropped);
// capWithKindProtection then calls the same logic from inside Run as a
// defensive no-op once guards has already enforced the limit.
func CapNodes(g *graph.Graph, limits graph.Limits) []string {
	if len(g.Nodes) <= limits.MaxNodes {
		return nil
	}
	var protected, rest []*graph.Node
	for _, n := range g.Nodes {
		if graph.ProtectedKinds[n.Kind] {
			protected = append(protected, n)
		} else {
			rest = append(rest, n)
		}
	}
	kept := append(protected, rest...)
	var dropped []string
	if len(kept) > limits.MaxNodes {
		for _, d := range kept[limits.MaxNodes:] {
			dropped = append(dropped, d.ID)
		}
		kept = kept[:limits.MaxNodes]
	}
	g.Nodes = kept
	return dropped
}

// capWithKindProtection wraps CapNodes so Run's trace records a
// NODE_CAPPED entry for any node dropped here. In the real pipeline
// this never has work to do, since guards.Apply already runs CapNodes
// on the same graph before repair.Run starts.
func capWithKindProtection(g *graph.Graph, limits graph.Limits, tr *Trace) {
	for _, id := range CapNodes(g, limits) {
		tr.add("NODE_CAPPED", fmt.Sprintf("nodes[%s]", id), "dropped", nil)
	}
}

// flagProtectedIsolated notes protected-kind nodes with no incident
// edge. They are never removed.
func flagProtectedIsolated(g *graph.Graph, tr *Trace) {
	degree := make(map[string]int, len(g.Nodes))
	for _, e := range g.Edges {
		degree[e.From]++
		degree[e.To]++
	}
	for _, n := range g.Nodes {
		if graph.ProtectedKinds[n.Kind] && degree[n.ID] == 0 {
			tr.add("PROTECTED_BUT_ISOLATED", fmt.Sprintf("nodes[%s]", n.ID), "noted", nil)
		}
	}
}
