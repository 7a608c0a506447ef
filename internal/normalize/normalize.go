package normalize

import (
	"cee/internal/graph"
)

// RawNode is the loosely-typed shape an LLM emits for a node.
type RawNode struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Label    string `json:"label"`
	Category string `json:"category,omitempty"`

	Data map[string]any `json:"data,omitempty"`

	GoalThreshold     any    `json:"goal_threshold,omitempty"`
	GoalThresholdRaw  any    `json:"goal_threshold_raw,omitempty"`
	GoalThresholdUnit string `json:"goal_threshold_unit,omitempty"`
	GoalThresholdCap  any    `json:"goal_threshold_cap,omitempty"`
}

// RawGraph is the unnormalised LLM output.
type RawGraph struct {
	Version     string            `json:"version"`
	DefaultSeed int               `json:"default_seed"`
	Nodes       []RawNode         `json:"nodes"`
	Edges       []RawEdge         `json:"edges"`
	Meta        map[string]any    `json:"meta,omitempty"`
}

// UnknownKindEvent records a node whose kind string matched no synonym.
type UnknownKindEvent struct {
	NodeID  string
	RawKind string
}

// Result carries the normaliser's trace output alongside the graph.
type Result struct {
	UnknownKinds        []UnknownKindEvent
	ClampEvents         []ClampEvent
	DefaultedFactorIDs  []string
}

// Normalize converts raw LLM output into a canonical graph.Graph, per
// C2: node-kind canonicalisation, edge number coercion, and
// controllable-factor baseline defaulting. Guards (C3) and repair (C4)
// run after this and are responsible for structural cleanup; Normalize
// itself never drops nodes or edges.
func Normalize(raw RawGraph) (*graph.Graph, Result) {
	var res Result

	nodes := make([]*graph.Node, 0, len(raw.Nodes))
	for _, rn := range raw.Nodes {
		kind, wasUnknown := NormaliseNodeKind(rn.Kind)
		if wasUnknown {
			res.UnknownKinds = append(res.UnknownKinds, UnknownKindEvent{NodeID: rn.ID, RawKind: rn.Kind})
		}
		n := &graph.Node{
			ID:                rn.ID,
			Kind:              kind,
			Label:             rn.Label,
			Category:          graph.FactorCategory(rn.Category),
			GoalThresholdUnit: rn.GoalThresholdUnit,
			GoalThresholdRaw:  rn.GoalThresholdRaw,
		}
		if f, ok := numeric(rn.GoalThreshold); ok {
			n.GoalThreshold = ptr(f)
		}
		if f, ok := numeric(rn.GoalThresholdCap); ok {
			n.GoalThresholdCap = ptr(f)
		}
		if rn.Data != nil {
			n.Data = dataFromMap(rn.Data)
		}
		nodes = append(nodes, n)
	}

	edges := make([]*graph.Edge, 0, len(raw.Edges))
	for _, re := range raw.Edges {
		e, clamps := CoerceEdge(re)
		res.ClampEvents = append(res.ClampEvents, clamps...)
		edges = append(edges, e)
	}

	g := &graph.Graph{
		Version:     raw.Version,
		DefaultSeed: raw.DefaultSeed,
		Nodes:       nodes,
		Edges:       edges,
	}

	res.DefaultedFactorIDs = applyControllableBaselines(g)

	return g, res
}

func dataFromMap(m map[string]any) *graph.NodeData {
	d := &graph.NodeData{}
	if f, ok := numeric(m["value"]); ok {
		d.Value = ptr(f)
	}
	if s, ok := m["extractionType"].(string); ok {
		d.ExtractionType = graph.ExtractionType(s)
	}
	if s, ok := m["factor_type"].(string); ok {
		d.FactorType = s
	}
	if raw, ok := m["uncertainty_drivers"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				d.UncertaintyDrivers = append(d.UncertaintyDrivers, s)
			}
		}
	}
	if raw, ok := m["interventions"].(map[string]any); ok {
		d.Interventions = make(map[string]float64, len(raw))
		for k, v := range raw {
			if f, ok := numeric(v); ok {
				d.Interventions[k] = f
			}
		}
	}
	return d
}

// applyControllableBaselines defaults data.value to 1.0 (extractionType
// inferred) for every factor that is the target of at least one
// option→factor edge and has no value set. Returns the defaulted IDs in
// graph order, for the normaliser's trace.
func applyControllableBaselines(g *graph.Graph) []string {
	kindIdx := g.NodeKindIndex()
	controllable := make(map[string]bool)
	for _, e := range g.Edges {
		if kindIdx[e.From] == graph.KindOption && kindIdx[e.To] == graph.KindFactor {
			controllable[e.To] = true
		}
	}

	var defaulted []string
	for _, n := range g.Nodes {
		if n.Kind != graph.KindFactor || !controllable[n.ID] {
			continue
		}
		if n.Data == nil {
			n.Data = &graph.NodeData{}
		}
		if n.Data.Value == nil {
			n.Data.Value = ptr(1.0)
			n.Data.ExtractionType = graph.ExtractionInferred
			defaulted = append(defaulted, n.ID)
		}
	}
	return defaulted
}
