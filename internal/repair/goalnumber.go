package repair

import (
	"fmt"
	"regexp"

	"cee/internal/graph"
)

var (
	goalNumberPattern = regexp.MustCompile(`(?i)£\d|\$\d|\d+[kKmM]?\s*(MRR|revenue|customers|users|signups|sales|orders)`)
	referencePhrase   = regexp.MustCompile(`(?i)progress toward|share of .* target`)
)

// IsGoalNumberLabel reports whether label textually encodes a target
// value that reads like a goal rather than a controllable factor.
// Shared with the validator (C5), which turns the same detection into
// a GOAL_NUMBER_AS_FACTOR violation carrying the offending node as
// context.
func IsGoalNumberLabel(label string) bool {
	if referencePhrase.MatchString(label) {
		return false
	}
	return goalNumberPattern.MatchString(label)
}

// flagGoalNumberFactors surfaces factor nodes whose label textually
// encodes a target value that reads like a goal, without stripping
// anything: validation (C5) turns this into a violation code so the
// upstream model can redesign the graph instead of silently losing
// data.
func flagGoalNumberFactors(g *graph.Graph, tr *Trace) {
	for _, n := range g.Nodes {
		if n.Kind != graph.KindFactor {
			continue
		}
		if IsGoalNumberLabel(n.Label) {
			tr.add("GOAL_NUMBER_AS_FACTOR", fmt.Sprintf("nodes[%s].label", n.ID), "flagged", nil)
		}
	}
}
