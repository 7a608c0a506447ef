package repair

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"cee/internal/graph"
)

var decimalDigit = regexp.MustCompile(`\d`)

// sweepThresholds implements Stage 4b. For every goal node: a nullish
// goal_threshold_raw strips all four threshold fields
// (GOAL_THRESHOLD_STRIPPED_NO_RAW); a finite numeric raw whose goal
// label carries no digit strips all four fields and records both
// GOAL_THRESHOLD_POSSIBLY_INFERRED and GOAL_THRESHOLD_STRIPPED_NO_DIGITS;
// any other raw value (non-finite, non-number) is left untouched.
func sweepThresholds(g *graph.Graph, tr *Trace) {
	if g == nil || g.Nodes == nil {
		return
	}
	for _, n := range g.Nodes {
		if n.Kind != graph.KindGoal {
			continue
		}
		if isNullish(n.GoalThresholdRaw) {
			strip(n, tr, "GOAL_THRESHOLD_STRIPPED_NO_RAW")
			continue
		}
		f, ok := finiteNumber(n.GoalThresholdRaw)
		if !ok {
			continue
		}
		_ = f
		if !decimalDigit.MatchString(n.Label) {
			strip(n, tr, "GOAL_THRESHOLD_POSSIBLY_INFERRED")
			strip(n, tr, "GOAL_THRESHOLD_STRIPPED_NO_DIGITS")
		}
	}
}

func strip(n *graph.Node, tr *Trace, code string) {
	n.StripThresholds()
	tr.add(code, fmt.Sprintf("nodes[%s]", n.ID), "stripped", nil)
}

func isNullish(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok && s == "" {
		return true
	}
	return false
}

func finiteNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}
