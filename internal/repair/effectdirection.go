package repair

import (
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"cee/internal/graph"
)

// negativePair is a curated (source substring, target substring) entry
// whose presence implies an inverse causal relationship absent an
// explicit effect_direction.
type negativePair struct {
	Source string
	Target string
}

var negativeLexicon = []negativePair{
	{"price", "demand"},
	{"risk", "goal"},
	{"cost", "profit"},
	{"churn", "revenue"},
	{"delay", "success"},
	{"complexity", "efficiency"},
}

// negativeProgram is compiled once and evaluates each lexicon entry as
// a single boolean expression per edge, rather than hand-rolling the
// substring loop inline.
var (
	negativeProgramOnce sync.Once
	negativeProgram     *vm.Program
)

type negativeEnv struct {
	Source string
	Target string
	Pair   negativePair
}

func compiledNegativeCheck() *vm.Program {
	negativeProgramOnce.Do(func() {
		p, err := expr.Compile(
			`Source contains Pair.Source and Target contains Pair.Target`,
			expr.Env(negativeEnv{}),
			expr.AsBool(),
		)
		if err != nil {
			panic("repair: invalid negative-pair expression: " + err.Error())
		}
		negativeProgram = p
	})
	return negativeProgram
}

// inferEffectDirection fills in effect_direction for any edge that
// omitted it, defaulting to positive unless the (source label, target
// label) pair matches the negative lexicon (case-insensitive substring
// match).
func inferEffectDirection(g *graph.Graph, tr *Trace) {
	program := compiledNegativeCheck()
	byID := make(map[string]*graph.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		byID[n.ID] = n
	}

	for _, e := range g.Edges {
		if e.EffectDirection != "" {
			continue
		}
		src := byID[e.From]
		dst := byID[e.To]
		if src == nil || dst == nil {
			e.EffectDirection = graph.DirectionPositive
			continue
		}
		sourceLabel := strings.ToLower(src.Label)
		targetLabel := strings.ToLower(dst.Label)

		direction := graph.DirectionPositive
		for _, pair := range negativeLexicon {
			env := negativeEnv{Source: sourceLabel, Target: targetLabel, Pair: pair}
			out, err := expr.Run(program, env)
			if err != nil {
				continue
			}
			if matched, _ := out.(bool); matched {
				direction = graph.DirectionNegative
				break
			}
		}
		e.EffectDirection = direction
		tr.add("EFFECT_DIRECTION_INFERRED", "edges["+e.ID+"].effect_direction", string(direction), nil)
	}
}
