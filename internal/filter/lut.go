package filter

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/arces-wot/sepa/internal/subscription"
)

// lutExpr is compiled once and evaluated per candidate: it is true
// when the candidate's declared graph scope is either empty (the
// candidate reads the whole default graph, always a possible match)
// or intersects the update's using-graph set.
const lutExpr = `size(candidate_graphs) == 0 || candidate_graphs.exists(g, g in update_graphs)`

// LUT is the graph-URI look-up-table filter named by spec.md §6's
// `filter_mode: lut` configuration option. It uses CEL (google/cel-go)
// to evaluate, per candidate, whether the update's using-graph set
// could possibly intersect the candidate's own declared graph scope,
// the same "compile once, evaluate per item" shape the teacher's
// subscription matcher uses for its expression subscribers.
type LUT struct {
	env     *cel.Env
	program cel.Program
}

// NewLUT compiles the fixed graph-intersection expression once.
func NewLUT() (*LUT, error) {
	env, err := cel.NewEnv(
		cel.Variable("candidate_graphs", cel.ListType(cel.StringType)),
		cel.Variable("update_graphs", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("filter: building CEL env: %w", err)
	}
	ast, issues := env.Compile(lutExpr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filter: compiling LUT expression: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter: building LUT program: %w", err)
	}
	return &LUT{env: env, program: prg}, nil
}

var _ Filter = (*LUT)(nil)

// Select keeps every candidate whose declared graph scope intersects
// the update's using-graph set, or that declared no graph scope at
// all (interpreted as "reads the default graph", always a candidate
// match per the filter contract's omission rule).
func (l *LUT) Select(update subscription.Update, candidates []Candidate) []Candidate {
	updateGraphs := toInterfaceSlice(update.UsingGraphs)

	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		pred := c.Predicate()
		candidateGraphs := toInterfaceSlice(append(append([]string{}, pred.DefaultGraphs...), pred.NamedGraphs...))

		out_, _, err := l.program.Eval(map[string]interface{}{
			"candidate_graphs": candidateGraphs,
			"update_graphs":    updateGraphs,
		})
		if err != nil {
			// Fail open: an unevaluable expression must not cause the
			// filter to omit a candidate that might actually change.
			out = append(out, c)
			continue
		}
		if keep, ok := out_.Value().(bool); ok && keep {
			out = append(out, c)
		}
	}
	return out
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
