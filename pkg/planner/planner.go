// Package planner implements breadth-first search over operation pre- and
// postcondition effects to find a shortest operation sequence satisfying a
// goal predicate.
package planner

import (
	"github.com/microcell/microcell/pkg/lang"
	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/state"
)

// Result is the outcome of a planning call.
type Result struct {
	Found  bool
	Length int
	Plan   []string
}

type node struct {
	s    state.State
	path []string
}

// Plan searches for a shortest sequence of operations taking s to a state
// satisfying goal. Search runs over the planner-side contracts only: an
// operation is applicable when one precondition's planner guard holds;
// applying it takes the precondition's planner actions and then a matching
// postcondition's planner actions as one atomic step. States are pruned by a
// canonical hash of the projection onto the variables the operations and the
// goal reference, so the frontier stays small. Ties between equal-length
// plans resolve to model declaration order.
func Plan(s state.State, goal lang.Predicate, operations []model.Operation, maxDepth int) Result {
	relevant := relevantVars(goal, operations)
	start := s.Projection(relevant)

	if goal.Eval(start) {
		return Result{Found: true, Length: 0, Plan: []string{}}
	}
	if maxDepth <= 0 {
		return Result{}
	}

	visited := map[string]struct{}{start.CanonicalString(): {}}
	frontier := []node{{s: start}}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if len(cur.path) >= maxDepth {
			continue
		}
		for _, op := range operations {
			for _, succ := range successors(op, cur.s) {
				key := succ.CanonicalString()
				if _, seen := visited[key]; seen {
					continue
				}
				visited[key] = struct{}{}
				path := append(append([]string{}, cur.path...), op.Name)
				if goal.Eval(succ) {
					return Result{Found: true, Length: len(path), Plan: path}
				}
				frontier = append(frontier, node{s: succ, path: path})
			}
		}
	}
	return Result{}
}

// successors yields one state per applicable precondition/postcondition
// pair of op.
func successors(op model.Operation, s state.State) []state.State {
	var out []state.State
	for _, pre := range op.Preconditions {
		if !pre.EvalPlanning(s) {
			continue
		}
		mid := pre.TakePlanning(s)
		for _, post := range op.Postconditions {
			if !post.EvalPlanning(mid) {
				continue
			}
			out = append(out, post.TakePlanning(mid))
		}
	}
	return out
}

// relevantVars is the union of the variables referenced by the goal and by
// the planner-side contracts of the operations.
func relevantVars(goal lang.Predicate, operations []model.Operation) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if _, dup := seen[n]; !dup {
				seen[n] = struct{}{}
				out = append(out, n)
			}
		}
	}
	add(goal.Vars())
	for _, op := range operations {
		for _, ts := range [][]model.Transition{op.Preconditions, op.Postconditions} {
			for _, t := range ts {
				add(t.PlannerGuard.Vars())
				for _, a := range t.PlannerActions {
					add(a.Vars())
				}
			}
		}
	}
	return out
}
