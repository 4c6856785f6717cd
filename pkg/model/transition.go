// Package model defines the declarative building blocks of an orchestrator
// model: guarded transitions, operations with life-cycle transition sets,
// SOP trees and the model bundle itself, plus generation of the runtime
// state variables a model needs installed before the engines start.
package model

import (
	"fmt"

	"github.com/microcell/microcell/pkg/lang"
	"github.com/microcell/microcell/pkg/state"
)

// Transition is a guarded state mutation. The planner guard and actions form
// the abstract contract used during search (the promised effect); the runner
// guard and actions are checked and applied on real execution (the
// observable effect). At runtime both guards must hold and both action lists
// apply, planner actions first.
type Transition struct {
	Name           string
	PlannerGuard   lang.Predicate
	RunnerGuard    lang.Predicate
	PlannerActions []lang.Action
	RunnerActions  []lang.Action
}

// ParseTransition builds a transition from textual guards and actions.
func ParseTransition(name, plannerGuard, runnerGuard string, plannerActions, runnerActions []string) (Transition, error) {
	pg, err := lang.ParsePredicate(plannerGuard)
	if err != nil {
		return Transition{}, fmt.Errorf("transition %s: planner guard: %w", name, err)
	}
	rg, err := lang.ParsePredicate(runnerGuard)
	if err != nil {
		return Transition{}, fmt.Errorf("transition %s: runner guard: %w", name, err)
	}
	pa, err := lang.ParseActions(plannerActions)
	if err != nil {
		return Transition{}, fmt.Errorf("transition %s: %w", name, err)
	}
	ra, err := lang.ParseActions(runnerActions)
	if err != nil {
		return Transition{}, fmt.Errorf("transition %s: %w", name, err)
	}
	return Transition{Name: name, PlannerGuard: pg, RunnerGuard: rg, PlannerActions: pa, RunnerActions: ra}, nil
}

// MustParseTransition panics on malformed input; models are installed at
// startup where a malformed transition must refuse to boot.
func MustParseTransition(name, plannerGuard, runnerGuard string, plannerActions, runnerActions []string) Transition {
	t, err := ParseTransition(name, plannerGuard, runnerGuard, plannerActions, runnerActions)
	if err != nil {
		panic(err)
	}
	return t
}

// EvalPlanning reports whether the transition is applicable during search.
func (t Transition) EvalPlanning(s state.State) bool {
	return t.PlannerGuard.Eval(s)
}

// TakePlanning applies the abstract effect.
func (t Transition) TakePlanning(s state.State) state.State {
	return lang.ApplyAll(s, t.PlannerActions)
}

// EvalRunning reports whether the transition is runnable now: both the
// planner and the runner guard must hold.
func (t Transition) EvalRunning(s state.State) bool {
	return t.PlannerGuard.Eval(s) && t.RunnerGuard.Eval(s)
}

// TakeRunning applies the full observable effect.
func (t Transition) TakeRunning(s state.State) state.State {
	return lang.ApplyAll(lang.ApplyAll(s, t.PlannerActions), t.RunnerActions)
}

// Vars lists every variable the transition references.
func (t Transition) Vars() []string {
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
	add(t.PlannerGuard.Vars())
	add(t.RunnerGuard.Vars())
	for _, a := range t.PlannerActions {
		add(a.Vars())
	}
	for _, a := range t.RunnerActions {
		add(a.Vars())
	}
	return out
}
