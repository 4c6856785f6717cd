package model

import (
	"fmt"
)

// Model is a named bundle of automatic transitions, automatic operations,
// SOP definitions and planned operations. Operations refer to variables by
// name only; the flat state map is the arena.
type Model struct {
	SPID string

	AutoTransitions []Transition
	AutoOperations  []Operation
	SOPs            []SOPStruct
	Operations      []Operation
}

// New assembles a model bundle.
func New(spID string, autoTransitions []Transition, autoOperations []Operation, sops []SOPStruct, operations []Operation) Model {
	return Model{
		SPID:            spID,
		AutoTransitions: autoTransitions,
		AutoOperations:  autoOperations,
		SOPs:            sops,
		Operations:      operations,
	}
}

// Operation looks up a planned operation by name.
func (m Model) Operation(name string) (Operation, bool) {
	for _, op := range m.Operations {
		if op.Name == name {
			return op, true
		}
	}
	return Operation{}, false
}

// SOP looks up an installed SOP by id.
func (m Model) SOP(id string) (SOPStruct, bool) {
	for _, s := range m.SOPs {
		if s.ID == id {
			return s, true
		}
	}
	return SOPStruct{}, false
}

// AllOperations returns planned operations, automatic operations and every
// operation reachable through an SOP tree.
func (m Model) AllOperations() []Operation {
	var ops []Operation
	ops = append(ops, m.Operations...)
	ops = append(ops, m.AutoOperations...)
	for _, s := range m.SOPs {
		for _, op := range s.Root.Operations() {
			ops = append(ops, *op)
		}
	}
	return ops
}

// Validate checks the structural invariants a model must satisfy before the
// runtime boots: unique operation names, well-formed SOP trees, and at least
// one precondition and postcondition per operation.
func (m Model) Validate() error {
	if m.SPID == "" {
		return fmt.Errorf("model has no sp id")
	}
	seen := map[string]struct{}{}
	for _, op := range m.AllOperations() {
		if op.Name == "" {
			return fmt.Errorf("operation with empty name")
		}
		if _, dup := seen[op.Name]; dup {
			return fmt.Errorf("duplicate operation name %q", op.Name)
		}
		seen[op.Name] = struct{}{}
		if len(op.Preconditions) == 0 {
			return fmt.Errorf("operation %q has no preconditions", op.Name)
		}
		if len(op.Postconditions) == 0 {
			return fmt.Errorf("operation %q has no postconditions", op.Name)
		}
	}
	for _, s := range m.SOPs {
		if s.ID == "" {
			return fmt.Errorf("sop with empty id")
		}
		if err := s.Root.Validate(); err != nil {
			return fmt.Errorf("sop %q: %w", s.ID, err)
		}
	}
	return nil
}

// CheckVars verifies that every variable any transition references is
// declared in the initial state. A model that fails this check must refuse
// to boot.
func (m Model) CheckVars(initial interface{ Contains(string) bool }) error {
	check := func(owner string, ts []Transition) error {
		for _, t := range ts {
			for _, v := range t.Vars() {
				if !initial.Contains(v) {
					return fmt.Errorf("%s: transition %q references undeclared variable %q", owner, t.Name, v)
				}
			}
		}
		return nil
	}
	if err := check("auto transitions", m.AutoTransitions); err != nil {
		return err
	}
	for _, op := range m.AllOperations() {
		for _, set := range [][]Transition{
			op.Preconditions, op.Postconditions, op.FailTransitions,
			op.TimeoutTransitions, op.BypassTransitions, op.ResetTransitions,
		} {
			if err := check("operation "+op.Name, set); err != nil {
				return err
			}
		}
	}
	return nil
}
