package lang

import (
	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
)

// ActionKind selects the assignment form.
type ActionKind string

const (
	// ActionAssign replaces the target with the operand ("<-").
	ActionAssign ActionKind = "<-"
	// ActionIncrement adds the operand to a numeric target ("+=").
	ActionIncrement ActionKind = "+="
	// ActionDecrement subtracts the operand from a numeric target ("-=").
	ActionDecrement ActionKind = "-="
)

// Action mutates a single state variable.
type Action struct {
	Variable string
	Kind     ActionKind
	Operand  Operand
}

// Apply produces the next state. Assigning UNKNOWN resets the variable.
// Arithmetic on non-numeric or UNKNOWN targets is a no-op; the returned flag
// reports whether the action actually took effect so callers can log the
// skip.
func (a Action) Apply(s state.State) (state.State, bool) {
	target := s.Value(a.Variable)
	switch a.Kind {
	case ActionAssign:
		v := a.Operand.resolve(s)
		if !v.IsUnknown() {
			v = coerce(v, a.Operand.raw, target.Kind())
		} else if a.Operand.Var == "" {
			// An untyped UNKNOWN literal resets to the declared kind.
			v = spvalue.Unknown(target.Kind())
		}
		next, err := s.Update(a.Variable, v)
		if err != nil {
			return s, false
		}
		return next, true
	case ActionIncrement, ActionDecrement:
		delta := a.Operand.resolve(s)
		sign := int64(1)
		if a.Kind == ActionDecrement {
			sign = -1
		}
		if ti, ok := target.AsInt(); ok {
			if di, ok := delta.AsInt(); ok {
				next, err := s.Update(a.Variable, spvalue.Int(ti+sign*di))
				return next, err == nil
			}
		}
		if tf, ok := target.AsFloat(); ok {
			df, ok := delta.AsFloat()
			if !ok {
				if di, iok := delta.AsInt(); iok {
					df, ok = float64(di), true
				}
			}
			if ok {
				next, err := s.Update(a.Variable, spvalue.Float(tf+float64(sign)*df))
				return next, err == nil
			}
		}
		return s, false
	}
	return s, false
}

// String renders the action in the textual grammar.
func (a Action) String() string {
	return "var:" + a.Variable + " " + string(a.Kind) + " " + a.Operand.String()
}

// Vars lists the variables the action reads or writes.
func (a Action) Vars() []string {
	return append([]string{a.Variable}, a.Operand.vars()...)
}

// ApplyAll applies actions in order against a running state.
func ApplyAll(s state.State, actions []Action) state.State {
	for _, a := range actions {
		s, _ = a.Apply(s)
	}
	return s
}
