// Package lang implements the guard and action language used by transitions
// and goals: Boolean predicates over state variables and assignment actions
// that produce a new state. The textual grammar is parsed by Parse* into an
// AST; evaluation is total and never fails at runtime.
package lang

import (
	"strings"

	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
)

// Predicate is a Boolean expression over state variables.
type Predicate interface {
	// Eval evaluates the predicate against a state. Evaluation is total:
	// comparisons against UNKNOWN or mismatched kinds yield false (except
	// == and != against the UNKNOWN literal, which test definedness).
	Eval(s state.State) bool
	// String renders the predicate in the textual grammar; parsing the
	// result yields an equivalent predicate.
	String() string
	// Vars lists every variable the predicate references.
	Vars() []string
}

// CompareOp is a comparison operator in an atom.
type CompareOp string

const (
	OpEq CompareOp = "=="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// Operand is either a literal value or a reference to another variable.
type Operand struct {
	Var string        // non-empty for a variable reference
	Lit spvalue.Value // literal value otherwise
	raw string        // original literal token, kept for string coercion
}

// VarOperand references another state variable.
func VarOperand(name string) Operand { return Operand{Var: name} }

// LitOperand wraps a literal value.
func LitOperand(v spvalue.Value) Operand { return Operand{Lit: v, raw: v.String()} }

func (o Operand) resolve(s state.State) spvalue.Value {
	if o.Var != "" {
		return s.Value(o.Var)
	}
	return o.Lit
}

func (o Operand) String() string {
	if o.Var != "" {
		return "var:" + o.Var
	}
	if o.Lit.Kind() == spvalue.KindString && !o.Lit.IsUnknown() {
		if sv, _ := o.Lit.AsString(); needsQuoting(sv) {
			return `"` + sv + `"`
		}
	}
	return o.Lit.String()
}

func (o Operand) vars() []string {
	if o.Var != "" {
		return []string{o.Var}
	}
	return nil
}

// True is the constant true predicate.
type True struct{}

func (True) Eval(state.State) bool { return true }
func (True) String() string        { return "true" }
func (True) Vars() []string        { return nil }

// False is the constant false predicate.
type False struct{}

func (False) Eval(state.State) bool { return false }
func (False) String() string        { return "false" }
func (False) Vars() []string        { return nil }

// Not negates a predicate.
type Not struct{ P Predicate }

func (n Not) Eval(s state.State) bool { return !n.P.Eval(s) }
func (n Not) String() string          { return "!(" + n.P.String() + ")" }
func (n Not) Vars() []string          { return n.P.Vars() }

// And is the conjunction of two or more predicates.
type And struct{ Ps []Predicate }

func (a And) Eval(s state.State) bool {
	for _, p := range a.Ps {
		if !p.Eval(s) {
			return false
		}
	}
	return true
}

func (a And) String() string { return joinPreds(a.Ps, " && ") }

func (a And) Vars() []string { return collectVars(a.Ps) }

// Or is the disjunction of two or more predicates.
type Or struct{ Ps []Predicate }

func (o Or) Eval(s state.State) bool {
	for _, p := range o.Ps {
		if p.Eval(s) {
			return true
		}
	}
	return false
}

func (o Or) String() string { return joinPreds(o.Ps, " || ") }

func (o Or) Vars() []string { return collectVars(o.Ps) }

// Compare is an atom: var OP operand.
type Compare struct {
	Variable string
	Op       CompareOp
	Rhs      Operand
}

func (c Compare) Eval(s state.State) bool {
	lhs := s.Value(c.Variable)
	rhs := c.Rhs.resolve(s)

	// Equality with the UNKNOWN literal tests definedness.
	if c.Rhs.Var == "" && rhs.IsUnknown() {
		switch c.Op {
		case OpEq:
			return lhs.IsUnknown()
		case OpNe:
			return !lhs.IsUnknown()
		default:
			return false
		}
	}

	switch c.Op {
	case OpEq:
		if lhs.IsUnknown() || rhs.IsUnknown() {
			return false
		}
		return lhs.Equal(coerce(rhs, c.Rhs.raw, lhs.Kind()))
	case OpNe:
		if lhs.IsUnknown() || rhs.IsUnknown() {
			return false
		}
		return !lhs.Equal(coerce(rhs, c.Rhs.raw, lhs.Kind()))
	default:
		cmp, ok := lhs.Compare(coerce(rhs, c.Rhs.raw, lhs.Kind()))
		if !ok {
			return false
		}
		switch c.Op {
		case OpLt:
			return cmp < 0
		case OpLe:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		case OpGe:
			return cmp >= 0
		}
		return false
	}
}

func (c Compare) String() string {
	return "var:" + c.Variable + " " + string(c.Op) + " " + c.Rhs.String()
}

func (c Compare) Vars() []string {
	return append([]string{c.Variable}, c.Rhs.vars()...)
}

// coerce adapts a literal to the declared kind of the variable it is
// compared with or assigned to. Bare words always lex as strings and digits
// as ints, so int literals widen to float and scalar tokens narrow back to
// their source text for string variables. Variable references pass through.
func coerce(v spvalue.Value, raw string, want spvalue.Kind) spvalue.Value {
	if v.Kind() == want || v.IsUnknown() {
		return v
	}
	switch want {
	case spvalue.KindFloat:
		if i, ok := v.AsInt(); ok {
			return spvalue.Float(float64(i))
		}
	case spvalue.KindString:
		if raw != "" && v.Kind() != spvalue.KindArray && v.Kind() != spvalue.KindMap {
			return spvalue.String(raw)
		}
	}
	return v
}

func joinPreds(ps []Predicate, sep string) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		s := p.String()
		switch p.(type) {
		case And, Or:
			s = "(" + s + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, sep)
}

func collectVars(ps []Predicate) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range ps {
		for _, v := range p.Vars() {
			if _, dup := seen[v]; !dup {
				seen[v] = struct{}{}
				out = append(out, v)
			}
		}
	}
	return out
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsAny(s, " \t()[]!&|<>=,\"'")
}
