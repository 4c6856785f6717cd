package lang

import (
	"testing"

	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
)

func guardState() state.State {
	s := state.New()
	add := func(key string, v spvalue.Value) {
		s = s.Add(key, state.Assignment{Value: v})
	}
	add("gantry_request_state", spvalue.String("initial"))
	add("gantry_request_trigger", spvalue.Bool(false))
	add("gantry_locked_estimated", spvalue.Bool(true))
	add("gantry_speed_command", spvalue.Float(0.5))
	add("counter", spvalue.Int(3))
	add("robot_mounted_estimated", spvalue.Unknown(spvalue.KindString))
	add("robot_mounted_one_time_measured", spvalue.String("gripper_tool"))
	add("causes", spvalue.StringArray("violation", "collision"))
	return s
}

func TestParsePredicateEval(t *testing.T) {
	s := guardState()
	tests := []struct {
		src  string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"var:gantry_request_state == initial", true},
		{"var:gantry_request_state == executing", false},
		{"var:gantry_request_trigger == false", true},
		{"var:gantry_locked_estimated == true", true},
		{"var:counter < 5", true},
		{"var:counter <= 3", true},
		{"var:counter > 3", false},
		{"var:counter >= 4", false},
		{"var:counter != 4", true},
		{"var:gantry_speed_command == 0.5", true},
		// && binds tighter than ||: false && false || true is true.
		{"false && false || true", true},
		// With explicit parens the same tokens flip.
		{"false && (false || true)", false},
		{"!(var:counter == 3)", false},
		{"! var:gantry_request_trigger == true", true},
		{"var:gantry_request_state == initial && var:gantry_request_trigger == false", true},
		// UNKNOWN semantics.
		{"var:robot_mounted_estimated == UNKNOWN", true},
		{"var:robot_mounted_estimated == UNKNOWN_string", true},
		{"var:robot_mounted_estimated != UNKNOWN", false},
		{"var:gantry_request_state != UNKNOWN", true},
		{"var:robot_mounted_estimated == gripper_tool", false},
		{"var:robot_mounted_estimated < abc", false},
		// Variable-to-variable comparison.
		{"var:robot_mounted_one_time_measured == var:robot_mounted_one_time_measured", true},
		{"var:robot_mounted_estimated == var:robot_mounted_one_time_measured", false},
		// Mismatched kinds compare false.
		{"var:counter == abc", false},
		{"var:gantry_locked_estimated == 1", false},
		// Absent variables read as UNKNOWN.
		{"var:no_such_var == UNKNOWN", true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p, err := ParsePredicate(tt.src)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if got := p.Eval(s); got != tt.want {
				t.Errorf("Eval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePredicateErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"var:x ==",
		"var:x = 5",
		"var: == 5",
		"(var:x == 5",
		"var:x == 5 &&",
		"var:x == 5 & var:y == 2",
		"bogus",
		"var:x == 5 trailing",
	} {
		if _, err := ParsePredicate(src); err == nil {
			t.Errorf("ParsePredicate(%q) should fail", src)
		}
	}
}

// Predicate equivalence law: parse(serialize(P)) evaluates like P.
func TestSerializeRoundTrip(t *testing.T) {
	s := guardState()
	sources := []string{
		"true",
		"var:counter < 5 && var:gantry_request_trigger == false",
		"(var:counter == 3 || var:counter == 4) && !(var:gantry_locked_estimated == false)",
		"var:robot_mounted_estimated == UNKNOWN_string",
		"var:gantry_speed_command >= 0.5 || false",
		"var:robot_mounted_estimated == var:robot_mounted_one_time_measured",
	}
	for _, src := range sources {
		p, err := ParsePredicate(src)
		if err != nil {
			t.Fatalf("parse %q: %v", src, err)
		}
		back, err := ParsePredicate(p.String())
		if err != nil {
			t.Fatalf("reparse %q (from %q): %v", p.String(), src, err)
		}
		if p.Eval(s) != back.Eval(s) {
			t.Errorf("%q: round trip changed evaluation", src)
		}
	}
}

func TestParseActionApply(t *testing.T) {
	s := guardState()

	tests := []struct {
		src   string
		check func(t *testing.T, next state.State, applied bool)
	}{
		{"var:gantry_request_trigger <- true", func(t *testing.T, next state.State, applied bool) {
			if !applied || !next.GetBoolOrDefaultToFalse("gantry_request_trigger") {
				t.Error("assign bool literal failed")
			}
		}},
		{"var:counter += 2", func(t *testing.T, next state.State, applied bool) {
			if !applied || next.GetIntOrDefaultToZero("counter") != 5 {
				t.Errorf("increment = %d", next.GetIntOrDefaultToZero("counter"))
			}
		}},
		{"var:counter -= 1", func(t *testing.T, next state.State, applied bool) {
			if !applied || next.GetIntOrDefaultToZero("counter") != 2 {
				t.Errorf("decrement = %d", next.GetIntOrDefaultToZero("counter"))
			}
		}},
		{"var:gantry_speed_command <- 0.8", func(t *testing.T, next state.State, applied bool) {
			if !applied || next.GetFloatOrDefaultToZero("gantry_speed_command") != 0.8 {
				t.Error("assign float literal failed")
			}
		}},
		// Int literal widens for a float variable.
		{"var:gantry_speed_command <- 1", func(t *testing.T, next state.State, applied bool) {
			if !applied || next.GetFloatOrDefaultToZero("gantry_speed_command") != 1.0 {
				t.Error("int literal should widen to float")
			}
		}},
		// Var-to-var assignment.
		{"var:robot_mounted_estimated <- var:robot_mounted_one_time_measured", func(t *testing.T, next state.State, applied bool) {
			if !applied || next.GetStringOrDefaultToUnknown("robot_mounted_estimated") != "gripper_tool" {
				t.Error("var-to-var assignment failed")
			}
		}},
		// Assignment of UNKNOWN resets.
		{"var:robot_mounted_one_time_measured <- UNKNOWN", func(t *testing.T, next state.State, applied bool) {
			if !applied || !next.Value("robot_mounted_one_time_measured").IsUnknown() {
				t.Error("UNKNOWN assignment should reset the variable")
			}
		}},
		// Arithmetic on a non-numeric target is a no-op.
		{"var:gantry_request_state += 1", func(t *testing.T, next state.State, applied bool) {
			if applied {
				t.Error("arithmetic on string target should not apply")
			}
			if next.GetStringOrDefaultToUnknown("gantry_request_state") != "initial" {
				t.Error("target changed by skipped arithmetic")
			}
		}},
		// Arithmetic on an UNKNOWN target is a no-op.
		{"var:robot_mounted_estimated += 1", func(t *testing.T, next state.State, applied bool) {
			if applied {
				t.Error("arithmetic on UNKNOWN target should not apply")
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			a, err := ParseAction(tt.src)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			next, applied := a.Apply(s)
			tt.check(t, next, applied)
		})
	}
}

// Assignment of a literal is idempotent.
func TestAssignIdempotent(t *testing.T) {
	s := guardState()
	a, err := ParseAction("var:counter <- 7")
	if err != nil {
		t.Fatal(err)
	}
	once, _ := a.Apply(s)
	twice, _ := a.Apply(once)
	if !once.Value("counter").Equal(twice.Value("counter")) {
		t.Error("literal assignment is not idempotent")
	}
}

func TestActionSerializeRoundTrip(t *testing.T) {
	for _, src := range []string{
		"var:counter <- 7",
		"var:counter += 2",
		"var:counter -= 2",
		"var:robot_mounted_estimated <- var:robot_mounted_one_time_measured",
		"var:gantry_command_command <- unlock",
	} {
		a, err := ParseAction(src)
		if err != nil {
			t.Fatalf("parse %q: %v", src, err)
		}
		back, err := ParseAction(a.String())
		if err != nil {
			t.Fatalf("reparse %q: %v", a.String(), err)
		}
		if back.String() != a.String() {
			t.Errorf("%q: serialize round trip changed to %q", a.String(), back.String())
		}
	}
}

func TestParseActionErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"counter <- 5",
		"var:counter <>",
		"var:counter <- ",
		"var:counter <- 5 trailing",
	} {
		if _, err := ParseAction(src); err == nil {
			t.Errorf("ParseAction(%q) should fail", src)
		}
	}
}

func TestArrayLiteral(t *testing.T) {
	p, err := ParsePredicate("var:causes == [violation, collision]")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !p.Eval(guardState()) {
		t.Error("array literal equality failed")
	}
}

func TestVars(t *testing.T) {
	p, err := ParsePredicate("var:a == 1 && (var:b == var:c || var:a == 2)")
	if err != nil {
		t.Fatal(err)
	}
	vars := p.Vars()
	want := map[string]bool{"a": true, "b": true, "c": true}
	if len(vars) != len(want) {
		t.Fatalf("Vars() = %v", vars)
	}
	for _, v := range vars {
		if !want[v] {
			t.Errorf("unexpected var %q", v)
		}
	}
}
