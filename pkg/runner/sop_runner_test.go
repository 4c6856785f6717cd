package runner

import (
	"testing"
	"time"

	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
	"github.com/microcell/microcell/pkg/store"
	"github.com/microcell/microcell/pkg/telemetry"
)

// tokenOp completes when its token variable is raised by the test and
// requires its gate variable to start.
func tokenOp(name string) model.Operation {
	return model.Operation{
		Name: name,
		Preconditions: []model.Transition{model.MustParseTransition(
			"start_"+name, "var:gate_"+name+" == true", "true",
			[]string{"var:running_" + name + " <- true"}, nil,
		)},
		Postconditions: []model.Transition{model.MustParseTransition(
			"complete_"+name, "true", "var:token_"+name+" == true",
			[]string{"var:running_" + name + " <- false"}, nil,
		)},
		FailTransitions: []model.Transition{model.MustParseTransition(
			"failed_"+name, "true", "var:fail_"+name+" == true",
			nil, nil,
		)},
	}
}

func tokenVars(names ...string) state.State {
	s := state.New()
	for _, n := range names {
		add := func(key string, v spvalue.Value) {
			s = s.Add(key, state.Assignment{Value: v})
		}
		add("gate_"+n, spvalue.Bool(true))
		add("running_"+n, spvalue.Bool(false))
		add("token_"+n, spvalue.Bool(false))
		add("fail_"+n, spvalue.Bool(false))
	}
	return s
}

func newSOPCell(t *testing.T, sop model.SOPStruct, names ...string) (*SOPRunner, state.State) {
	t.Helper()
	m := model.New(spID, nil, nil, []model.SOPStruct{sop}, nil)
	if err := m.Validate(); err != nil {
		t.Fatalf("invalid model: %v", err)
	}
	s := tokenVars(names...).
		Extend(model.GenerateRunnerVariables(spID, 1), true).
		Extend(model.GenerateOperationVariables(m), true)

	k := model.RunnerKeys{SPID: spID}
	s = s.MustUpdate(k.SOPEnabled(), spvalue.Bool(true))
	s = s.MustUpdate(k.SOPID(), spvalue.String(sop.ID))

	sm := store.NewStateManager(store.NewMemoryBackend(), telemetry.Nop(), nil)
	return NewSOPRunner(m, sm, time.Millisecond, telemetry.Nop(), nil, nil), s
}

func sopState(s state.State) model.SOPStatus {
	return model.SOPStatus(s.GetStringOrDefaultToUnknown(spID + "_sop_state"))
}

func opState(name string, s state.State) model.OpState {
	return model.OpStateFromString(s.GetStringOrDefaultToUnknown("op_" + name))
}

func TestSOPSequenceRunsInOrder(t *testing.T) {
	a, b := tokenOp("a"), tokenOp("b")
	sop := model.SOPStruct{ID: "seq", Root: model.Seq(model.SOPOp(a), model.SOPOp(b))}
	r, s := newSOPCell(t, sop, "a", "b")
	now := time.Unix(1000, 0)

	s, _ = r.step(s, now) // initial -> executing, children reset
	s, _ = r.step(s, now) // a starts
	if opState("a", s) != model.OpExecuting {
		t.Fatal("first child did not start")
	}
	if opState("b", s) != model.OpInitial {
		t.Fatal("second child started early")
	}

	// a completes; only then b starts.
	s = s.MustUpdate("token_a", spvalue.Bool(true))
	s, _ = r.step(s, now) // a completes
	if opState("a", s) != model.OpCompleted {
		t.Fatal("first child did not complete")
	}
	s, _ = r.step(s, now) // b starts
	if opState("b", s) != model.OpExecuting {
		t.Fatal("second child did not start after the first completed")
	}

	s = s.MustUpdate("token_b", spvalue.Bool(true))
	s, _ = r.step(s, now) // b completes, and the tree with it
	s, _ = r.step(s, now) // completed holds
	if got := sopState(s); got != model.SOPStatusCompleted {
		t.Fatalf("sop state = %s, want completed", got)
	}
}

func TestSOPParallelStartsAllChildren(t *testing.T) {
	sop := model.SOPStruct{ID: "par", Root: model.Par(
		model.SOPOp(tokenOp("a")), model.SOPOp(tokenOp("b")),
	)}
	r, s := newSOPCell(t, sop, "a", "b")
	now := time.Unix(1000, 0)

	s, _ = r.step(s, now)
	s, _ = r.step(s, now)
	if opState("a", s) != model.OpExecuting || opState("b", s) != model.OpExecuting {
		t.Fatal("parallel children should start together")
	}

	s = s.MustUpdate("token_a", spvalue.Bool(true))
	s, _ = r.step(s, now)
	if got := sopState(s); got != model.SOPStatusExecuting {
		t.Fatalf("sop state = %s with one child left", got)
	}

	s = s.MustUpdate("token_b", spvalue.Bool(true))
	s, _ = r.step(s, now)
	s, _ = r.step(s, now)
	if got := sopState(s); got != model.SOPStatusCompleted {
		t.Fatalf("sop state = %s, want completed", got)
	}
}

// A fatal parallel branch lets its siblings finish; the SOP reports Failed
// only once every branch has stopped.
func TestSOPParallelFailureWaitsForSiblings(t *testing.T) {
	bad := tokenOp("bad") // retries = 0: first failure is fatal
	sop := model.SOPStruct{ID: "par", Root: model.Par(
		model.SOPOp(bad), model.SOPOp(tokenOp("slow")),
	)}
	r, s := newSOPCell(t, sop, "bad", "slow")
	now := time.Unix(1000, 0)

	s, _ = r.step(s, now)
	s, _ = r.step(s, now) // both executing

	// The bad branch fails fatally.
	s = s.MustUpdate("fail_bad", spvalue.Bool(true))
	s, _ = r.step(s, now) // bad -> failed
	s = s.MustUpdate("fail_bad", spvalue.Bool(false))
	s, _ = r.step(s, now) // bad -> fatal
	if opState("bad", s) != model.OpFatal {
		t.Fatal("bad branch should be fatal")
	}

	// The sibling keeps executing and the SOP stays executing.
	s, _ = r.step(s, now)
	if got := sopState(s); got != model.SOPStatusExecuting {
		t.Fatalf("sop state = %s while a sibling still runs", got)
	}
	if opState("slow", s) != model.OpExecuting {
		t.Fatal("sibling should keep running")
	}

	// Once the sibling completes the failure is reported.
	s = s.MustUpdate("token_slow", spvalue.Bool(true))
	s, _ = r.step(s, now) // slow completes
	s, _ = r.step(s, now)
	if got := sopState(s); got != model.SOPStatusFailed {
		t.Fatalf("sop state = %s, want failed after all branches stopped", got)
	}
}

// A failed child fails a sequence immediately.
func TestSOPSequenceFailsFast(t *testing.T) {
	bad := tokenOp("bad")
	sop := model.SOPStruct{ID: "seq", Root: model.Seq(
		model.SOPOp(bad), model.SOPOp(tokenOp("later")),
	)}
	r, s := newSOPCell(t, sop, "bad", "later")
	now := time.Unix(1000, 0)

	s, _ = r.step(s, now)
	s, _ = r.step(s, now) // bad executing
	s = s.MustUpdate("fail_bad", spvalue.Bool(true))
	s, _ = r.step(s, now) // failed
	s = s.MustUpdate("fail_bad", spvalue.Bool(false))
	s, _ = r.step(s, now) // fatal
	s, _ = r.step(s, now)
	if got := sopState(s); got != model.SOPStatusFailed {
		t.Fatalf("sop state = %s, want failed", got)
	}
	if opState("later", s) != model.OpInitial {
		t.Error("later child must not start after a failure")
	}
}

// Alternative picks the first child whose first precondition is runnable.
func TestSOPAlternativePicksRunnableChild(t *testing.T) {
	blocked := tokenOp("blocked")
	open := tokenOp("open")
	sop := model.SOPStruct{ID: "alt", Root: model.Alt(
		model.SOPOp(blocked), model.SOPOp(open),
	)}
	r, s := newSOPCell(t, sop, "blocked", "open")
	s = s.MustUpdate("gate_blocked", spvalue.Bool(false))
	now := time.Unix(1000, 0)

	s, _ = r.step(s, now)
	s, _ = r.step(s, now)
	if opState("blocked", s) != model.OpInitial {
		t.Error("blocked alternative must not start")
	}
	if opState("open", s) != model.OpExecuting {
		t.Fatal("runnable alternative did not start")
	}

	s = s.MustUpdate("token_open", spvalue.Bool(true))
	s, _ = r.step(s, now)
	s, _ = r.step(s, now)
	if got := sopState(s); got != model.SOPStatusCompleted {
		t.Fatalf("sop state = %s, want completed", got)
	}
}

// The SOP engine ignores the tree while the enable flag is down.
func TestSOPDisabled(t *testing.T) {
	sop := model.SOPStruct{ID: "seq", Root: model.Seq(model.SOPOp(tokenOp("a")))}
	r, s := newSOPCell(t, sop, "a")
	k := model.RunnerKeys{SPID: spID}
	s = s.MustUpdate(k.SOPEnabled(), spvalue.Bool(false))

	next, events := r.step(s, time.Unix(1000, 0))
	if len(events) != 0 || s.Diff(next).Len() != 0 {
		t.Error("disabled sop engine should be inert")
	}
}
