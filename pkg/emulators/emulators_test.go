package emulators

import (
	"testing"

	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
	"github.com/microcell/microcell/pkg/store"
	"github.com/microcell/microcell/pkg/telemetry"
	"github.com/microcell/microcell/pkg/workcell"
)

func newGantry(t *testing.T) *GantryEmulator {
	t.Helper()
	sm := store.NewStateManager(store.NewMemoryBackend(), telemetry.Nop(), nil)
	return NewGantryEmulator(sm, 0, telemetry.Nop())
}

func newRobot(t *testing.T) *RobotEmulator {
	t.Helper()
	sm := store.NewStateManager(store.NewMemoryBackend(), telemetry.Nop(), nil)
	return NewRobotEmulator(sm, 0, telemetry.Nop())
}

func raiseRequest(s state.State, resource, command string) state.State {
	s = s.MustUpdate(resource+"_command_command", spvalue.String(command))
	s = s.MustUpdate(resource+"_request_trigger", spvalue.Bool(true))
	return s
}

func TestGantryEmulatorHandshake(t *testing.T) {
	e := newGantry(t)
	s := workcell.InitialState()

	// No trigger, no work.
	if next := e.step(s); next.Diff(s).Len() != 0 || s.Diff(next).Len() != 0 {
		t.Error("idle emulator should not touch the state")
	}

	s = raiseRequest(s, "gantry", "lock")
	next := e.step(s)
	if next.GetBoolOrDefaultToFalse("gantry_request_trigger") {
		t.Error("trigger not consumed")
	}
	if got := next.GetStringOrDefaultToUnknown("gantry_request_state"); got != "succeeded" {
		t.Errorf("request state = %q", got)
	}
	if !next.GetBoolOrDefaultToFalse("gantry_locked_estimated") {
		t.Error("lock effect missing")
	}
}

func TestGantryEmulatorMoveUpdatesPosition(t *testing.T) {
	e := newGantry(t)
	s := workcell.InitialState()
	s = s.MustUpdate("gantry_position_command", spvalue.String("home"))
	s = raiseRequest(s, "gantry", "move")

	next := e.step(s)
	if got := next.GetStringOrDefaultToUnknown("gantry_position_estimated"); got != "home" {
		t.Errorf("position = %q", got)
	}
}

func TestGantryEmulatorUnknownCommandFails(t *testing.T) {
	e := newGantry(t)
	s := raiseRequest(workcell.InitialState(), "gantry", "frobnicate")

	next := e.step(s)
	if got := next.GetStringOrDefaultToUnknown("gantry_request_state"); got != "failed" {
		t.Errorf("request state = %q, want failed", got)
	}
	if next.GetIntOrDefaultToZero("gantry_total_fail_counter") != 1 {
		t.Error("total fail counter not bumped")
	}
}

func TestGantryEmulatorForcedFailure(t *testing.T) {
	e := newGantry(t)
	s := workcell.InitialState()
	s = s.MustUpdate("gantry_emulate_failure_rate", spvalue.Int(EmulateFailureAlways))
	s = raiseRequest(s, "gantry", "unlock")

	next := e.step(s)
	if got := next.GetStringOrDefaultToUnknown("gantry_request_state"); got != "failed" {
		t.Errorf("request state = %q, want failed", got)
	}
	if next.GetIntOrDefaultToZero("gantry_subsequent_fail_counter") != 1 {
		t.Error("subsequent fail counter not bumped")
	}

	// A later success clears the subsequent counter but not the total.
	next = next.MustUpdate("gantry_emulate_failure_rate", spvalue.Int(DontEmulateFailure))
	next = next.MustUpdate("gantry_request_state", spvalue.String("initial"))
	next = raiseRequest(next, "gantry", "unlock")
	final := e.step(next)
	if final.GetIntOrDefaultToZero("gantry_subsequent_fail_counter") != 0 {
		t.Error("subsequent fail counter not cleared on success")
	}
	if final.GetIntOrDefaultToZero("gantry_total_fail_counter") != 1 {
		t.Error("total fail counter lost")
	}
}

// A trigger raised while the handshake is not initial is consumed without
// running anything.
func TestGantryEmulatorIgnoresStaleTrigger(t *testing.T) {
	e := newGantry(t)
	s := workcell.InitialState()
	s = s.MustUpdate("gantry_request_state", spvalue.String("succeeded"))
	s = raiseRequest(s, "gantry", "lock")

	next := e.step(s)
	if next.GetBoolOrDefaultToFalse("gantry_request_trigger") {
		t.Error("stale trigger not consumed")
	}
	if got := next.GetStringOrDefaultToUnknown("gantry_request_state"); got != "succeeded" {
		t.Errorf("request state = %q, should be untouched", got)
	}
}

func TestRobotEmulatorCheckMountedTool(t *testing.T) {
	e := newRobot(t)

	// Without emulation the flange reads empty.
	s := raiseRequest(workcell.InitialState(), "robot", "check_mounted_tool")
	next := e.step(s)
	if got := next.GetStringOrDefaultToUnknown("robot_mounted_one_time_measured"); got != "none" {
		t.Errorf("measured = %q, want none", got)
	}

	// With the knob set the emulator reports the configured tool.
	s = workcell.InitialState()
	s = s.MustUpdate("robot_emulate_mounted_tool", spvalue.Bool(true))
	s = s.MustUpdate("robot_emulated_mounted_tool", spvalue.String("gripper_tool"))
	s = raiseRequest(s, "robot", "check_mounted_tool")
	next = e.step(s)
	if got := next.GetStringOrDefaultToUnknown("robot_mounted_one_time_measured"); got != "gripper_tool" {
		t.Errorf("measured = %q, want gripper_tool", got)
	}
}

func TestRobotEmulatorMove(t *testing.T) {
	e := newRobot(t)
	s := workcell.InitialState()
	s = s.MustUpdate("robot_position_command", spvalue.String("a"))
	s = raiseRequest(s, "robot", "move")

	next := e.step(s)
	if got := next.GetStringOrDefaultToUnknown("robot_position_estimated"); got != "a" {
		t.Errorf("position = %q", got)
	}
	if got := next.GetStringOrDefaultToUnknown("robot_request_state"); got != "succeeded" {
		t.Errorf("request state = %q", got)
	}
}

func TestEmulationKnobs(t *testing.T) {
	always := request{EmulateFailureRate: EmulateFailureAlways}
	if !always.shouldFail() {
		t.Error("EmulateFailureAlways should fail")
	}
	never := request{EmulateFailureRate: DontEmulateFailure}
	if never.shouldFail() {
		t.Error("DontEmulateFailure should not fail")
	}

	exact := request{EmulateExecutionTime: EmulateExactExecutionTime, EmulatedExecutionTime: 40}
	if exact.delay().Milliseconds() != 40 {
		t.Error("exact delay broken")
	}
	none := request{EmulateExecutionTime: DontEmulateExecutionTime, EmulatedExecutionTime: 40}
	if none.delay() != 0 {
		t.Error("disabled delay should be zero")
	}

	cause := request{
		EmulateFailureCause:  EmulateExactFailureCause,
		EmulatedFailureCause: []string{"violation", "collision"},
	}
	if cause.cause() != "violation" {
		t.Error("exact cause should pick the first entry")
	}
	generic := request{EmulateFailureCause: DontEmulateFailureCause}
	if generic.cause() != "generic_failure" {
		t.Error("generic cause broken")
	}
}
