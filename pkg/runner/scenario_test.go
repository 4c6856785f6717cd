package runner

import (
	"testing"
	"time"

	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/opsm"
	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
	"github.com/microcell/microcell/pkg/store"
	"github.com/microcell/microcell/pkg/telemetry"
	"github.com/microcell/microcell/pkg/workcell"
)

const spID = "cell"

// cell drives every engine synchronously against an in-memory state with a
// mock clock and a scripted driver, which keeps the scenarios deterministic.
type cell struct {
	t      *testing.T
	m      model.Model
	s      state.State
	now    time.Time
	goal   *GoalRunner
	plan   *PlanRunner
	auto   *AutoRunner
	sop    *SOPRunner
	timer  *TimerRunner
	events []opsm.Event
}

func newCell(t *testing.T, m model.Model, initial state.State) *cell {
	t.Helper()
	if err := m.Validate(); err != nil {
		t.Fatalf("invalid model: %v", err)
	}
	full := initial.
		Extend(model.GenerateRunnerVariables(m.SPID, 3), true).
		Extend(model.GenerateOperationVariables(m), true)
	if err := m.CheckVars(full); err != nil {
		t.Fatalf("model references undeclared variables: %v", err)
	}

	sm := store.NewStateManager(store.NewMemoryBackend(), telemetry.Nop(), nil)
	log := telemetry.Nop()
	return &cell{
		t:     t,
		m:     m,
		s:     full,
		now:   time.Unix(1_700_000_000, 0),
		goal:  NewGoalRunner(m, sm, time.Millisecond, 30, log, nil, nil),
		plan:  NewPlanRunner(m, sm, time.Millisecond, log, nil, nil),
		auto:  NewAutoRunner(m, sm, time.Millisecond, log, nil, nil),
		sop:   NewSOPRunner(m, sm, time.Millisecond, log, nil, nil),
		timer: NewTimerRunner(m.SPID, 3, sm, time.Millisecond, log, nil),
	}
}

// driver scripts a resource's answer to a consumed request.
type driver func(s state.State, now time.Time) state.State

// tick advances every engine and the driver once, moving the clock 100 ms.
func (c *cell) tick(d driver) {
	c.t.Helper()
	var events []opsm.Event
	c.s, _ = c.goal.step(c.s, c.now)
	c.s, events = c.plan.step(c.s, c.now)
	c.events = append(c.events, events...)
	c.s, events, _ = c.auto.step(c.s, c.now)
	c.events = append(c.events, events...)
	c.s, events = c.sop.step(c.s, c.now)
	c.events = append(c.events, events...)
	c.s = c.timer.step(c.s, c.now)
	if d != nil {
		c.s = d(c.s, c.now)
	}
	c.now = c.now.Add(100 * time.Millisecond)
}

// runUntil ticks until cond holds or the tick budget is spent.
func (c *cell) runUntil(d driver, maxTicks int, cond func(state.State) bool) bool {
	c.t.Helper()
	for i := 0; i < maxTicks; i++ {
		if cond(c.s) {
			return true
		}
		c.tick(d)
	}
	return cond(c.s)
}

func (c *cell) schedule(predicate string, priority Priority) Goal {
	c.t.Helper()
	k := model.RunnerKeys{SPID: c.m.SPID}
	g := NewGoal(predicate, priority)
	goals := append(GoalsFromValue(c.s.Value(k.ScheduledGoals())), g)
	c.s = c.s.MustUpdate(k.ScheduledGoals(), GoalsToValue(goals))
	return g
}

func (c *cell) goalState() model.GoalState {
	k := model.RunnerKeys{SPID: c.m.SPID}
	return model.GoalStateFromString(c.s.GetStringOrDefaultToUnknown(k.CurrentGoalState()))
}

// gantryDriver answers gantry requests; outcomes is consulted per command,
// defaulting to success.
func gantryDriver(outcomes map[string]string) driver {
	return resourceDriver("gantry", outcomes, nil)
}

// resourceDriver emulates a driver for one resource. The onSuccess hook
// applies resource-specific measured effects.
func resourceDriver(name string, outcomes map[string]string, onSuccess func(s state.State, command, position string) state.State) driver {
	return func(s state.State, now time.Time) state.State {
		if !s.GetBoolOrDefaultToFalse(name + "_request_trigger") {
			return s
		}
		if s.GetStringOrDefaultToUnknown(name+"_request_state") != "initial" {
			return s.MustUpdate(name+"_request_trigger", spvalue.Bool(false))
		}
		command := s.GetStringOrDefaultToUnknown(name + "_command_command")
		position := s.GetStringOrDefaultToUnknown(name + "_position_command")

		s = s.MustUpdate(name+"_request_trigger", spvalue.Bool(false))
		outcome := "succeeded"
		if o, ok := outcomes[command]; ok {
			outcome = o
		}
		switch outcome {
		case "failed":
			s = s.MustUpdate(name+"_request_state", spvalue.String("failed"))
		case "silent":
			// Never answers; the request stays pending.
			s = s.MustUpdate(name+"_request_trigger", spvalue.Bool(true))
		default:
			if onSuccess != nil {
				s = onSuccess(s, command, position)
			}
			s = s.MustUpdate(name+"_request_state", spvalue.String("succeeded"))
		}
		return s
	}
}

// combine runs several drivers in order.
func combine(ds ...driver) driver {
	return func(s state.State, now time.Time) state.State {
		for _, d := range ds {
			s = d(s, now)
		}
		return s
	}
}

// gantryState declares the gantry handshake variables used by the
// scenarios.
func gantryState(locked bool) state.State {
	s := workcell.GenerateResourceVariables("gantry")
	add := func(key string, v spvalue.Value) {
		s = s.Add(key, state.Assignment{Value: v, Meta: state.Metadata{Lifetime: state.LifetimeEstimated}})
	}
	add("gantry_command_command", spvalue.Unknown(spvalue.KindString))
	add("gantry_speed_command", spvalue.Float(0))
	add("gantry_position_command", spvalue.Unknown(spvalue.KindString))
	add("gantry_position_estimated", spvalue.Unknown(spvalue.KindString))
	add("gantry_calibrated_estimated", spvalue.Bool(true))
	add("gantry_locked_estimated", spvalue.Bool(locked))
	return s
}

// S1: single operation, nominal path.
func TestScenarioSingleOperationNominal(t *testing.T) {
	m := model.New(spID, nil, nil, nil, []model.Operation{
		workcell.GantryUnlock(workcell.OpSettings{}),
	})
	c := newCell(t, m, gantryState(true))
	c.schedule("var:gantry_locked_estimated == false", PriorityNormal)

	ok := c.runUntil(gantryDriver(nil), 100, func(s state.State) bool {
		return c.goalState() == model.GoalStateCompleted
	})
	if !ok {
		t.Fatalf("goal never completed; state %s", c.goalState())
	}
	if c.s.GetBoolOrDefaultToFalse("gantry_locked_estimated") {
		t.Error("gantry still locked")
	}

	op, _ := m.Operation("gantry_unlock")
	if got := opsm.CurrentState(op, c.s); got != model.OpCompleted {
		t.Errorf("operation state = %s, want completed", got)
	}

	// The recorded trace walks Initial -> Executing -> Completed.
	var states []model.OpState
	for _, ev := range c.events {
		if ev.Operation == "gantry_unlock" && ev.From != ev.To {
			states = append(states, ev.To)
		}
	}
	want := []model.OpState{model.OpExecuting, model.OpCompleted}
	if len(states) != len(want) {
		t.Fatalf("trace = %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("trace[%d] = %s, want %s", i, states[i], want[i])
		}
	}
}

// S2: failure retries exhausted, then the bypass completes the goal.
func TestScenarioFailureRetryThenBypass(t *testing.T) {
	unlock := workcell.GantryUnlock(workcell.OpSettings{
		Retries:       2,
		WithFail:      true,
		BypassActions: []string{"var:gantry_locked_estimated <- false"},
	})
	m := model.New(spID, nil, nil, nil, []model.Operation{unlock})
	c := newCell(t, m, gantryState(true))
	c.schedule("var:gantry_locked_estimated == false", PriorityNormal)

	failing := gantryDriver(map[string]string{"unlock": "failed"})
	ok := c.runUntil(failing, 200, func(s state.State) bool {
		return c.goalState() == model.GoalStateCompleted
	})
	if !ok {
		t.Fatalf("goal never completed; state %s", c.goalState())
	}

	op, _ := m.Operation("gantry_unlock")
	if got := opsm.CurrentState(op, c.s); got != model.OpBypassed {
		t.Errorf("operation state = %s, want bypassed", got)
	}
	if got := c.s.GetIntOrDefaultToZero(op.RetryCounterKey()); got != 3 {
		t.Errorf("retry counter = %d, want 3 (initial try + two retries)", got)
	}
	if c.s.GetBoolOrDefaultToFalse("gantry_locked_estimated") {
		t.Error("bypass should have recorded the unlocked estimate")
	}

	// Retry counter never exceeded retries+1 along the way.
	failures := 0
	for _, ev := range c.events {
		if ev.Operation == "gantry_unlock" && ev.To == model.OpFailed {
			failures++
		}
	}
	if failures != 3 {
		t.Errorf("observed %d failures, want 3", failures)
	}
}

// S3: timeout retries exhausted escalate to fatal and fail the goal.
func TestScenarioTimeoutEscalation(t *testing.T) {
	unlock := workcell.GantryUnlock(workcell.OpSettings{
		Timeout:          500 * time.Millisecond,
		TimeoutRetries:   2,
		WithTimeoutReset: true,
	})
	m := model.New(spID, nil, nil, nil, []model.Operation{unlock})
	c := newCell(t, m, gantryState(true))
	c.schedule("var:gantry_locked_estimated == false", PriorityNormal)

	silent := gantryDriver(map[string]string{"unlock": "silent"})
	ok := c.runUntil(silent, 300, func(s state.State) bool {
		return c.goalState() == model.GoalStateFailed
	})
	if !ok {
		t.Fatalf("goal never failed; state %s", c.goalState())
	}

	timeouts := 0
	for _, ev := range c.events {
		if ev.Operation == "gantry_unlock" && ev.To == model.OpTimedout {
			timeouts++
		}
	}
	if timeouts != 3 {
		t.Errorf("observed %d timeouts, want 3", timeouts)
	}
}

// robotToolState declares the robot handshake and tool variables.
func robotToolState() state.State {
	s := workcell.GenerateResourceVariables("robot")
	add := func(key string, v spvalue.Value) {
		s = s.Add(key, state.Assignment{Value: v, Meta: state.Metadata{Lifetime: state.LifetimeEstimated}})
	}
	add("robot_command_command", spvalue.Unknown(spvalue.KindString))
	add("robot_speed_command", spvalue.Float(0))
	add("robot_position_command", spvalue.Unknown(spvalue.KindString))
	add("robot_position_estimated", spvalue.String("a"))
	add("robot_mounted_estimated", spvalue.Unknown(spvalue.KindString))
	add("robot_mounted_checked", spvalue.Bool(false))
	add("robot_mounted_one_time_measured", spvalue.Unknown(spvalue.KindString))
	add("gantry_locked_estimated", spvalue.Bool(true))
	add("gantry_calibrated_estimated", spvalue.Bool(true))
	return s
}

// S4: the mounted-tool check contradicts the plan; the runner replans
// through a tool change.
func TestScenarioReplanOnDivergence(t *testing.T) {
	var ops []model.Operation
	for _, pos := range []string{"gripper_tool_rack", "suction_tool_rack"} {
		ops = append(ops, workcell.RobotMoveTo(pos, workcell.OpSettings{}))
	}
	for _, tool := range workcell.Tools {
		ops = append(ops,
			workcell.RobotCheckMounted(spID, tool, workcell.OpSettings{}),
			workcell.RobotMount(tool, workcell.OpSettings{}),
			workcell.RobotUnmount(tool, workcell.OpSettings{}),
		)
	}
	m := model.New(spID, nil, nil, nil, ops)
	c := newCell(t, m, robotToolState())
	c.schedule("var:robot_mounted_estimated == suction_tool", PriorityNormal)

	// The measurement reports a gripper tool where the plan hoped for the
	// suction tool (or nothing).
	robot := resourceDriver("robot", nil, func(s state.State, command, position string) state.State {
		switch command {
		case "move":
			return s.MustUpdate("robot_position_estimated", spvalue.String(position))
		case "check_mounted_tool":
			return s.MustUpdate("robot_mounted_one_time_measured", spvalue.String("gripper_tool"))
		}
		return s
	})

	ok := c.runUntil(robot, 400, func(s state.State) bool {
		return c.goalState() == model.GoalStateCompleted
	})
	if !ok {
		t.Fatalf("goal never completed; state %s, info %q",
			c.goalState(), c.s.GetStringOrDefaultToUnknown(spID+"_plan_info"))
	}

	if got := c.s.GetStringOrDefaultToUnknown("robot_mounted_estimated"); got != "suction_tool" {
		t.Errorf("mounted = %q, want suction_tool", got)
	}
	// The surprise forced at least a second planning round.
	k := model.RunnerKeys{SPID: spID}
	if got := c.s.GetIntOrDefaultToZero(k.ReplanCounter()); got < 2 {
		t.Errorf("replan counter = %d, want >= 2", got)
	}
	// The recovery path ran the tool change.
	unmount, _ := m.Operation("robot_unmount_gripper_tool")
	if got := opsm.CurrentState(unmount, c.s); got != model.OpCompleted {
		t.Errorf("unmount state = %s, want completed", got)
	}
}

// S5: a parallel SOP moves both resources; the wrapping automatic
// operation completes.
func TestScenarioParallelSOP(t *testing.T) {
	m := model.New(spID, nil,
		[]model.Operation{workcell.DemoAutoOperation(spID)},
		workcell.DemoSOPs(spID),
		nil,
	)
	initial := gantryState(false).
		Extend(robotToolState(), false).
		Extend(workcell.DemoVariables(), true)
	c := newCell(t, m, initial)

	drivers := combine(
		resourceDriver("gantry", nil, func(s state.State, command, position string) state.State {
			if command == "move" {
				return s.MustUpdate("gantry_position_estimated", spvalue.String(position))
			}
			return s
		}),
		resourceDriver("robot", nil, func(s state.State, command, position string) state.State {
			if command == "move" {
				return s.MustUpdate("robot_position_estimated", spvalue.String(position))
			}
			return s
		}),
	)

	ok := c.runUntil(drivers, 200, func(s state.State) bool {
		return s.GetBoolOrDefaultToFalse("sop_demo_done")
	})
	if !ok {
		t.Fatal("sop never completed")
	}

	if got := c.s.GetStringOrDefaultToUnknown("robot_position_estimated"); got != "a" {
		t.Errorf("robot position = %q", got)
	}
	if got := c.s.GetStringOrDefaultToUnknown("gantry_position_estimated"); got != "home" {
		t.Errorf("gantry position = %q", got)
	}

	auto := m.AutoOperations[0]
	if got := opsm.CurrentState(auto, c.s); got != model.OpCompleted {
		t.Errorf("auto operation state = %s, want completed", got)
	}

	// Both leaves ran concurrently: each started before the other one
	// finished.
	started := map[string]int{}
	completed := map[string]int{}
	for i, ev := range c.events {
		if ev.To == model.OpExecuting && ev.From != model.OpExecuting {
			if _, seen := started[ev.Operation]; !seen {
				started[ev.Operation] = i
			}
		}
		if ev.To == model.OpCompleted {
			completed[ev.Operation] = i
		}
	}
	r, g := "sop_robot_move_to_a", "sop_gantry_move_to_home"
	if started[r] > completed[g] || started[g] > completed[r] {
		t.Error("sop children did not run in parallel")
	}
}

// S6: a critical goal preempts the executing normal goal, which then
// resumes and completes.
func TestScenarioPriorityPreemption(t *testing.T) {
	m := model.New(spID, nil, nil, nil, []model.Operation{
		workcell.GantryUnlock(workcell.OpSettings{}),
		workcell.GantryLock(workcell.OpSettings{}),
	})
	c := newCell(t, m, gantryState(true))
	k := model.RunnerKeys{SPID: spID}

	normal := c.schedule("var:gantry_locked_estimated == false", PriorityNormal)

	// A driver that stays quiet keeps the normal goal executing.
	quiet := gantryDriver(map[string]string{"unlock": "silent", "lock": "silent"})
	ok := c.runUntil(quiet, 50, func(s state.State) bool {
		return c.goalState() == model.GoalStateExecuting
	})
	if !ok {
		t.Fatal("normal goal never started executing")
	}

	critical := c.schedule("var:gantry_locked_estimated == true", PriorityCritical)

	// The critical goal takes over.
	ok = c.runUntil(quiet, 50, func(s state.State) bool {
		return s.GetStringOrDefaultToUnknown(k.CurrentGoalID()) == critical.ID
	})
	if !ok {
		t.Fatal("critical goal never became current")
	}
	// The preempted goal sits at the head of the schedule.
	queued := GoalsFromValue(c.s.Value(k.ScheduledGoals()))
	if len(queued) == 0 || queued[0].ID != normal.ID {
		t.Fatalf("preempted goal not rescheduled at head: %+v", queued)
	}

	// With a live driver the critical goal (already satisfied: the gantry
	// is locked) completes, then the normal goal resumes and completes.
	live := gantryDriver(nil)
	ok = c.runUntil(live, 200, func(s state.State) bool {
		return s.GetStringOrDefaultToUnknown(k.CurrentGoalID()) == normal.ID &&
			c.goalState() == model.GoalStateCompleted
	})
	if !ok {
		t.Fatalf("normal goal never resumed and completed; current %q state %s",
			c.s.GetStringOrDefaultToUnknown(k.CurrentGoalID()), c.goalState())
	}
	if c.s.GetBoolOrDefaultToFalse("gantry_locked_estimated") {
		t.Error("normal goal effect missing")
	}
}
