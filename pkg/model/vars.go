package model

import (
	"fmt"

	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
)

// RunnerKeys derives the well-known runner variable names for one
// orchestrator instance (sp id). Operators and external tools read these.
type RunnerKeys struct {
	SPID string
}

func (k RunnerKeys) CurrentGoalID() string        { return k.SPID + "_current_goal_id" }
func (k RunnerKeys) CurrentGoalPredicate() string { return k.SPID + "_current_goal_predicate" }
func (k RunnerKeys) CurrentGoalState() string     { return k.SPID + "_current_goal_state" }
func (k RunnerKeys) CurrentGoalPriority() string  { return k.SPID + "_current_goal_priority" }
func (k RunnerKeys) ScheduledGoals() string       { return k.SPID + "_scheduled_goals" }
func (k RunnerKeys) ReplanTrigger() string        { return k.SPID + "_replan_trigger" }
func (k RunnerKeys) Replanned() string            { return k.SPID + "_replanned" }
func (k RunnerKeys) Plan() string                 { return k.SPID + "_plan" }
func (k RunnerKeys) PlanState() string            { return k.SPID + "_plan_state" }
func (k RunnerKeys) PlanCurrentStep() string      { return k.SPID + "_plan_current_step" }
func (k RunnerKeys) PlanInfo() string             { return k.SPID + "_plan_info" }
func (k RunnerKeys) PlanCounter() string          { return k.SPID + "_plan_counter" }
func (k RunnerKeys) ReplanCounter() string        { return k.SPID + "_replan_counter" }
func (k RunnerKeys) Generation() string           { return k.SPID + "_generation" }

func (k RunnerKeys) SOPEnabled() string { return k.SPID + "_sop_enabled" }
func (k RunnerKeys) SOPState() string   { return k.SPID + "_sop_state" }
func (k RunnerKeys) SOPID() string      { return k.SPID + "_sop_id" }

func (k RunnerKeys) LoggerPlannedOperations() string   { return k.SPID + "_logger_planned_operations" }
func (k RunnerKeys) LoggerAutomaticOperations() string { return k.SPID + "_logger_automatic_operations" }
func (k RunnerKeys) LoggerAutomaticTransitions() string {
	return k.SPID + "_logger_automatic_transitions"
}
func (k RunnerKeys) LoggerSOPOperations() string    { return k.SPID + "_logger_sop_operations" }
func (k RunnerKeys) LoggerSOPOperationsAgg() string { return k.SPID + "_logger_sop_operations_agg" }

func (k RunnerKeys) TakenAutoCounter(transition string) string {
	return k.SPID + "_taken_auto_" + transition
}

// Timer variable names for timer id (1-based).
func (k RunnerKeys) TimerRequestTrigger(id int) string {
	return fmt.Sprintf("%s_timer_%d_request_trigger", k.SPID, id)
}
func (k RunnerKeys) TimerRequestState(id int) string {
	return fmt.Sprintf("%s_timer_%d_request_state", k.SPID, id)
}
func (k RunnerKeys) TimerDurationMs(id int) string {
	return fmt.Sprintf("%s_timer_%d_duration_ms", k.SPID, id)
}
func (k RunnerKeys) TimerCommand(id int) string {
	return fmt.Sprintf("%s_timer_%d_command", k.SPID, id)
}
func (k RunnerKeys) TimerDeadline(id int) string {
	return fmt.Sprintf("%s_timer_%d_deadline", k.SPID, id)
}

// Service request states shared by timers and resource drivers.
const (
	RequestInitial   = "initial"
	RequestExecuting = "executing"
	RequestSucceeded = "succeeded"
	RequestFailed    = "failed"
)

// GenerateRunnerVariables produces the runner bookkeeping variables for one
// orchestrator instance, including numTimers timer handshakes. All are
// runner-lifetime and must be installed before any engine starts.
func GenerateRunnerVariables(spID string, numTimers int) state.State {
	k := RunnerKeys{SPID: spID}
	s := state.New()
	runner := func(key string, v spvalue.Value) {
		s = s.Add(key, state.Assignment{Value: v, Meta: state.Metadata{Lifetime: state.LifetimeRunner}})
	}

	runner(k.CurrentGoalID(), spvalue.Unknown(spvalue.KindString))
	runner(k.CurrentGoalPredicate(), spvalue.Unknown(spvalue.KindString))
	runner(k.CurrentGoalState(), spvalue.String(string(GoalStateInitial)))
	runner(k.CurrentGoalPriority(), spvalue.Int(0))
	runner(k.ScheduledGoals(), spvalue.Array())
	runner(k.ReplanTrigger(), spvalue.Bool(false))
	runner(k.Replanned(), spvalue.Bool(false))
	runner(k.Plan(), spvalue.Unknown(spvalue.KindArray))
	runner(k.PlanState(), spvalue.String(string(PlanStateInitial)))
	runner(k.PlanCurrentStep(), spvalue.Unknown(spvalue.KindInt))
	runner(k.PlanInfo(), spvalue.Unknown(spvalue.KindString))
	runner(k.PlanCounter(), spvalue.Int(0))
	runner(k.ReplanCounter(), spvalue.Int(0))
	runner(k.Generation(), spvalue.Int(0))

	runner(k.SOPEnabled(), spvalue.Bool(false))
	runner(k.SOPState(), spvalue.String(string(SOPStatusInitial)))
	runner(k.SOPID(), spvalue.Unknown(spvalue.KindString))

	runner(k.LoggerPlannedOperations(), spvalue.Unknown(spvalue.KindString))
	runner(k.LoggerAutomaticOperations(), spvalue.Unknown(spvalue.KindString))
	runner(k.LoggerAutomaticTransitions(), spvalue.Unknown(spvalue.KindString))
	runner(k.LoggerSOPOperations(), spvalue.Unknown(spvalue.KindString))
	runner(k.LoggerSOPOperationsAgg(), spvalue.Unknown(spvalue.KindString))

	for id := 1; id <= numTimers; id++ {
		runner(k.TimerRequestTrigger(id), spvalue.Bool(false))
		runner(k.TimerRequestState(id), spvalue.String(RequestInitial))
		runner(k.TimerDurationMs(id), spvalue.Int(0))
		runner(k.TimerCommand(id), spvalue.Unknown(spvalue.KindString))
		runner(k.TimerDeadline(id), spvalue.Unknown(spvalue.KindTime))
	}

	return s
}

// GenerateOperationVariables produces the derived per-operation variables
// for every operation in the model.
func GenerateOperationVariables(m Model) state.State {
	s := state.New()
	runner := func(key string, v spvalue.Value) {
		s = s.Add(key, state.Assignment{Value: v, Meta: state.Metadata{Lifetime: state.LifetimeRunner}})
	}
	for _, op := range m.AllOperations() {
		runner(op.StateKey(), spvalue.String(string(OpInitial)))
		runner(op.StartTimeKey(), spvalue.Unknown(spvalue.KindTime))
		runner(op.RetryCounterKey(), spvalue.Int(0))
		runner(op.TimeoutRetryCounterKey(), spvalue.Int(0))
		runner(op.LastEventKey(), spvalue.Unknown(spvalue.KindString))
		for _, event := range []string{"disabled", "executing", "completed", "failed", "timedout"} {
			runner(op.InfoCounterKey(event), spvalue.Int(0))
		}
	}
	for _, t := range m.AutoTransitions {
		runner(RunnerKeys{SPID: m.SPID}.TakenAutoCounter(t.Name), spvalue.Int(0))
	}
	return s
}

// GoalState is the life cycle of the current goal.
type GoalState string

const (
	GoalStateInitial   GoalState = "initial"
	GoalStatePlanning  GoalState = "planning"
	GoalStateExecuting GoalState = "executing"
	GoalStateCompleted GoalState = "completed"
	GoalStateFailed    GoalState = "failed"
)

// GoalStateFromString maps a state value to a GoalState; anything
// unrecognized reads as initial (and is therefore terminal for scheduling).
func GoalStateFromString(s string) GoalState {
	switch GoalState(s) {
	case GoalStatePlanning, GoalStateExecuting, GoalStateCompleted, GoalStateFailed:
		return GoalState(s)
	default:
		return GoalStateInitial
	}
}

// Terminal reports whether the goal runner may pop the next scheduled goal.
func (g GoalState) Terminal() bool {
	switch g {
	case GoalStateInitial, GoalStateCompleted, GoalStateFailed:
		return true
	}
	return false
}

// PlanState is the life cycle of the current plan.
type PlanState string

const (
	PlanStateInitial   PlanState = "initial"
	PlanStatePlanning  PlanState = "planning"
	PlanStateReady     PlanState = "ready"
	PlanStateExecuting PlanState = "executing"
	PlanStateDone      PlanState = "done"
	PlanStateFailed    PlanState = "failed"
)
