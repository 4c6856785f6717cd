package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/microcell/microcell/pkg/lang"
	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/opsm"
	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
	"github.com/microcell/microcell/pkg/store"
	"github.com/microcell/microcell/pkg/telemetry"
)

// PlanRunner advances the current plan one operation at a time, driving each
// operation's state machine, escalating fatal outcomes to the goal, and
// requesting a replan when the state diverges from what the planner assumed.
type PlanRunner struct {
	engine
	model  model.Model
	tracer *TraceLogger
}

// NewPlanRunner assembles the plan engine.
func NewPlanRunner(m model.Model, sm *store.StateManager, period time.Duration, log *telemetry.Logger, metrics *telemetry.Metrics, sink EventSink) *PlanRunner {
	return &PlanRunner{
		engine: newEngine("plan_runner", period, sm, m.SPID, log, metrics, sink),
		model:  m,
		tracer: NewTraceLogger(5, 4),
	}
}

// Run ticks until ctx is cancelled.
func (r *PlanRunner) Run(ctx context.Context) {
	r.runLoop(ctx, r.tick)
}

func (r *PlanRunner) tick(ctx context.Context) {
	s, ok := r.snapshot(ctx)
	if !ok {
		return
	}
	next, events := r.step(s, time.Now())
	for _, ev := range events {
		r.tracer.Record(ev)
		r.sink.AppendOperationEvent(ctx, "planned", ev)
		if r.metrics != nil {
			r.metrics.OperationEvent(ev.Operation, string(ev.To))
		}
	}
	if serialized, ok := r.tracer.Serialize(); ok {
		next = next.MustUpdate(r.keys.LoggerPlannedOperations(), spvalue.String(serialized))
	}
	r.commit(ctx, s, next, len(events))
}

// step is the pure tick body, separated for tests.
func (r *PlanRunner) step(s state.State, now time.Time) (state.State, []opsm.Event) {
	k := r.keys

	plan := s.GetStringArrayOrDefaultToEmpty(k.Plan())
	if s.Value(k.Plan()).IsUnknown() || len(plan) == 0 {
		return s, nil
	}

	// Goal drift: if the goal already holds there is nothing left to run.
	goalText := s.GetStringOrDefaultToUnknown(k.CurrentGoalPredicate())
	if goal, err := lang.ParsePredicate(goalText); err == nil && goal.Eval(s) {
		return r.finishPlan(s, model.GoalStateCompleted, "The goal is satisfied."), nil
	}

	stepValue := s.Value(k.PlanCurrentStep())
	if stepValue.IsUnknown() {
		return s.MustUpdate(k.PlanCurrentStep(), spvalue.Int(0)), nil
	}
	step := int(stepValue.IntOr(0))

	if step >= len(plan) {
		// The plan is consumed but the goal predicate does not hold (the
		// drift check above would have completed the goal otherwise): the
		// promised effects did not materialize, so plan again.
		r.log.Warn("plan consumed without reaching the goal, requesting replan")
		s = s.MustUpdate(k.Plan(), spvalue.Unknown(spvalue.KindArray))
		s = s.MustUpdate(k.PlanCurrentStep(), spvalue.Unknown(spvalue.KindInt))
		s = s.MustUpdate(k.PlanState(), spvalue.String(string(model.PlanStateInitial)))
		s = s.MustUpdate(k.PlanInfo(), spvalue.String("Plan consumed without reaching the goal."))
		s = s.MustUpdate(k.ReplanTrigger(), spvalue.Bool(true))
		s = s.MustUpdate(k.Replanned(), spvalue.Bool(false))
		return s, nil
	}

	opName := plan[step]
	op, ok := r.model.Operation(opName)
	if !ok {
		r.log.Errorf("plan references unknown operation %q", opName)
		return r.finishPlan(s, model.GoalStateFailed, "Plan references an unknown operation."), nil
	}

	s = s.MustUpdate(k.PlanState(), spvalue.String(string(model.PlanStateExecuting)))

	switch opsm.CurrentState(op, s) {
	case model.OpCompleted, model.OpBypassed:
		// Drift skipped the work, or the previous tick completed it:
		// advance to the first unsatisfied operation.
		s = s.MustUpdate(k.PlanCurrentStep(), spvalue.Int(int64(step+1)))
		s = s.MustUpdate(k.PlanInfo(), spvalue.String(fmt.Sprintf("Completed step %d.", step)))
		return s, nil
	case model.OpFatal:
		r.log.WithOperation(opName).Error("operation is fatal, failing the goal")
		return r.finishPlan(s, model.GoalStateFailed, fmt.Sprintf("Operation %s is fatal.", opName)), nil
	}

	// Divergence: the abstract contract the planner relied on no longer
	// holds for the demanded operation, so the plan cannot make progress.
	// Keep the operation untouched and ask for a replan.
	if opsm.CurrentState(op, s) == model.OpInitial || opsm.CurrentState(op, s) == model.OpDisabled {
		if r.diverged(op, s) {
			r.log.WithOperation(opName).Warn("plan diverged, requesting replan")
			s = s.MustUpdate(k.ReplanTrigger(), spvalue.Bool(true))
			s = s.MustUpdate(k.Replanned(), spvalue.Bool(false))
			s = s.MustUpdate(k.PlanInfo(), spvalue.String(fmt.Sprintf("Plan diverged at %s.", opName)))
			return s, nil
		}
	}

	next, events := opsm.Tick(op, s, now, opsm.Options{MarkDisabled: true})

	switch opsm.CurrentState(op, next) {
	case model.OpCompleted, model.OpBypassed:
		next = next.MustUpdate(k.PlanCurrentStep(), spvalue.Int(int64(step+1)))
		next = next.MustUpdate(k.PlanInfo(), spvalue.String(fmt.Sprintf("Completed step %d.", step)))
	case model.OpDisabled:
		next = next.MustUpdate(k.PlanInfo(), spvalue.String(fmt.Sprintf("Waiting for %s to be enabled.", opName)))
	case model.OpExecuting:
		next = next.MustUpdate(k.PlanInfo(), spvalue.String(fmt.Sprintf("Waiting for %s to complete.", opName)))
	}
	return next, events
}

// diverged reports whether no precondition's planner-side guard holds. A
// false runner guard alone is a resource still getting ready; a false
// planner guard means a measured or estimated value contradicts the plan.
func (r *PlanRunner) diverged(op model.Operation, s state.State) bool {
	for _, pre := range op.Preconditions {
		if pre.EvalPlanning(s) {
			return false
		}
	}
	return true
}

func (r *PlanRunner) finishPlan(s state.State, goalState model.GoalState, info string) state.State {
	k := r.keys
	planState := model.PlanStateDone
	if goalState == model.GoalStateFailed {
		planState = model.PlanStateFailed
	}
	goalID := s.GetStringOrDefaultToUnknown(k.CurrentGoalID())
	r.sink.AppendGoalEvent(context.Background(), goalID, string(model.GoalStateExecuting), string(goalState), info)
	if r.metrics != nil {
		r.metrics.GoalFinished(string(goalState))
	}
	s = s.MustUpdate(k.Plan(), spvalue.Unknown(spvalue.KindArray))
	s = s.MustUpdate(k.PlanCurrentStep(), spvalue.Unknown(spvalue.KindInt))
	s = s.MustUpdate(k.PlanState(), spvalue.String(string(planState)))
	s = s.MustUpdate(k.PlanInfo(), spvalue.String(info))
	s = s.MustUpdate(k.CurrentGoalState(), spvalue.String(string(goalState)))
	return s
}
