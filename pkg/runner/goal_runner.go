package runner

import (
	"context"
	"time"

	"github.com/microcell/microcell/pkg/lang"
	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/opsm"
	"github.com/microcell/microcell/pkg/planner"
	"github.com/microcell/microcell/pkg/spvalue"
	"github.com/microcell/microcell/pkg/state"
	"github.com/microcell/microcell/pkg/store"
	"github.com/microcell/microcell/pkg/telemetry"
)

// GoalRunner owns the goal queue and the planner. Each tick it pops or
// preempts goals, and when the replan trigger is set it resets the
// operations, invokes the planner and publishes the plan.
type GoalRunner struct {
	engine
	model    model.Model
	maxDepth int
}

// NewGoalRunner assembles the goal engine.
func NewGoalRunner(m model.Model, sm *store.StateManager, period time.Duration, maxDepth int, log *telemetry.Logger, metrics *telemetry.Metrics, sink EventSink) *GoalRunner {
	if maxDepth <= 0 {
		maxDepth = 30
	}
	return &GoalRunner{
		engine:   newEngine("goal_runner", period, sm, m.SPID, log, metrics, sink),
		model:    m,
		maxDepth: maxDepth,
	}
}

// Run ticks until ctx is cancelled.
func (r *GoalRunner) Run(ctx context.Context) {
	r.runLoop(ctx, r.tick)
}

func (r *GoalRunner) tick(ctx context.Context) {
	s, ok := r.snapshot(ctx)
	if !ok {
		return
	}
	next, events := r.step(s, time.Now())
	r.commit(ctx, s, next, events)
}

// step is the pure tick body, separated for tests.
func (r *GoalRunner) step(s state.State, now time.Time) (state.State, int) {
	k := r.keys
	events := 0

	goalState := model.GoalStateFromString(s.GetStringOrDefaultToUnknown(k.CurrentGoalState()))
	scheduled := GoalsFromValue(s.Value(k.ScheduledGoals()))
	if r.metrics != nil {
		r.metrics.SetGoalsScheduled(len(scheduled))
	}

	// Preemption: a strictly higher-priority goal displaces a non-terminal
	// current goal, which returns to the head of the schedule.
	if !goalState.Terminal() {
		current := Priority(s.GetIntOrDefaultToZero(k.CurrentGoalPriority()))
		if len(scheduled) > 0 && maxPriority(scheduled) > current {
			preempted := Goal{
				ID:        s.GetStringOrDefaultToUnknown(k.CurrentGoalID()),
				Predicate: s.GetStringOrDefaultToUnknown(k.CurrentGoalPredicate()),
				Priority:  current,
				CreatedAt: now.UTC(),
			}
			picked, rest, _ := popHighest(scheduled)
			r.log.WithGoal(picked.ID).Warnf("preempting goal %s with %s priority goal", preempted.ID, picked.Priority)
			s = r.clearPlan(s)
			var ev int
			s, ev = r.resetOperations(s, now)
			events += ev
			s = r.setCurrentGoal(s, picked)
			s = s.MustUpdate(k.ScheduledGoals(), GoalsToValue(append([]Goal{preempted}, rest...)))
			return s, events
		}
	}

	// Pop the next goal once the current one is terminal.
	if goalState.Terminal() {
		if picked, rest, ok := popHighest(scheduled); ok {
			r.log.WithGoal(picked.ID).Infof("goal %q scheduled for execution", picked.Predicate)
			r.sink.AppendGoalEvent(context.Background(), picked.ID, string(goalState), string(model.GoalStatePlanning), picked.Predicate)
			s = r.clearPlan(s)
			s = r.setCurrentGoal(s, picked)
			s = s.MustUpdate(k.ScheduledGoals(), GoalsToValue(rest))
			return s, events
		}
	}

	// Replan handling.
	replan := s.GetBoolOrDefaultToFalse(k.ReplanTrigger())
	replanned := s.GetBoolOrDefaultToFalse(k.Replanned())
	switch {
	case replan && replanned:
		s = s.MustUpdate(k.ReplanTrigger(), spvalue.Bool(false))
		s = s.MustUpdate(k.Replanned(), spvalue.Bool(false))
	case replan && !replanned:
		s, events = r.plan(s, now, events)
	}

	return s, events
}

func (r *GoalRunner) plan(s state.State, now time.Time, events int) (state.State, int) {
	k := r.keys
	goalText := s.GetStringOrDefaultToUnknown(k.CurrentGoalPredicate())
	goal, err := lang.ParsePredicate(goalText)
	if err != nil {
		// A malformed goal cannot ever complete; fail it rather than loop.
		r.log.WithError(err).Errorf("cannot parse goal predicate %q", goalText)
		s = s.MustUpdate(k.CurrentGoalState(), spvalue.String(string(model.GoalStateFailed)))
		s = s.MustUpdate(k.ReplanTrigger(), spvalue.Bool(false))
		if r.metrics != nil {
			r.metrics.GoalFinished(string(model.GoalStateFailed))
		}
		return s, events
	}

	s = s.MustUpdate(k.PlanState(), spvalue.String(string(model.PlanStatePlanning)))
	s = s.MustUpdate(k.CurrentGoalState(), spvalue.String(string(model.GoalStatePlanning)))

	// Operations and their budgets reset before every replan.
	s, ev := r.resetOperations(s, now)
	events += ev
	s = s.MustUpdate(k.ReplanCounter(), spvalue.Int(s.GetIntOrDefaultToZero(k.ReplanCounter())+1))

	started := time.Now()
	result := planner.Plan(s, goal, r.model.Operations, r.maxDepth)
	elapsed := time.Since(started).Seconds()
	if r.metrics != nil {
		r.metrics.Replan()
	}

	s = s.MustUpdate(k.Replanned(), spvalue.Bool(true))
	switch {
	case !result.Found:
		r.log.Warnf("no plan found for goal %q", goalText)
		if r.metrics != nil {
			r.metrics.PlanComputed("not_found", 0, elapsed)
			r.metrics.GoalFinished(string(model.GoalStateFailed))
		}
		s = s.MustUpdate(k.Plan(), spvalue.Unknown(spvalue.KindArray))
		s = s.MustUpdate(k.PlanCurrentStep(), spvalue.Unknown(spvalue.KindInt))
		s = s.MustUpdate(k.PlanInfo(), spvalue.String("No plan found."))
		s = s.MustUpdate(k.PlanState(), spvalue.String(string(model.PlanStateFailed)))
		s = s.MustUpdate(k.CurrentGoalState(), spvalue.String(string(model.GoalStateFailed)))
	case result.Length == 0:
		r.log.Info("already in the goal")
		if r.metrics != nil {
			r.metrics.PlanComputed("already_in_goal", 0, elapsed)
			r.metrics.GoalFinished(string(model.GoalStateCompleted))
		}
		s = s.MustUpdate(k.Plan(), spvalue.Unknown(spvalue.KindArray))
		s = s.MustUpdate(k.PlanCurrentStep(), spvalue.Unknown(spvalue.KindInt))
		s = s.MustUpdate(k.PlanInfo(), spvalue.String("Already in the goal."))
		s = s.MustUpdate(k.PlanState(), spvalue.String(string(model.PlanStateDone)))
		s = s.MustUpdate(k.CurrentGoalState(), spvalue.String(string(model.GoalStateCompleted)))
	default:
		r.log.Infof("new plan of length %d: %v", result.Length, result.Plan)
		if r.metrics != nil {
			r.metrics.PlanComputed("found", result.Length, elapsed)
		}
		s = s.MustUpdate(k.Plan(), spvalue.StringArray(result.Plan...))
		s = s.MustUpdate(k.PlanCurrentStep(), spvalue.Int(0))
		s = s.MustUpdate(k.PlanCounter(), spvalue.Int(s.GetIntOrDefaultToZero(k.PlanCounter())+1))
		s = s.MustUpdate(k.PlanInfo(), spvalue.String("A new plan was found."))
		s = s.MustUpdate(k.PlanState(), spvalue.String(string(model.PlanStateReady)))
		s = s.MustUpdate(k.CurrentGoalState(), spvalue.String(string(model.GoalStateExecuting)))
	}
	return s, events
}

func (r *GoalRunner) setCurrentGoal(s state.State, g Goal) state.State {
	k := r.keys
	s = s.MustUpdate(k.CurrentGoalID(), spvalue.String(g.ID))
	s = s.MustUpdate(k.CurrentGoalPredicate(), spvalue.String(g.Predicate))
	s = s.MustUpdate(k.CurrentGoalPriority(), spvalue.Int(int64(g.Priority)))
	s = s.MustUpdate(k.CurrentGoalState(), spvalue.String(string(model.GoalStatePlanning)))
	s = s.MustUpdate(k.ReplanTrigger(), spvalue.Bool(true))
	s = s.MustUpdate(k.Replanned(), spvalue.Bool(false))
	return s
}

func (r *GoalRunner) clearPlan(s state.State) state.State {
	k := r.keys
	s = s.MustUpdate(k.Plan(), spvalue.Unknown(spvalue.KindArray))
	s = s.MustUpdate(k.PlanCurrentStep(), spvalue.Unknown(spvalue.KindInt))
	s = s.MustUpdate(k.PlanState(), spvalue.String(string(model.PlanStateInitial)))
	return s
}

func (r *GoalRunner) resetOperations(s state.State, now time.Time) (state.State, int) {
	events := 0
	for _, op := range r.model.Operations {
		var evs []opsm.Event
		s, evs = opsm.Reset(op, s, now)
		events += len(evs)
	}
	return s, events
}
