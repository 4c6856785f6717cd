package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/microcell/microcell/pkg/model"
	"github.com/microcell/microcell/pkg/state"
	"github.com/microcell/microcell/pkg/store"
	"github.com/microcell/microcell/pkg/telemetry"
)

// TickPeriods holds the cadence of every engine.
type TickPeriods struct {
	Goal  time.Duration
	Plan  time.Duration
	Auto  time.Duration
	SOP   time.Duration
	Timer time.Duration
}

// DefaultTickPeriods is a 100 ms cadence for the reactive engines and 250 ms
// for goal management.
func DefaultTickPeriods() TickPeriods {
	return TickPeriods{
		Goal:  250 * time.Millisecond,
		Plan:  100 * time.Millisecond,
		Auto:  100 * time.Millisecond,
		SOP:   100 * time.Millisecond,
		Timer: 100 * time.Millisecond,
	}
}

// Options configures an Orchestrator.
type Options struct {
	Ticks           TickPeriods
	PlannerMaxDepth int
	NumTimers       int
	Metrics         *telemetry.Metrics
	Sink            EventSink
}

// Orchestrator wires the engines of one model into a single runnable unit.
// Every engine is an independent goroutine that communicates with the others
// only through the shared state.
type Orchestrator struct {
	model model.Model
	sm    *store.StateManager
	log   *telemetry.Logger
	opts  Options

	goal  *GoalRunner
	plan  *PlanRunner
	auto  *AutoRunner
	sop   *SOPRunner
	timer *TimerRunner
}

// NewOrchestrator builds all engines.
func NewOrchestrator(m model.Model, sm *store.StateManager, log *telemetry.Logger, opts Options) *Orchestrator {
	if log == nil {
		log = telemetry.Nop()
	}
	if opts.Ticks == (TickPeriods{}) {
		opts.Ticks = DefaultTickPeriods()
	}
	if opts.PlannerMaxDepth <= 0 {
		opts.PlannerMaxDepth = 30
	}
	if opts.NumTimers <= 0 {
		opts.NumTimers = 1
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	return &Orchestrator{
		model: m,
		sm:    sm,
		log:   log.NewComponentLogger("orchestrator"),
		opts:  opts,
		goal:  NewGoalRunner(m, sm, opts.Ticks.Goal, opts.PlannerMaxDepth, log, opts.Metrics, opts.Sink),
		plan:  NewPlanRunner(m, sm, opts.Ticks.Plan, log, opts.Metrics, opts.Sink),
		auto:  NewAutoRunner(m, sm, opts.Ticks.Auto, log, opts.Metrics, opts.Sink),
		sop:   NewSOPRunner(m, sm, opts.Ticks.SOP, log, opts.Metrics, opts.Sink),
		timer: NewTimerRunner(m.SPID, opts.NumTimers, sm, opts.Ticks.Timer, log, opts.Metrics),
	}
}

// InstallModel validates the model against the initial state and writes the
// merged initial, runner and operation variables into the store. A malformed
// model refuses to boot.
func InstallModel(ctx context.Context, sm *store.StateManager, m model.Model, initial state.State, numTimers int) (state.State, error) {
	if err := m.Validate(); err != nil {
		return state.New(), fmt.Errorf("invalid model: %w", err)
	}
	full := initial.
		Extend(model.GenerateRunnerVariables(m.SPID, numTimers), true).
		Extend(model.GenerateOperationVariables(m), true)
	if err := m.CheckVars(full); err != nil {
		return state.New(), fmt.Errorf("invalid model: %w", err)
	}
	sm.SetPartialState(ctx, full)
	if healthy, lastErr := sm.Health(); !healthy {
		return state.New(), fmt.Errorf("state backend unavailable at install: %w", lastErr)
	}
	return full, nil
}

// Run installs nothing; it assumes InstallModel ran, spawns every engine and
// blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.log.Infof("starting engines for model %s", o.model.SPID)
	var wg sync.WaitGroup
	for _, run := range []func(context.Context){
		o.goal.Run, o.plan.Run, o.auto.Run, o.sop.Run, o.timer.Run,
	} {
		wg.Add(1)
		go func(f func(context.Context)) {
			defer wg.Done()
			f(ctx)
		}(run)
	}
	wg.Wait()
	o.log.Info("all engines stopped")
}

// ScheduleGoal appends a goal record to the schedule through the store. The
// goal runner picks it up on its next tick.
func ScheduleGoal(ctx context.Context, sm *store.StateManager, spID string, g Goal) error {
	k := model.RunnerKeys{SPID: spID}
	a, ok := sm.GetValue(ctx, k.ScheduledGoals())
	if !ok {
		return fmt.Errorf("state backend unavailable")
	}
	goals := append(GoalsFromValue(a.Value), g)
	partial := state.New().Add(k.ScheduledGoals(), state.Assignment{
		Value: GoalsToValue(goals),
		Meta:  state.Metadata{Lifetime: state.LifetimeRunner},
	})
	sm.SetPartialState(ctx, partial)
	if healthy, lastErr := sm.Health(); !healthy {
		return fmt.Errorf("state backend unavailable: %w", lastErr)
	}
	return nil
}
